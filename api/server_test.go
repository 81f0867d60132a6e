package api

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"seabridge/appliance"
	"seabridge/config"
	"seabridge/engine"
)

// fakeBackend serves fixed readings and records service calls.
type fakeBackend struct {
	started    bool
	tanks      []appliance.TankReading
	batteries  []appliance.BatteryReading
	services   []engine.ServiceStatus
	publishErr error

	mu     sync.Mutex
	calls  []string
	subs   map[int]func(engine.Event)
	nextID int
}

func newFakeBackend() *fakeBackend {
	soc := 0.75
	return &fakeBackend{
		started: true,
		tanks: []appliance.TankReading{
			{Name: "EP_1", Level: 42, Capacity: 200, ValveState: "CLOSED", ModuleID: 1},
		},
		batteries: []appliance.BatteryReading{
			{Name: "GE_TD", Voltage: 12.6, Current: -3.2, StateOfCharge: &soc, HealthLevel: "GREEN", ModuleID: 2},
		},
		services: []engine.ServiceStatus{
			{Kind: engine.ServiceMQTT, Name: "local", Address: "tcp://localhost:1883", Enabled: true, Running: true},
		},
		subs: make(map[int]func(engine.Event)),
	}
}

func (f *fakeBackend) Status() (engine.Status, error) {
	if !f.started {
		return engine.Status{}, engine.ErrNotStarted
	}
	return engine.Status{
		Endpoint:  "ws://192.168.1.1:8888/ws",
		State:     "Open",
		Connected: true,
		Tanks:     len(f.tanks),
		Batteries: len(f.batteries),
	}, nil
}

func (f *fakeBackend) Tanks() ([]appliance.TankReading, error) {
	if !f.started {
		return nil, engine.ErrNotStarted
	}
	return f.tanks, nil
}

func (f *fakeBackend) Tank(name string) (appliance.TankReading, error) {
	for _, t := range f.tanks {
		if t.Name == name {
			return t, nil
		}
	}
	return appliance.TankReading{}, fmt.Errorf("%w: tank '%s'", engine.ErrNotFound, name)
}

func (f *fakeBackend) Batteries() ([]appliance.BatteryReading, error) {
	if !f.started {
		return nil, engine.ErrNotStarted
	}
	return f.batteries, nil
}

func (f *fakeBackend) Battery(name string) (appliance.BatteryReading, error) {
	for _, b := range f.batteries {
		if b.Name == name {
			return b, nil
		}
	}
	return appliance.BatteryReading{}, fmt.Errorf("%w: battery '%s'", engine.ErrNotFound, name)
}

func (f *fakeBackend) Services() []engine.ServiceStatus { return f.services }

func (f *fakeBackend) service(action, kind, name string) error {
	f.mu.Lock()
	f.calls = append(f.calls, action+" "+kind+"/"+name)
	f.mu.Unlock()
	switch {
	case kind != engine.ServiceMQTT:
		return fmt.Errorf("%w: unknown service kind '%s'", engine.ErrInvalidInput, kind)
	case name != "local":
		return fmt.Errorf("%w: MQTT broker '%s'", engine.ErrNotFound, name)
	}
	return nil
}

func (f *fakeBackend) StartService(kind, name string) error { return f.service("start", kind, name) }
func (f *fakeBackend) StopService(kind, name string) error  { return f.service("stop", kind, name) }

func (f *fakeBackend) ForcePublishAll() error {
	if !f.started {
		return engine.ErrNotStarted
	}
	return f.publishErr
}

func (f *fakeBackend) Subscribe(fn func(engine.Event)) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.subs[f.nextID] = fn
	return f.nextID
}

func (f *fakeBackend) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
}

func (f *fakeBackend) emit(ev engine.Event) {
	f.mu.Lock()
	subs := make([]func(engine.Event), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (f *fakeBackend) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func newTestRouter(t *testing.T, b Backend) http.Handler {
	t.Helper()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "seabridge_appliance_connected 1")
	})
	r, cleanup := NewRouter(b, metrics)
	t.Cleanup(cleanup)
	return r
}

func TestServer_IsRunning(t *testing.T) {
	server := NewServer(newFakeBackend(), &config.WebConfig{Host: "127.0.0.1"}, nil)
	if server.IsRunning() {
		t.Error("server should not be running initially")
	}
}

func TestServer_Address(t *testing.T) {
	server := NewServer(newFakeBackend(), &config.WebConfig{Host: "localhost", Port: 9999}, nil)
	if addr := server.Address(); addr != "http://localhost:9999" {
		t.Errorf("expected 'http://localhost:9999', got %s", addr)
	}
}

func TestServer_StartAndStop(t *testing.T) {
	backend := newFakeBackend()
	server := NewServer(backend, &config.WebConfig{Host: "127.0.0.1", Port: 0}, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !server.IsRunning() {
		t.Error("server should be running after Start")
	}
	if err := server.Start(); err != nil {
		t.Errorf("second Start should not error: %v", err)
	}
	if strings.HasSuffix(server.Address(), ":0") {
		t.Errorf("Address should report the bound port, got %s", server.Address())
	}

	resp, err := http.Get(server.Address() + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header on served response")
	}

	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if server.IsRunning() {
		t.Error("server should not be running after Stop")
	}
	if n := backend.subscriberCount(); n != 0 {
		t.Errorf("event subscription not removed on Stop, %d left", n)
	}
	if err := server.Stop(); err != nil {
		t.Errorf("second Stop should not error: %v", err)
	}
}

func TestServer_StartPortInUse(t *testing.T) {
	first := NewServer(newFakeBackend(), &config.WebConfig{Host: "127.0.0.1", Port: 0}, nil)
	if err := first.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer first.Stop()

	var port int
	fmt.Sscanf(first.Address()[strings.LastIndex(first.Address(), ":")+1:], "%d", &port)

	second := NewServer(newFakeBackend(), &config.WebConfig{Host: "127.0.0.1", Port: port}, nil)
	if err := second.Start(); err == nil {
		second.Stop()
		t.Fatal("expected error binding a port already in use")
	}
	if second.IsRunning() {
		t.Error("server should not be running after a failed Start")
	}
}

func TestCorsMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("sets CORS headers", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("missing Access-Control-Allow-Origin header")
		}
		if rec.Header().Get("Access-Control-Allow-Methods") == "" {
			t.Error("missing Access-Control-Allow-Methods header")
		}
	})

	t.Run("handles OPTIONS preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200 for OPTIONS, got %d", rec.Code)
		}
	})
}

func TestRouter_Get(t *testing.T) {
	router := newTestRouter(t, newFakeBackend())

	tests := []struct {
		name     string
		path     string
		want     int
		contains string
	}{
		{"status", "/status", http.StatusOK, `"state":"Open"`},
		{"health", "/health", http.StatusOK, `"online":true`},
		{"tanks", "/tanks", http.StatusOK, `"name":"EP_1"`},
		{"tank", "/tanks/EP_1", http.StatusOK, `"valveState":"CLOSED"`},
		{"missing tank", "/tanks/EP_9", http.StatusNotFound, "not found"},
		{"batteries", "/batteries", http.StatusOK, `"stateOfCharge":0.75`},
		{"battery", "/batteries/GE_TD", http.StatusOK, `"healthLevel":"GREEN"`},
		{"missing battery", "/batteries/nope", http.StatusNotFound, "not found"},
		{"escaped name", "/tanks/EP%5F1", http.StatusOK, `"name":"EP_1"`},
		{"services", "/services", http.StatusOK, `"kind":"mqtt"`},
		{"metrics", "/metrics", http.StatusOK, "seabridge_appliance_connected"},
		{"unknown route", "/sensors", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
			if tt.contains != "" && !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("body %q does not contain %q", rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestRouter_NotStarted(t *testing.T) {
	backend := newFakeBackend()
	backend.started = false
	router := newTestRouter(t, backend)

	for _, path := range []string{"/status", "/health", "/tanks", "/batteries"} {
		req := httptest.NewRequest("GET", path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: expected status 503, got %d", path, rec.Code)
		}
	}
}

func TestRouter_TankBody(t *testing.T) {
	router := newTestRouter(t, newFakeBackend())

	req := httptest.NewRequest("GET", "/tanks/EP_1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Header().Get("Content-Type") != "application/json" {
		t.Error("Content-Type should be application/json")
	}
	var tank appliance.TankReading
	if err := json.NewDecoder(rec.Body).Decode(&tank); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if tank.Level != 42 || tank.Capacity != 200 || tank.ModuleID != 1 {
		t.Errorf("unexpected tank: %+v", tank)
	}
}

func TestRouter_ServiceActions(t *testing.T) {
	backend := newFakeBackend()
	router := newTestRouter(t, backend)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"start", "/services/mqtt/local/start", http.StatusOK},
		{"stop", "/services/mqtt/local/stop", http.StatusOK},
		{"unknown name", "/services/mqtt/remote/start", http.StatusNotFound},
		{"unknown kind", "/services/amqp/local/stop", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d (%s)", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	want := []string{"start mqtt/local", "stop mqtt/local", "start mqtt/remote", "stop amqp/local"}
	if strings.Join(backend.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", backend.calls, want)
	}

	req := httptest.NewRequest("GET", "/services/mqtt/local/start", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on a start route: expected status 405, got %d", rec.Code)
	}
}

func TestRouter_ForcePublish(t *testing.T) {
	tests := []struct {
		name    string
		started bool
		err     error
		want    int
	}{
		{"queued", true, nil, http.StatusAccepted},
		{"queue full", true, errors.New("publish queue full"), http.StatusServiceUnavailable},
		{"not started", false, nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.started = tt.started
			backend.publishErr = tt.err
			router := newTestRouter(t, backend)

			req := httptest.NewRequest("POST", "/publish", nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestRouter_EventStream(t *testing.T) {
	backend := newFakeBackend()
	srv := httptest.NewServer(newTestRouter(t, backend))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events?types=TankUpdated&names=EP_1")
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %s", ct)
	}

	lines := make(chan string, 64)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	// Keep emitting until the client is registered with the hub. Filtered
	// events must never reach the stream.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				backend.emit(engine.Event{Type: engine.EventBatteryUpdated, Timestamp: time.Now(),
					Payload: engine.ReadingEvent{Name: "GE_TD"}})
				backend.emit(engine.Event{Type: engine.EventTankUpdated, Timestamp: time.Now(),
					Payload: engine.ReadingEvent{Name: "EP_2"}})
				backend.emit(engine.Event{Type: engine.EventTankUpdated, Timestamp: time.Now(),
					Payload: engine.ReadingEvent{Name: "EP_1"}})
			}
		}
	}()

	deadline := time.After(2 * time.Second)
	var sawConnected bool
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed early")
			}
			if line == "event: connected" {
				sawConnected = true
			}
			if strings.HasPrefix(line, "event: ") && line != "event: connected" && line != "event: TankUpdated" {
				t.Fatalf("filtered event leaked: %s", line)
			}
			if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"type":"TankUpdated"`) {
				if !strings.Contains(line, `"name":"EP_1"`) {
					t.Fatalf("unexpected tank event: %s", line)
				}
				if !sawConnected {
					t.Error("expected connected event first")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for streamed event")
		}
	}
}
