package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"seabridge/appliance"
	"seabridge/engine"
)

// Backend is the part of the engine the API reads from and acts on.
type Backend interface {
	Status() (engine.Status, error)
	Tanks() ([]appliance.TankReading, error)
	Tank(name string) (appliance.TankReading, error)
	Batteries() ([]appliance.BatteryReading, error)
	Battery(name string) (appliance.BatteryReading, error)
	Services() []engine.ServiceStatus
	StartService(kind, name string) error
	StopService(kind, name string) error
	ForcePublishAll() error
	Subscribe(fn func(engine.Event)) int
	Unsubscribe(id int)
}

// HealthResponse is the JSON structure for bridge health.
type HealthResponse struct {
	Endpoint  string `json:"endpoint"`
	Online    bool   `json:"online"`
	State     string `json:"state"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// ServiceActionResponse is returned after starting or stopping a publisher.
type ServiceActionResponse struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Action  string `json:"action"`
	Success bool   `json:"success"`
}

// handlers holds the API handler functions.
type handlers struct {
	backend Backend
	hub     *eventHub
	subID   int
}

// NewRouter creates the REST API router. metrics serves /metrics and may be
// nil. The returned function stops the event stream and must be called when
// the router is discarded.
func NewRouter(backend Backend, metrics http.Handler) (chi.Router, func()) {
	r := chi.NewRouter()
	h := &handlers{backend: backend, hub: newEventHub()}

	r.Get("/status", h.handleStatus)
	r.Get("/health", h.handleHealth)
	r.Get("/tanks", h.handleListTanks)
	r.Get("/tanks/{name}", h.handleTank)
	r.Get("/batteries", h.handleListBatteries)
	r.Get("/batteries/{name}", h.handleBattery)
	r.Get("/services", h.handleListServices)
	r.Post("/services/{kind}/{name}/start", h.handleStartService)
	r.Post("/services/{kind}/{name}/stop", h.handleStopService)
	r.Post("/publish", h.handleForcePublish)
	r.Get("/events", h.handleSSE)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	return r, h.setupSSE()
}

func (h *handlers) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeEngineError maps engine errors onto HTTP status codes.
func (h *handlers) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrNotStarted):
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.writeError(w, http.StatusBadGateway, err.Error())
	}
}

func urlParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.backend.Status()
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, st)
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := h.backend.Status()
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, HealthResponse{
		Endpoint:  st.Endpoint,
		Online:    st.Connected,
		State:     st.State,
		Error:     st.LastError,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handlers) handleListTanks(w http.ResponseWriter, r *http.Request) {
	tanks, err := h.backend.Tanks()
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, tanks)
}

func (h *handlers) handleTank(w http.ResponseWriter, r *http.Request) {
	tank, err := h.backend.Tank(urlParam(r, "name"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, tank)
}

func (h *handlers) handleListBatteries(w http.ResponseWriter, r *http.Request) {
	batteries, err := h.backend.Batteries()
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, batteries)
}

func (h *handlers) handleBattery(w http.ResponseWriter, r *http.Request) {
	battery, err := h.backend.Battery(urlParam(r, "name"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, battery)
}

func (h *handlers) handleListServices(w http.ResponseWriter, r *http.Request) {
	services := h.backend.Services()
	if services == nil {
		services = []engine.ServiceStatus{}
	}
	h.writeJSON(w, services)
}

func (h *handlers) handleStartService(w http.ResponseWriter, r *http.Request) {
	h.serviceAction(w, r, "start", h.backend.StartService)
}

func (h *handlers) handleStopService(w http.ResponseWriter, r *http.Request) {
	h.serviceAction(w, r, "stop", h.backend.StopService)
}

func (h *handlers) serviceAction(w http.ResponseWriter, r *http.Request, action string, fn func(kind, name string) error) {
	kind, name := urlParam(r, "kind"), urlParam(r, "name")
	if err := fn(kind, name); err != nil {
		h.writeEngineError(w, err)
		return
	}
	h.writeJSON(w, ServiceActionResponse{Kind: kind, Name: name, Action: action, Success: true})
}

func (h *handlers) handleForcePublish(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.ForcePublishAll(); err != nil {
		if errors.Is(err, engine.ErrNotStarted) {
			h.writeEngineError(w, err)
			return
		}
		h.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]bool{"queued": true})
}
