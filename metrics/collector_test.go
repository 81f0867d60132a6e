package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"seabridge/appliance"
)

type fakeSource struct {
	tanks     map[string]appliance.TankReading
	batteries map[string]appliance.BatteryReading
	connected bool
	stats     appliance.Stats
}

func (f *fakeSource) Tanks() map[string]appliance.TankReading       { return f.tanks }
func (f *fakeSource) Batteries() map[string]appliance.BatteryReading { return f.batteries }
func (f *fakeSource) IsConnected() bool                              { return f.connected }
func (f *fakeSource) Stats() appliance.Stats                         { return f.stats }

func newFakeSource() *fakeSource {
	soc := 0.5
	return &fakeSource{
		tanks: map[string]appliance.TankReading{
			"EP_1": {Name: "EP_1", Level: 42, Capacity: 200, ModuleID: 1},
		},
		batteries: map[string]appliance.BatteryReading{
			"GE_TD":  {Name: "GE_TD", Voltage: 12.6, Current: -3.2, StateOfCharge: &soc, ModuleID: 2},
			"GE_AUX": {Name: "GE_AUX", Voltage: 12.1, Current: 0.4, ModuleID: 3},
		},
		connected: true,
		stats:     appliance.Stats{FramesReceived: 10, FramesMalformed: 1, Reconnects: 2},
	}
}

func TestCollector_Describe(t *testing.T) {
	collector := NewCollector(newFakeSource())
	descCh := make(chan *prometheus.Desc, 20)

	go func() {
		collector.Describe(descCh)
		close(descCh)
	}()

	count := 0
	for range descCh {
		count++
	}
	if count != 9 {
		t.Errorf("Describe() sent %d descriptors, want 9", count)
	}
}

func TestCollector_Collect(t *testing.T) {
	tests := []struct {
		name   string
		source *fakeSource
		want   int
	}{
		// 2 tank + 2*2 battery + 1 charge + connected + 3 counters
		{"full", newFakeSource(), 11},
		{"empty", &fakeSource{}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := NewCollector(tt.source)
			metricCh := make(chan prometheus.Metric, 100)

			go func() {
				collector.Collect(metricCh)
				close(metricCh)
			}()

			count := 0
			for range metricCh {
				count++
			}
			if count != tt.want {
				t.Errorf("Collect() sent %d metrics, want %d", count, tt.want)
			}
		})
	}
}

func TestRegistry_Gather(t *testing.T) {
	reg := NewRegistry(newFakeSource())
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	values := make(map[string]float64)
	series := make(map[string]int)
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), "seabridge_") {
			continue
		}
		series[mf.GetName()] = len(mf.GetMetric())
		m := mf.GetMetric()[0]
		switch {
		case m.GetGauge() != nil:
			values[mf.GetName()] = m.GetGauge().GetValue()
		case m.GetCounter() != nil:
			values[mf.GetName()] = m.GetCounter().GetValue()
		}
	}

	want := map[string]float64{
		"seabridge_tank_level_percent":            42,
		"seabridge_tank_capacity":                 200,
		"seabridge_battery_state_of_charge_ratio": 0.5,
		"seabridge_appliance_connected":           1,
		"seabridge_frames_received_total":         10,
		"seabridge_frames_malformed_total":        1,
		"seabridge_reconnects_total":              2,
	}
	for name, v := range want {
		if got, ok := values[name]; !ok || got != v {
			t.Errorf("%s = %v (present %v), want %v", name, got, ok, v)
		}
	}

	if series["seabridge_battery_voltage"] != 2 {
		t.Errorf("battery voltage series = %d, want 2", series["seabridge_battery_voltage"])
	}
	if series["seabridge_battery_state_of_charge_ratio"] != 1 {
		t.Errorf("state of charge series = %d, want 1 (unknown omitted)", series["seabridge_battery_state_of_charge_ratio"])
	}
}

func TestHandler(t *testing.T) {
	src := newFakeSource()
	src.connected = false
	srv := httptest.NewServer(Handler(NewRegistry(src)))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`seabridge_tank_level_percent{module_id="1",name="EP_1"} 42`,
		`seabridge_battery_current{module_id="2",name="GE_TD"} -3.2`,
		"seabridge_appliance_connected 0",
		"# TYPE seabridge_frames_received_total counter",
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
	if strings.Contains(text, `state_of_charge_ratio{module_id="3"`) {
		t.Error("unknown state of charge should not be exported")
	}
}
