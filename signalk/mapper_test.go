package signalk

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"seabridge/appliance"
	"seabridge/config"
)

func testMapper() *Mapper {
	m := NewMapper("seabridge.vessel",
		[]config.MappingConfig{{Name: "EP_1", Path: "tanks.freshWater.0"}},
		[]config.MappingConfig{{Name: "GE_TD", Path: "electrical.batteries.house"}},
	)
	m.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func valueMap(d *Delta) map[string]interface{} {
	out := make(map[string]interface{})
	for _, v := range d.Values() {
		out[v.Path] = v.Value
	}
	return out
}

func TestMapper_TankDelta(t *testing.T) {
	m := testMapper()
	d, ok := m.TankDelta(appliance.TankReading{Name: "EP_1", Level: 42, Capacity: 200})
	if !ok {
		t.Fatal("mapped tank produced no delta")
	}

	values := valueMap(d)
	if values["tanks.freshWater.0.currentLevel"] != 0.42 {
		t.Errorf("currentLevel = %v, want 0.42", values["tanks.freshWater.0.currentLevel"])
	}
	if values["tanks.freshWater.0.capacity"] != 200.0 {
		t.Errorf("capacity = %v", values["tanks.freshWater.0.capacity"])
	}
	if values["tanks.freshWater.0.name"] != "EP_1" {
		t.Errorf("name = %v", values["tanks.freshWater.0.name"])
	}
	if d.Context != SelfContext || d.Updates[0].Timestamp != "2026-05-01T12:00:00Z" {
		t.Errorf("delta header = %s / %s", d.Context, d.Updates[0].Timestamp)
	}
}

func TestMapper_BatteryDelta(t *testing.T) {
	m := testMapper()
	soc := 191.0 / 255.0

	t.Run("known state of charge", func(t *testing.T) {
		d, ok := m.BatteryDelta(appliance.BatteryReading{Name: "GE_TD", Voltage: 12.6, Current: -3.2, StateOfCharge: &soc})
		if !ok {
			t.Fatal("mapped battery produced no delta")
		}
		values := valueMap(d)
		if values["electrical.batteries.house.voltage"] != 12.6 {
			t.Errorf("voltage = %v", values["electrical.batteries.house.voltage"])
		}
		if values["electrical.batteries.house.current"] != -3.2 {
			t.Errorf("current = %v", values["electrical.batteries.house.current"])
		}
		if values["electrical.batteries.house.capacity.stateOfCharge"] != soc {
			t.Errorf("stateOfCharge = %v", values["electrical.batteries.house.capacity.stateOfCharge"])
		}
	})

	t.Run("unknown state of charge encodes as null", func(t *testing.T) {
		d, _ := m.BatteryDelta(appliance.BatteryReading{Name: "GE_TD", Voltage: 12.1})
		data, err := d.JSON()
		if err != nil {
			t.Fatalf("JSON: %v", err)
		}
		if !strings.Contains(string(data), `{"path":"electrical.batteries.house.capacity.stateOfCharge","value":null}`) {
			t.Errorf("stateOfCharge not null in %s", data)
		}
	})
}

func TestMapper_Unmapped(t *testing.T) {
	m := testMapper()
	if _, ok := m.TankDelta(appliance.TankReading{Name: "UNKNOWN"}); ok {
		t.Error("unmapped tank produced a delta")
	}
	if _, ok := m.BatteryDelta(appliance.BatteryReading{Name: "UNKNOWN"}); ok {
		t.Error("unmapped battery produced a delta")
	}
	if _, ok := m.TankPath("UNKNOWN"); ok {
		t.Error("TankPath found unmapped tank")
	}
	if p, ok := m.BatteryPath("GE_TD"); !ok || p != "electrical.batteries.house" {
		t.Errorf("BatteryPath = %q, %v", p, ok)
	}
}

func TestDelta_JSONShape(t *testing.T) {
	m := testMapper()
	d, _ := m.TankDelta(appliance.TankReading{Name: "EP_1", Level: 50, Capacity: 100})
	data, err := d.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}

	var decoded struct {
		Context string `json:"context"`
		Updates []struct {
			Source struct {
				Label string `json:"label"`
			} `json:"source"`
			Timestamp string `json:"timestamp"`
			Values    []struct {
				Path  string      `json:"path"`
				Value interface{} `json:"value"`
			} `json:"values"`
		} `json:"updates"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Context != "vessels.self" || len(decoded.Updates) != 1 {
		t.Fatalf("unexpected delta %s", data)
	}
	if decoded.Updates[0].Source.Label != "seabridge.vessel" || len(decoded.Updates[0].Values) != 3 {
		t.Errorf("unexpected update %s", data)
	}
}
