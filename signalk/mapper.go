package signalk

import (
	"time"

	"seabridge/appliance"
	"seabridge/config"
)

// Mapper turns readings into deltas using the configured name-to-path
// mappings. Readings without a mapping produce no delta.
type Mapper struct {
	source    Source
	tanks     map[string]string
	batteries map[string]string
	now       func() time.Time
}

// NewMapper creates a mapper. label identifies the bridge as the delta source.
func NewMapper(label string, tanks, batteries []config.MappingConfig) *Mapper {
	m := &Mapper{
		source:    Source{Label: label, Type: "seabridge"},
		tanks:     make(map[string]string, len(tanks)),
		batteries: make(map[string]string, len(batteries)),
		now:       time.Now,
	}
	for _, t := range tanks {
		m.tanks[t.Name] = t.Path
	}
	for _, b := range batteries {
		m.batteries[b.Name] = b.Path
	}
	return m
}

// TankPath returns the Signal K base path for a tank.
func (m *Mapper) TankPath(name string) (string, bool) {
	p, ok := m.tanks[name]
	return p, ok
}

// BatteryPath returns the Signal K base path for a battery.
func (m *Mapper) BatteryPath(name string) (string, bool) {
	p, ok := m.batteries[name]
	return p, ok
}

// TankDelta maps a tank reading. The appliance's 0-100 level becomes a
// 0-1 currentLevel ratio.
func (m *Mapper) TankDelta(r appliance.TankReading) (*Delta, bool) {
	base, ok := m.tanks[r.Name]
	if !ok {
		return nil, false
	}
	return NewDelta(m.source, m.now(), []Value{
		{Path: base + ".name", Value: r.Name},
		{Path: base + ".currentLevel", Value: r.Level / 100},
		{Path: base + ".capacity", Value: r.Capacity},
	}), true
}

// BatteryDelta maps a battery reading. An unknown state of charge is sent
// as null.
func (m *Mapper) BatteryDelta(r appliance.BatteryReading) (*Delta, bool) {
	base, ok := m.batteries[r.Name]
	if !ok {
		return nil, false
	}

	var soc interface{}
	if r.StateOfCharge != nil {
		soc = *r.StateOfCharge
	}
	return NewDelta(m.source, m.now(), []Value{
		{Path: base + ".name", Value: r.Name},
		{Path: base + ".voltage", Value: r.Voltage},
		{Path: base + ".current", Value: r.Current},
		{Path: base + ".capacity.stateOfCharge", Value: soc},
	}), true
}
