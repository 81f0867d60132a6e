package engine

import (
	"fmt"
	"sort"

	"seabridge/appliance"
)

// Status summarizes the appliance session.
type Status struct {
	Endpoint        string `json:"endpoint"`
	State           string `json:"state"`
	Connected       bool   `json:"connected"`
	LastError       string `json:"lastError,omitempty"`
	Tanks           int    `json:"tanks"`
	Batteries       int    `json:"batteries"`
	FramesReceived  uint64 `json:"framesReceived"`
	FramesMalformed uint64 `json:"framesMalformed"`
	Reconnects      uint64 `json:"reconnects"`
	Dropped         int64  `json:"droppedPublishes"`
}

// Status returns the current session status.
func (e *Engine) Status() (Status, error) {
	c := e.GetClient()
	if c == nil {
		return Status{}, ErrNotStarted
	}

	stats := c.Stats()
	st := Status{
		Endpoint:        c.Endpoint().URL(),
		State:           c.State().String(),
		Connected:       c.IsConnected(),
		Tanks:           len(c.Tanks()),
		Batteries:       len(c.Batteries()),
		FramesReceived:  stats.FramesReceived,
		FramesMalformed: stats.FramesMalformed,
		Reconnects:      stats.Reconnects,
		Dropped:         e.Dropped(),
	}
	if err := c.LastError(); err != nil {
		st.LastError = err.Error()
	}
	return st, nil
}

// Tanks returns the latest tank readings sorted by name.
func (e *Engine) Tanks() ([]appliance.TankReading, error) {
	c := e.GetClient()
	if c == nil {
		return nil, ErrNotStarted
	}
	snap := c.Tanks()
	out := make([]appliance.TankReading, 0, len(snap))
	for _, r := range snap {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Tank returns the latest reading for one tank.
func (e *Engine) Tank(name string) (appliance.TankReading, error) {
	c := e.GetClient()
	if c == nil {
		return appliance.TankReading{}, ErrNotStarted
	}
	r, ok := c.Tank(name)
	if !ok {
		return appliance.TankReading{}, fmt.Errorf("%w: tank '%s'", ErrNotFound, name)
	}
	return r, nil
}

// Batteries returns the latest battery readings sorted by name.
func (e *Engine) Batteries() ([]appliance.BatteryReading, error) {
	c := e.GetClient()
	if c == nil {
		return nil, ErrNotStarted
	}
	snap := c.Batteries()
	out := make([]appliance.BatteryReading, 0, len(snap))
	for _, r := range snap {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Battery returns the latest reading for one battery.
func (e *Engine) Battery(name string) (appliance.BatteryReading, error) {
	c := e.GetClient()
	if c == nil {
		return appliance.BatteryReading{}, ErrNotStarted
	}
	r, ok := c.Battery(name)
	if !ok {
		return appliance.BatteryReading{}, fmt.Errorf("%w: battery '%s'", ErrNotFound, name)
	}
	return r, nil
}
