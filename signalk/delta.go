// Package signalk converts appliance readings into Signal K delta messages.
package signalk

import (
	"encoding/json"
	"time"
)

// SelfContext is the context of every delta produced by the bridge.
const SelfContext = "vessels.self"

// Delta is a Signal K delta message.
type Delta struct {
	Context string   `json:"context"`
	Updates []Update `json:"updates"`
}

// Update is one timestamped group of values from a single source.
type Update struct {
	Source    Source  `json:"source"`
	Timestamp string  `json:"timestamp"`
	Values    []Value `json:"values"`
}

// Source identifies the producer of an update.
type Source struct {
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`
}

// Value is a single path/value pair. A nil Value encodes as JSON null,
// which Signal K consumers read as "unknown".
type Value struct {
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// NewDelta creates a single-update delta in the self context.
func NewDelta(source Source, ts time.Time, values []Value) *Delta {
	return &Delta{
		Context: SelfContext,
		Updates: []Update{{
			Source:    source,
			Timestamp: ts.UTC().Format(time.RFC3339Nano),
			Values:    values,
		}},
	}
}

// Values returns every value in the delta, across updates.
func (d *Delta) Values() []Value {
	var out []Value
	for _, u := range d.Updates {
		out = append(out, u.Values...)
	}
	return out
}

// JSON encodes the delta.
func (d *Delta) JSON() ([]byte, error) {
	return json.Marshal(d)
}
