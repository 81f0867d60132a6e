package engine

import "time"

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Appliance events
	EventTankUpdated EventType = iota + 1
	EventBatteryUpdated
	EventTransportError
	EventStateChanged

	// Publisher events
	EventServiceStarted
	EventServiceStopped

	// System events
	EventForcePublished
)

func (t EventType) String() string {
	switch t {
	case EventTankUpdated:
		return "TankUpdated"
	case EventBatteryUpdated:
		return "BatteryUpdated"
	case EventTransportError:
		return "TransportError"
	case EventStateChanged:
		return "StateChanged"
	case EventServiceStarted:
		return "ServiceStarted"
	case EventServiceStopped:
		return "ServiceStopped"
	case EventForcePublished:
		return "ForcePublished"
	default:
		return "Unknown"
	}
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// ReadingEvent is the payload for tank and battery updates.
type ReadingEvent struct {
	Name    string      `json:"name"`
	Reading interface{} `json:"reading"` // appliance.TankReading or appliance.BatteryReading
}

// StateEvent is the payload for appliance session state changes.
type StateEvent struct {
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// ErrorEvent is the payload for transport errors.
type ErrorEvent struct {
	Error string `json:"error"`
}

// ServiceEvent is the payload for MQTT/Valkey/Kafka lifecycle events.
type ServiceEvent struct {
	Kind string `json:"kind"` // "mqtt", "valkey", "kafka"
	Name string `json:"name"`
}

// SystemEvent is the payload for system-level events.
type SystemEvent struct {
	Detail string `json:"detail"`
}
