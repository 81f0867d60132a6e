package appliance

import (
	"fmt"
	"sync"
)

// EventKind identifies what a listener is subscribed to.
type EventKind int

const (
	EventTankUpdate EventKind = iota + 1
	EventBatteryUpdate
	EventTransportError
)

func (k EventKind) String() string {
	switch k {
	case EventTankUpdate:
		return "TankUpdate"
	case EventBatteryUpdate:
		return "BatteryUpdate"
	case EventTransportError:
		return "TransportError"
	default:
		return "Unknown"
	}
}

// Event is delivered to listeners. Only the field matching Kind is meaningful.
type Event struct {
	Kind    EventKind
	Tank    TankReading
	Battery BatteryReading
	Err     error
}

// Listener receives events synchronously on the session goroutine.
type Listener func(Event)

// registry holds ordered, append-only listener lists per event kind.
type registry struct {
	mu        sync.RWMutex
	listeners map[EventKind][]Listener
	onFault   func(kind EventKind, index int, fault error)
}

func newRegistry(onFault func(kind EventKind, index int, fault error)) *registry {
	return &registry{
		listeners: make(map[EventKind][]Listener),
		onFault:   onFault,
	}
}

func (r *registry) subscribe(kind EventKind, fn Listener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[kind] = append(r.listeners[kind], fn)
}

// notify calls every listener for ev.Kind in registration order and returns
// how many returned normally.
func (r *registry) notify(ev Event) int {
	r.mu.RLock()
	list := r.listeners[ev.Kind]
	r.mu.RUnlock()

	ok := 0
	for i, fn := range list {
		if r.invoke(i, fn, ev) {
			ok++
		}
	}
	return ok
}

func (r *registry) invoke(index int, fn Listener, ev Event) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			if r.onFault != nil {
				r.onFault(ev.Kind, index, fmt.Errorf("listener panic: %v", rec))
			}
		}
	}()
	fn(ev)
	return true
}

func (r *registry) count(kind EventKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[kind])
}
