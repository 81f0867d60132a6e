package engine

import (
	"sync"
	"time"
)

// EventBus delivers engine events to subscribers synchronously, in
// subscription order. Handlers must not block.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id     int
	fn     func(Event)
	filter map[EventType]bool // nil = all types
}

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers fn for every event and returns an id for Unsubscribe.
func (b *EventBus) Subscribe(fn func(Event)) int {
	return b.add(fn, nil)
}

// SubscribeTypes registers fn for the given event types only.
func (b *EventBus) SubscribeTypes(fn func(Event), types ...EventType) int {
	filter := make(map[EventType]bool, len(types))
	for _, t := range types {
		filter[t] = true
	}
	return b.add(fn, filter)
}

func (b *EventBus) add(fn func(Event), filter map[EventType]bool) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, fn: fn, filter: filter})
	return b.nextID
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *EventBus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Emit stamps ev if needed and delivers it to matching subscribers.
func (b *EventBus) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.filter != nil && !s.filter[ev.Type] {
			continue
		}
		s.fn(ev)
	}
}
