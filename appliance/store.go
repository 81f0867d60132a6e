package appliance

import "sync"

// Store keeps the most recent record per reading name. Entries are
// overwritten in place and never evicted.
type Store[T any] struct {
	mu     sync.RWMutex
	values map[string]T
}

// NewStore creates an empty store.
func NewStore[T any]() *Store[T] {
	return &Store[T]{values: make(map[string]T)}
}

// Put stores v under key, replacing any previous value.
func (s *Store[T]) Put(key string, v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

// Get returns the last value stored under key.
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Snapshot returns a copy of all entries.
func (s *Store[T]) Snapshot() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]T, len(s.values))
	for k, v := range s.values {
		result[k] = v
	}
	return result
}

// Len returns the number of entries.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
