package store

import (
	"context"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

type memoryEntry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiry
}

// MemoryStore implements Store with a mutex-guarded map
type MemoryStore[V any] struct {
	mu      sync.Mutex
	entries map[string]memoryEntry[V]
	clock   clock.PassiveClock
}

// NewMemoryStore creates an in-memory store. A nil clock uses the wall clock.
func NewMemoryStore[V any](c clock.PassiveClock) *MemoryStore[V] {
	if c == nil {
		c = clock.RealClock{}
	}
	return &MemoryStore[V]{
		entries: make(map[string]memoryEntry[V]),
		clock:   c,
	}
}

// lookup returns the live entry for key, evicting it when expired.
// Caller must hold s.mu.
func (s *MemoryStore[V]) lookup(key string) (memoryEntry[V], bool) {
	e, ok := s.entries[key]
	if !ok {
		return e, false
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry[V]{}, false
	}
	return e, true
}

// Get returns the value for key
func (s *MemoryStore[V]) Get(_ context.Context, key string) (V, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	return e.value, ok, nil
}

// Put stores value under key
func (s *MemoryStore[V]) Put(_ context.Context, key string, value V, ttl time.Duration) error {
	e := memoryEntry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// TakeIfPresent returns and removes the value for key under a single lock
func (s *MemoryStore[V]) TakeIfPresent(_ context.Context, key string) (V, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if ok {
		delete(s.entries, key)
	}
	return e.value, ok, nil
}

// Remove deletes key
func (s *MemoryStore[V]) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of live entries
func (s *MemoryStore[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key := range s.entries {
		if _, ok := s.lookup(key); ok {
			n++
		}
	}
	return n
}

// CheckHealth always succeeds for the in-memory store
func (s *MemoryStore[V]) CheckHealth(context.Context) error {
	return nil
}

// Sweep evicts expired entries and returns how many were removed
func (s *MemoryStore[V]) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if _, ok := s.lookup(key); !ok {
			removed++
		}
	}
	return removed
}
