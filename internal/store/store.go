// Package store provides the keyed state shared between concurrent callers of
// the device flow and the session manager.
package store

import (
	"context"
	"time"
)

// Store is a concurrency-safe key-value store with atomic per-key operations.
// Callers never need external locking.
type Store[V any] interface {
	// Get returns the value for key without removing it
	Get(ctx context.Context, key string) (V, bool, error)

	// Put stores value under key, replacing any previous value.
	// A ttl <= 0 keeps the entry until it is removed.
	Put(ctx context.Context, key string, value V, ttl time.Duration) error

	// TakeIfPresent atomically returns and removes the value for key.
	// Of N concurrent callers for the same key at most one observes ok == true.
	TakeIfPresent(ctx context.Context, key string) (V, bool, error)

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// CheckHealth verifies the storage backend is reachable
	CheckHealth(ctx context.Context) error
}
