// Package store provides the narrow keyed-store contract the protocol state
// machines are built on, plus an in-memory implementation. State lives
// behind an injected Store value, never in package globals, so deployments
// can swap in a durable TTL-capable store without touching the protocol.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Update for keys that are absent or already
// evicted.
var ErrNotFound = errors.New("store: key not found")

// Store is a keyed snapshot store. Values are copied in and out; the only
// mutation path is Update, which runs its function under a per-key lock so
// check-and-set sequences are atomic per key without serializing unrelated
// keys.
type Store[T any] interface {
	// Get returns a copy of the value, or false if the key is absent or its
	// TTL has elapsed.
	Get(key string) (T, bool)

	// InsertIfAbsent stores the value only if the key is not already live.
	// A zero ttl means no expiry. Returns whether the insert happened.
	InsertIfAbsent(key string, value T, ttl time.Duration) bool

	// Update atomically replaces the value with the result of fn. If fn
	// returns an error nothing is stored and the error is passed through.
	// Returns ErrNotFound for absent or expired keys.
	Update(key string, fn func(T) (T, error)) error
}

// Janitor periodically purges expired entries from m until ctx is done.
// Expiry is also enforced lazily on every read, so the janitor only bounds
// memory, not correctness.
func Janitor[T any](ctx context.Context, m *Memory[T], interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Purge(time.Now())
		}
	}
}
