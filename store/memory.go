package store

import (
	"sync"
	"time"
)

type entry[T any] struct {
	mu        sync.Mutex
	value     T
	expiresAt time.Time // zero = no expiry
}

func (e *entry[T]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-memory Store with per-entry locking and TTL support.
type Memory[T any] struct {
	mu      sync.RWMutex
	entries map[string]*entry[T]
}

// NewMemory returns an empty in-memory store.
func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{entries: make(map[string]*entry[T])}
}

// Get implements Store.
func (m *Memory[T]) Get(key string) (T, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()

	var zero T
	if !ok {
		return zero, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expired(time.Now()) {
		return zero, false
	}
	return e.value, true
}

// InsertIfAbsent implements Store. An expired entry under the same key is
// replaced.
func (m *Memory[T]) InsertIfAbsent(key string, value T, ttl time.Duration) bool {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		e.mu.Lock()
		live := !e.expired(now)
		e.mu.Unlock()
		if live {
			return false
		}
	}

	e := &entry[T]{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	m.entries[key] = e
	return true
}

// Update implements Store.
func (m *Memory[T]) Update(key string, fn func(T) (T, error)) error {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.expired(time.Now()) {
		return ErrNotFound
	}

	next, err := fn(e.value)
	if err != nil {
		return err
	}
	e.value = next
	return nil
}

// Len returns the number of entries, expired ones included.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Purge drops entries whose TTL elapsed before now.
func (m *Memory[T]) Purge(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		e.mu.Lock()
		dead := e.expired(now)
		e.mu.Unlock()
		if dead {
			delete(m.entries, key)
		}
	}
}
