package cache

import (
	"context"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

// Memory is a bounded in-memory cache whose entries expire a fixed time after
// they are created. It holds short-lived session state such as pending
// authorization requests, which must never be persisted.
type Memory[T any] struct {
	mu      sync.Mutex
	cache   *otter.Cache[string, T]
	ttl     time.Duration
	counter *stats.Counter
}

// NewMemory creates a new in-memory cache with the specified TTL and max size.
func NewMemory[T any](ttl time.Duration, maxSize int) (*Memory[T], error) {
	counter := stats.NewCounter()
	cache := otter.Must(&otter.Options[string, T]{
		MaximumSize:      maxSize,
		StatsRecorder:    counter,
		ExpiryCalculator: otter.ExpiryCreating[string, T](ttl),
	})

	return &Memory[T]{
		cache:   cache,
		ttl:     ttl,
		counter: counter,
	}, nil
}

// Get returns the value for key without removing it.
func (m *Memory[T]) Get(_ context.Context, key string) (T, bool) {
	entry, ok := m.cache.GetEntry(key)
	if !ok {
		var zero T
		return zero, false
	}

	return entry.Value, true
}

// Set stores value under key, restarting its TTL.
func (m *Memory[T]) Set(_ context.Context, key string, value T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Set(key, value)
}

// Take returns the value for key and removes it, so that each value can be
// claimed at most once even under concurrent callers.
func (m *Memory[T]) Take(_ context.Context, key string) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.cache.GetEntry(key)
	if !ok {
		var zero T
		return zero, false
	}

	m.cache.Invalidate(key)

	return entry.Value, true
}

// Invalidate removes key from the cache.
func (m *Memory[T]) Invalidate(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cache.Invalidate(key)
}

// TTL is the lifetime given to each entry.
func (m *Memory[T]) TTL() time.Duration {
	return m.ttl
}
