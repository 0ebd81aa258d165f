// Package cache stores finished report artifacts, either in process memory
// with a TTL or in Redis.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/retail-insights-go/internal/domain"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// InMemory is a thread-safe in-memory cache with TTL.
type InMemory[T any] struct {
	mu    sync.RWMutex
	items map[string]entry[T]
	ttl   time.Duration
	done  chan struct{}
	once  sync.Once
}

// New creates a new in-memory cache with the given default TTL.
func New[T any](ttl time.Duration) *InMemory[T] {
	c := &InMemory[T]{
		items: make(map[string]entry[T]),
		ttl:   ttl,
		done:  make(chan struct{}),
	}
	// Background cleanup goroutine
	go c.cleanup()
	return c
}

// Get retrieves a value from the cache. Returns false if not found or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Set stores a value in the cache with the default TTL.
func (c *InMemory[T]) Set(key string, value T) {
	c.SetTTL(key, value, c.ttl)
}

// SetTTL stores a value that expires after ttl. A non-positive ttl uses
// the default.
func (c *InMemory[T]) SetTTL(key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = entry[T]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// Delete removes a value from the cache.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Len returns the number of stored entries, expired or not.
func (c *InMemory[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the cleanup goroutine.
func (c *InMemory[T]) Close() {
	c.once.Do(func() { close(c.done) })
}

// cleanup periodically removes expired entries.
func (c *InMemory[T]) cleanup() {
	ticker := time.NewTicker(c.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		now := time.Now()
		for k, v := range c.items {
			if now.After(v.expiresAt) {
				delete(c.items, k)
			}
		}
		c.mu.Unlock()
	}
}

// Reports adapts InMemory to the report cache port.
type Reports struct {
	mem *InMemory[*domain.Report]
}

// NewReports creates an in-memory report cache.
func NewReports(ttl time.Duration) *Reports {
	return &Reports{mem: New[*domain.Report](ttl)}
}

// Get returns the cached report for id.
func (r *Reports) Get(_ context.Context, id string) (*domain.Report, bool, error) {
	rep, ok := r.mem.Get(id)
	return rep, ok, nil
}

// Set caches report under id.
func (r *Reports) Set(_ context.Context, id string, report *domain.Report, ttl time.Duration) error {
	r.mem.SetTTL(id, report, ttl)
	return nil
}

// Ping always succeeds.
func (r *Reports) Ping(context.Context) error { return nil }

// Close releases the cleanup goroutine.
func (r *Reports) Close() error {
	r.mem.Close()
	return nil
}
