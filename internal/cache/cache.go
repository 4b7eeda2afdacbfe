package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Cache is a keyed store with per-entry TTL. Get reports a miss as (zero, false, nil);
// Delete is the manual invalidation hook.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// InMemoryCache implements Cache with a mutex-guarded map. Expired entries are removed
// on access and swept when a bounded cache fills up.
type InMemoryCache[V any] struct {
	mu         sync.Mutex
	data       map[string]cacheEntry[V]
	clock      clockwork.Clock
	maxEntries int
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewInMemoryCache creates an empty cache on the real clock.
func NewInMemoryCache[V any]() *InMemoryCache[V] {
	return NewInMemoryCacheWithClock[V](clockwork.NewRealClock())
}

// NewInMemoryCacheWithClock creates an empty cache whose expiry follows clock.
func NewInMemoryCacheWithClock[V any](clock clockwork.Clock) *InMemoryCache[V] {
	return &InMemoryCache[V]{
		data:  make(map[string]cacheEntry[V]),
		clock: clock,
	}
}

// WithMaxEntries bounds the cache to n entries; 0 leaves it unbounded. When a new key
// would exceed the bound, expired entries are swept first and then the entry closest
// to expiry is evicted.
func (c *InMemoryCache[V]) WithMaxEntries(n int) *InMemoryCache[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxEntries = n
	return c
}

// Get returns the value for key if present and not expired.
func (c *InMemoryCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return zero, false, nil
	}
	if !c.clock.Now().Before(entry.expiresAt) {
		delete(c.data, key)
		return zero, false, nil
	}
	return entry.value, true, nil
}

// Set stores value until ttl elapses.
func (c *InMemoryCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.data[key]; !exists && c.maxEntries > 0 && len(c.data) >= c.maxEntries {
		c.makeRoomLocked()
	}
	c.data[key] = cacheEntry[V]{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	return nil
}

// makeRoomLocked frees at least one slot. Must be called with mu held.
func (c *InMemoryCache[V]) makeRoomLocked() {
	c.sweepLocked()
	if len(c.data) < c.maxEntries {
		return
	}
	var victim string
	var soonest time.Time
	for k, e := range c.data {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = k, e.expiresAt
		}
	}
	delete(c.data, victim)
}

// Sweep removes every expired entry.
func (c *InMemoryCache[V]) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
}

func (c *InMemoryCache[V]) sweepLocked() {
	now := c.clock.Now()
	for k, e := range c.data {
		if !now.Before(e.expiresAt) {
			delete(c.data, k)
		}
	}
}

// Delete removes key. Deleting a missing key is not an error.
func (c *InMemoryCache[V]) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// Len returns the number of stored entries, expired ones included until swept or read.
func (c *InMemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
