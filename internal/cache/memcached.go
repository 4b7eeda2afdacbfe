package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "wde:"

// maxKeyLength is the memcached protocol limit.
const maxKeyLength = 250

// MemcachedBackend owns the memcached connection pool shared by every namespaced cache.
type MemcachedBackend struct {
	client *memcache.Client
}

// NewMemcachedBackend connects to addrs, a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// use package defaults if zero.
func NewMemcachedBackend(addrs string, timeout time.Duration, maxIdleConns int) (*MemcachedBackend, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		return nil, errors.New("memcached: no server addresses")
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedBackend{client: client}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Ping checks if memcached is reachable. Used for health checks.
func (b *MemcachedBackend) Ping() error {
	return b.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (b *MemcachedBackend) Close() error {
	return b.client.Close()
}

// MemcachedCache implements Cache for one namespace, storing values as JSON.
type MemcachedCache[V any] struct {
	backend   *MemcachedBackend
	namespace string
}

// NewMemcachedCache returns a cache whose keys are prefixed with namespace.
func NewMemcachedCache[V any](backend *MemcachedBackend, namespace string) *MemcachedCache[V] {
	return &MemcachedCache[V]{backend: backend, namespace: namespace}
}

// key builds the wire key. Memcached rejects spaces and control characters.
func (c *MemcachedCache[V]) key(k string) string {
	full := keyPrefix + c.namespace + ":" + strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, k)
	if len(full) > maxKeyLength {
		full = full[:maxKeyLength]
	}
	return full
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if ctx.Err() != nil {
		return zero, false, ctx.Err()
	}
	item, err := c.backend.client.Get(c.key(key))
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return zero, false, nil
		}
		return zero, false, err
	}
	var v V
	if err := json.Unmarshal(item.Value, &v); err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set. Values over the server item size limit fail with an error;
// callers treat that as a skipped write.
func (c *MemcachedCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.backend.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expirationSeconds(ttl),
	})
}

// Delete implements Cache.Delete.
func (c *MemcachedCache[V]) Delete(ctx context.Context, key string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	err := c.backend.client.Delete(c.key(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// expirationSeconds converts ttl to memcached's relative expiry, which must stay under
// 30 days to not be read as a unix timestamp.
func expirationSeconds(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60
	sec := int32(ttl.Seconds())
	if sec <= 0 || sec > maxRelativeExp {
		return 3600
	}
	return sec
}
