package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/water-data-explorer/internal/models"
)

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them correctly with the expected data.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache[models.Series]()

	val := models.Series{
		Station:      models.Station{Code: "143001C", Name: "Test Bore"},
		Parameter:    models.ParameterLevel,
		Observations: []models.Observation{{Value: 1.5, Quality: 10}},
	}
	if err := c.Set(ctx, "143001C|20190701|level", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "143001C|20190701|level")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got.Station.Code != "143001C" || len(got.Observations) != 1 || got.Observations[0].Value != 1.5 {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache[[]models.Station]()

	got, ok, err := c.Get(ctx, "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
	if got != nil {
		t.Errorf("Get() = %v, want zero value on miss", got)
	}
}

// TestInMemoryCache_Get_Expired verifies that Get returns ok=false for expired
// entries and removes them from cache on access.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewInMemoryCacheWithClock[string](clock)

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	clock.Advance(59 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() ok = false before ttl elapsed")
	}

	clock.Advance(time.Second)
	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, expired entry should be deleted from cache", c.Len())
	}
}

func TestInMemoryCache_Delete(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache[int]()

	_ = c.Set(ctx, "a", 1, time.Hour)
	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := c.Get(ctx, "a"); ok {
		t.Error("Get() after Delete() ok = true, want false")
	}
	if err := c.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete() of missing key error = %v, want nil", err)
	}
}

func TestMemcachedCache_Key(t *testing.T) {
	c := NewMemcachedCache[string](nil, "series")
	tests := []struct {
		in   string
		want string
	}{
		{"143001C|20190701|level", "wde:series:143001C|20190701|level"},
		{"Test Bore", "wde:series:Test_Bore"},
		{"tab\tnewline\n", "wde:series:tab_newline_"},
	}
	for _, tt := range tests {
		if got := c.key(tt.in); got != tt.want {
			t.Errorf("key(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	long := c.key(string(make([]byte, 400)))
	if len(long) != maxKeyLength {
		t.Errorf("key length = %d, want %d", len(long), maxKeyLength)
	}
}

func TestExpirationSeconds(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{15 * time.Minute, 900},
		{24 * time.Hour, 86400},
		{0, 3600},
		{-time.Second, 3600},
		{31 * 24 * time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := expirationSeconds(tt.ttl); got != tt.want {
			t.Errorf("expirationSeconds(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

func TestNewMemcachedBackend_NoAddrs(t *testing.T) {
	if _, err := NewMemcachedBackend(" , ", time.Second, 2); err == nil {
		t.Fatal("NewMemcachedBackend() with no addresses: want error")
	}
	b, err := NewMemcachedBackend("host1:11211, host2:11211", 0, 0)
	if err != nil || b == nil {
		t.Fatalf("NewMemcachedBackend() error = %v", err)
	}
}

// TestInMemoryCache_MaxEntries verifies a bounded cache sweeps expired entries before
// evicting live ones, and evicts the entry closest to expiry when it must.
func TestInMemoryCache_MaxEntries(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewInMemoryCacheWithClock[int](clock).WithMaxEntries(2)

	_ = c.Set(ctx, "short", 1, time.Minute)
	_ = c.Set(ctx, "long", 2, time.Hour)
	clock.Advance(2 * time.Minute)
	_ = c.Set(ctx, "new", 3, time.Hour)
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 after sweeping the expired entry", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "long"); !ok {
		t.Error("live entry evicted while an expired one was available")
	}

	_ = c.Set(ctx, "newest", 4, 2*time.Hour)
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok, _ := c.Get(ctx, "long"); ok {
		t.Error("entry closest to expiry should have been evicted")
	}
	if _, ok, _ := c.Get(ctx, "newest"); !ok {
		t.Error("newest entry missing")
	}

	// overwriting an existing key never evicts
	_ = c.Set(ctx, "newest", 5, 2*time.Hour)
	if c.Len() != 2 {
		t.Errorf("Len() = %d after overwrite, want 2", c.Len())
	}
}

func TestInMemoryCache_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewInMemoryCacheWithClock[int](clock)
	_ = c.Set(ctx, "a", 1, time.Minute)
	_ = c.Set(ctx, "b", 2, time.Hour)
	clock.Advance(time.Minute)
	c.Sweep()
	if c.Len() != 1 {
		t.Errorf("Len() = %d after Sweep(), want 1", c.Len())
	}
}
