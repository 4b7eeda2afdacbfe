package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/water-data-explorer/internal/cache"
	"github.com/kjstillabower/water-data-explorer/internal/client"
	"github.com/kjstillabower/water-data-explorer/internal/observability"
)

// ErrStationNotFound is returned when a code or name is not in the active catalog.
var ErrStationNotFound = errors.New("station not found")

// loggerFromContext extracts a zap.Logger from request context if present.
// Returns nil if logger is not found or context is invalid.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok && l != nil {
			return l
		}
	}
	return nil
}

// cachedGet reads key from c, recording hit/miss metrics under cacheType. Backend errors
// are logged and counted, then treated as a miss.
func cachedGet[V any](ctx context.Context, c cache.Cache[V], cacheType, key string) (V, bool) {
	logger := loggerFromContext(ctx)
	start := time.Now()
	v, ok, err := c.Get(ctx, key)
	duration := time.Since(start).Seconds()
	switch {
	case err != nil:
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(duration)
		if logger != nil {
			logger.Warn("cache get failed", zap.String("cache", cacheType), zap.String("key", key), zap.Error(err))
		}
		observability.CacheMissesTotal.WithLabelValues(cacheType).Inc()
		return v, false
	case ok:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(duration)
		observability.CacheHitsTotal.WithLabelValues(cacheType).Inc()
		if logger != nil {
			logger.Debug("cache hit", zap.String("cache", cacheType), zap.String("key", key))
		}
		return v, true
	default:
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(duration)
		observability.CacheMissesTotal.WithLabelValues(cacheType).Inc()
		if logger != nil {
			logger.Debug("cache miss, fetching upstream", zap.String("cache", cacheType), zap.String("key", key))
		}
		return v, false
	}
}

// cachedSet stores v under key. A failed write is logged and otherwise ignored.
func cachedSet[V any](ctx context.Context, c cache.Cache[V], cacheType, key string, v V, ttl time.Duration) {
	start := time.Now()
	if err := c.Set(ctx, key, v, ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(start).Seconds())
		if logger := loggerFromContext(ctx); logger != nil {
			logger.Warn("cache set failed", zap.String("cache", cacheType), zap.String("key", key), zap.Error(err))
		}
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(start).Seconds())
}

// recordUpstreamError counts a failed WMIP lookup by category.
func recordUpstreamError(endpoint string, err error) {
	observability.UpstreamErrorsTotal.WithLabelValues(endpoint, string(client.CategorizeError(err))).Inc()
}

// categorizeCacheError returns a stable label for cache error metrics (timeout, connection, unknown).
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "timeout") {
		return "timeout"
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return "connection"
	}
	return "unknown"
}

// wrapFetch annotates err with what was being fetched, keeping it matchable.
func wrapFetch(what string, err error) error {
	return fmt.Errorf("fetch %s: %w", what, err)
}
