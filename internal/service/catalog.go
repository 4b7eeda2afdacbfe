package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/water-data-explorer/internal/cache"
	"github.com/kjstillabower/water-data-explorer/internal/client"
	"github.com/kjstillabower/water-data-explorer/internal/models"
	"github.com/kjstillabower/water-data-explorer/internal/observability"
)

const (
	catalogCacheType = "catalog"
	catalogKey       = "active-gauges"
)

// CatalogService serves the active gauging stations, loading the WMIP site table
// cache-aside under a single key.
type CatalogService struct {
	client    client.WMIPClient
	cache     cache.Cache[[]models.Station]
	ttl       time.Duration
	coalescer *requestCoalescer[[]models.Station]
}

// NewCatalogService creates a CatalogService. ttl is how long a loaded catalog is
// served before WMIP is asked again; loadTimeout bounds how long callers wait on a
// shared load.
func NewCatalogService(c client.WMIPClient, store cache.Cache[[]models.Station], ttl, loadTimeout time.Duration) *CatalogService {
	return &CatalogService{
		client:    c,
		cache:     store,
		ttl:       ttl,
		coalescer: newRequestCoalescer[[]models.Station](loadTimeout),
	}
}

// Stations returns the active gauging stations sorted by code.
func (s *CatalogService) Stations(ctx context.Context) ([]models.Station, error) {
	if stations, ok := cachedGet(ctx, s.cache, catalogCacheType, catalogKey); ok {
		return stations, nil
	}
	return s.load(ctx)
}

// Refresh drops the cached catalog and reloads it from WMIP.
func (s *CatalogService) Refresh(ctx context.Context) ([]models.Station, error) {
	if err := s.cache.Delete(ctx, catalogKey); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("delete", categorizeCacheError(err)).Inc()
	}
	return s.load(ctx)
}

func (s *CatalogService) load(ctx context.Context) ([]models.Station, error) {
	stations, shared, err := s.coalescer.GetOrDo(ctx, catalogKey, func(ctx context.Context) ([]models.Station, error) {
		all, err := s.client.GetCatalog(ctx)
		if err != nil {
			return nil, err
		}
		active := models.FilterActiveGauges(all)
		observability.CatalogStations.Set(float64(len(active)))
		cachedSet(ctx, s.cache, catalogCacheType, catalogKey, active, s.ttl)
		return active, nil
	})
	if shared {
		observability.RequestCoalescingHitsTotal.Inc()
	}
	if err != nil {
		recordUpstreamError("catalog", err)
		return nil, wrapFetch("station catalog", err)
	}
	if logger := loggerFromContext(ctx); logger != nil {
		logger.Info("station catalog loaded", zap.Int("stations", len(stations)), zap.Bool("shared", shared))
	}
	return stations, nil
}

// Station looks up an active station by code.
func (s *CatalogService) Station(ctx context.Context, code string) (models.Station, error) {
	stations, err := s.Stations(ctx)
	if err != nil {
		return models.Station{}, err
	}
	code = strings.TrimSpace(code)
	for _, st := range stations {
		if strings.EqualFold(st.Code, code) {
			return st, nil
		}
	}
	return models.Station{}, fmt.Errorf("%w: %q", ErrStationNotFound, code)
}

// StationByName looks up an active station by display name, ignoring case. When two
// stations share a name the lowest code wins.
func (s *CatalogService) StationByName(ctx context.Context, name string) (models.Station, error) {
	stations, err := s.Stations(ctx)
	if err != nil {
		return models.Station{}, err
	}
	name = strings.TrimSpace(name)
	for _, st := range stations {
		if strings.EqualFold(st.Name, name) {
			return st, nil
		}
	}
	return models.Station{}, fmt.Errorf("%w: %q", ErrStationNotFound, name)
}

// Resolve looks up a station by code, or by name when code is empty.
func (s *CatalogService) Resolve(ctx context.Context, code, name string) (models.Station, error) {
	if strings.TrimSpace(code) != "" {
		return s.Station(ctx, code)
	}
	if strings.TrimSpace(name) != "" {
		return s.StationByName(ctx, name)
	}
	return models.Station{}, fmt.Errorf("%w: no station given", ErrStationNotFound)
}
