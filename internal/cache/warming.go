package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/water-data-explorer/internal/models"
	"github.com/kjstillabower/water-data-explorer/internal/observability"
)

// CatalogRefresher is implemented by the service layer to reload the station catalog.
// Used by CacheWarmer to avoid a circular dependency on the service package.
type CatalogRefresher interface {
	Refresh(ctx context.Context) ([]models.Station, error)
}

// SeriesFetcher is implemented by the service layer to load one selection's series.
type SeriesFetcher interface {
	GetSeries(ctx context.Context, sel models.Selection) (models.Series, error)
}

// CacheWarmer reloads the catalog and prefetches the series behind the dashboard's
// default view, so the first page load does not wait on WMIP.
type CacheWarmer struct {
	catalog    CatalogRefresher
	series     SeriesFetcher
	selections []models.Selection
	clock      clockwork.Clock
	logger     *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer. series may be nil to warm the catalog only.
func NewCacheWarmer(catalog CatalogRefresher, series SeriesFetcher, selections []models.Selection, logger *zap.Logger) *CacheWarmer {
	return &CacheWarmer{
		catalog:    catalog,
		series:     series,
		selections: selections,
		clock:      clockwork.NewRealClock(),
		logger:     logger,
	}
}

// WithClock replaces the warmer's clock.
func (w *CacheWarmer) WithClock(clock clockwork.Clock) *CacheWarmer {
	w.clock = clock
	return w
}

// Warm refreshes the catalog, then fetches each selection concurrently.
// Selections are skipped when the catalog refresh fails. Returns an aggregated error.
func (w *CacheWarmer) Warm(ctx context.Context) error {
	start := w.clock.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming cache", zap.Int("selections", len(w.selections)))
	}

	var errs []error
	stations, err := w.catalog.Refresh(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("warm catalog: %w", err))
	} else if w.series != nil {
		errs = append(errs, w.warmSelections(ctx)...)
	}

	duration := w.clock.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	if w.logger != nil {
		w.logger.Info("cache warming complete",
			zap.Int("stations", len(stations)),
			zap.Int("errors", len(errs)),
			zap.Float64("duration_seconds", duration))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

func (w *CacheWarmer) warmSelections(ctx context.Context) []error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(w.selections))
	for _, sel := range w.selections {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.series.GetSeries(ctx, sel); err != nil {
				errCh <- fmt.Errorf("warm %s/%s: %w", sel.StationCode, sel.Parameter, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

// WarmPeriodic runs an initial Warm, then refreshes at the given interval until ctx is done.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, interval time.Duration) error {
	if err := w.Warm(ctx); err != nil && w.logger != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := w.Warm(ctx); err != nil && w.logger != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
