package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/water-data-explorer/internal/cache"
	"github.com/kjstillabower/water-data-explorer/internal/client"
	"github.com/kjstillabower/water-data-explorer/internal/exceedance"
	"github.com/kjstillabower/water-data-explorer/internal/models"
	"github.com/kjstillabower/water-data-explorer/internal/observability"
)

const (
	seriesCacheType = "series"
	keyDateLayout   = "20060102"
)

// StationLookup resolves a station code against the active catalog.
type StationLookup interface {
	Station(ctx context.Context, code string) (models.Station, error)
}

// SeriesService fetches time series for dashboard selections using the cache-aside
// pattern. Concurrent misses for the same selection share one WMIP call.
type SeriesService struct {
	client    client.WMIPClient
	stations  StationLookup
	cache     cache.Cache[models.Series]
	ttl       time.Duration
	coalescer *requestCoalescer[models.Series]
}

// NewSeriesService creates a SeriesService. ttl is the series cache lifetime and
// coalesceTimeout bounds how long a caller waits on another caller's fetch.
func NewSeriesService(c client.WMIPClient, stations StationLookup, store cache.Cache[models.Series], ttl, coalesceTimeout time.Duration) *SeriesService {
	return &SeriesService{
		client:    c,
		stations:  stations,
		cache:     store,
		ttl:       ttl,
		coalescer: newRequestCoalescer[models.Series](coalesceTimeout),
	}
}

// seriesKey identifies a selection: station, start date and parameter, plus the end
// date when the caller chose one.
func seriesKey(sel models.Selection) string {
	parts := []string{
		strings.ToUpper(strings.TrimSpace(sel.StationCode)),
		sel.Start.In(models.LocalTime).Format(keyDateLayout),
		string(sel.Parameter),
	}
	if !sel.End.IsZero() {
		parts = append(parts, sel.End.In(models.LocalTime).Format(keyDateLayout))
	}
	return strings.Join(parts, "|")
}

// GetSeries returns the series for sel with rejected readings removed. The parameter
// must be in the closed table and the station must be an active gauge.
func (s *SeriesService) GetSeries(ctx context.Context, sel models.Selection) (models.Series, error) {
	start := time.Now()
	logger := loggerFromContext(ctx)

	if _, err := models.VariableCodesFor(sel.Parameter); err != nil {
		recordUpstreamError("timeseries", err)
		if logger != nil {
			logger.Warn("rejected series request", zap.String("parameter", string(sel.Parameter)), zap.Error(err))
		}
		return models.Series{}, err
	}
	station, err := s.stations.Station(ctx, sel.StationCode)
	if err != nil {
		return models.Series{}, err
	}
	observability.SeriesQueriesTotal.WithLabelValues(string(sel.Parameter)).Inc()

	key := seriesKey(sel)
	if cached, ok := cachedGet(ctx, s.cache, seriesCacheType, key); ok {
		if logger != nil {
			logger.Debug("series served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		}
		return cached, nil
	}

	series, shared, err := s.coalescer.GetOrDo(ctx, key, func(ctx context.Context) (models.Series, error) {
		raw, err := s.client.GetTimeSeries(ctx, client.SeriesQuery{
			Station:   station.Code,
			Parameter: sel.Parameter,
			Start:     sel.Start,
			End:       sel.End,
		})
		if err != nil {
			return models.Series{}, err
		}
		kept, rejected := client.DropRejected(raw.Observations)
		observability.ObservationsRejectedTotal.Add(float64(rejected))
		out := models.Series{
			Station:      station,
			Parameter:    sel.Parameter,
			Unit:         raw.Unit,
			Start:        raw.Start,
			End:          raw.End,
			Observations: kept,
			Rejected:     rejected,
		}
		cachedSet(ctx, s.cache, seriesCacheType, key, out, s.ttl)
		return out, nil
	})
	if shared {
		observability.RequestCoalescingHitsTotal.Inc()
	}
	if err != nil {
		recordUpstreamError("timeseries", err)
		if logger != nil {
			logger.Warn("series fetch failed", zap.String("key", key), zap.Error(err))
		}
		return models.Series{}, wrapFetch("series "+key, err)
	}
	if logger != nil {
		logger.Debug("series served",
			zap.String("key", key),
			zap.Bool("cached", false),
			zap.Int("observations", len(series.Observations)),
			zap.Int("rejected", series.Rejected),
			zap.Duration("duration", time.Since(start)))
	}
	return series, nil
}

// GetExceedance returns the exceedance curve of sel's series and the readout for
// sel.Threshold.
func (s *SeriesService) GetExceedance(ctx context.Context, sel models.Selection) (models.Series, exceedance.Curve, exceedance.Summary, error) {
	series, err := s.GetSeries(ctx, sel)
	if err != nil {
		return models.Series{}, exceedance.Curve{}, exceedance.Summary{}, err
	}
	curve := exceedance.Compute(series)
	return series, curve, exceedance.Summarize(curve, sel.Threshold), nil
}
