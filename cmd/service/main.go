package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/water-data-explorer/internal/cache"
	"github.com/kjstillabower/water-data-explorer/internal/circuitbreaker"
	"github.com/kjstillabower/water-data-explorer/internal/client"
	"github.com/kjstillabower/water-data-explorer/internal/config"
	"github.com/kjstillabower/water-data-explorer/internal/health"
	httphandler "github.com/kjstillabower/water-data-explorer/internal/http"
	"github.com/kjstillabower/water-data-explorer/internal/models"
	"github.com/kjstillabower/water-data-explorer/internal/observability"
	"github.com/kjstillabower/water-data-explorer/internal/service"
	"github.com/kjstillabower/water-data-explorer/internal/traffic"
)

const (
	breakerComponent    = "wmip"
	inFlightWaitTimeout = 10 * time.Second
	inFlightCheck       = 100 * time.Millisecond
	initialWarmTimeout  = 2 * time.Minute
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = observability.Flush(logger) }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	opts := []client.Option{client.WithDataSource(cfg.WMIPDataSource)}
	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(breakerComponent, from.String(), to.String(), int(to))
				logger.Warn("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		opts = append(opts, client.WithCircuitBreaker(cb))
		observability.CircuitBreakerState.WithLabelValues(breakerComponent).Set(0)
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}
	wmipClient, err := client.New(cfg.WMIPURL, cfg.WMIPTimeout, opts...)
	if err != nil {
		logger.Fatal("wmip client", zap.Error(err))
	}

	var (
		catalogCache cache.Cache[[]models.Station]
		seriesCache  cache.Cache[models.Series]
		memcached    *cache.MemcachedBackend
	)
	switch cfg.CacheBackend {
	case "memcached":
		memcached, err = cache.NewMemcachedBackend(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		catalogCache = cache.NewMemcachedCache[[]models.Station](memcached, "catalog")
		seriesCache = cache.NewMemcachedCache[models.Series](memcached, "series")
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		catalogCache = cache.NewInMemoryCache[[]models.Station]()
		seriesCache = cache.NewInMemoryCache[models.Series]().WithMaxEntries(cfg.MaxSeriesEntries)
		logger.Info("cache backend: in_memory")
	}

	catalogService := service.NewCatalogService(wmipClient, catalogCache, cfg.CatalogTTL, cfg.CoalesceTimeout)
	seriesService := service.NewSeriesService(wmipClient, catalogService, seriesCache, cfg.SeriesTTL, cfg.CoalesceTimeout)

	monitor := health.NewMonitor(health.Config{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		RetryInitial:         cfg.DegradedRetryInitial,
		RetryMax:             cfg.DegradedRetryMax,
	}, traffic.NewTracker(nil), wmipClient.Ping, nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	monitor.Start(ctx)

	warmer := cache.NewCacheWarmer(catalogService, seriesService, cfg.WarmSelections(), logger)
	go func() {
		if cfg.WarmInterval > 0 {
			if err := warmer.WarmPeriodic(ctx, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("periodic cache warming stopped", zap.Error(err))
			}
			return
		}
		warmCtx, cancel := context.WithTimeout(ctx, initialWarmTimeout)
		defer cancel()
		if err := warmer.Warm(warmCtx); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
	}()

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handlerOpts := httphandler.Options{
		Defaults: httphandler.Defaults{
			Station:   cfg.DefaultStation,
			Parameter: cfg.DefaultParameter,
			Lookback:  cfg.DefaultLookback,
		},
		Version: version,
	}
	if memcached != nil {
		handlerOpts.CachePing = memcached.Ping
	}
	handler := httphandler.NewHandler(catalogService, seriesService, monitor, logger, handlerOpts)
	router := httphandler.NewRouter(handler, limiter, cfg.RequestTimeout, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Chart routes may wait a full WMIP timeout before rendering.
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	monitor.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), inFlightWaitTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, inFlightCheck); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
