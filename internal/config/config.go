package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/water-data-explorer/internal/models"
)

const (
	defaultWMIPURL   = "https://water-monitoring.information.qld.gov.au/cgi/webservice.exe"
	defaultLookback  = "2019-07-01"
	lookbackLayout   = "2006-01-02"
	cacheInMemory    = "in_memory"
	cacheMemcached   = "memcached"
	defaultStationID = "143001C"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WMIPURL        string
	WMIPTimeout    time.Duration
	WMIPDataSource string

	RequestTimeout time.Duration

	CacheBackend     string // "in_memory" or "memcached"
	CatalogTTL       time.Duration
	SeriesTTL        time.Duration
	CoalesceTimeout  time.Duration
	WarmInterval     time.Duration // 0 disables periodic warming
	MaxSeriesEntries int           // in-memory series cache bound

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	DegradedRetryInitial time.Duration
	DegradedRetryMax     time.Duration

	DefaultStation   string
	DefaultParameter models.Parameter
	DefaultLookback  time.Time
	WarmParameters   []models.Parameter
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WMIP struct {
		URL        string `yaml:"url"`
		Timeout    string `yaml:"timeout"`
		DataSource string `yaml:"datasource"`
	} `yaml:"wmip"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend          string `yaml:"backend"`
		CatalogTTL       string `yaml:"catalog_ttl"`
		SeriesTTL        string `yaml:"series_ttl"`
		CoalesceTimeout  string `yaml:"coalesce_timeout"`
		WarmInterval     string `yaml:"warm_interval"`
		MaxSeriesEntries int    `yaml:"max_series_entries"`
		Memcached        struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		DegradedRetryInitial string `yaml:"degraded_retry_initial"`
		DegradedRetryMax     string `yaml:"degraded_retry_max"`
	} `yaml:"lifecycle"`

	Dashboard struct {
		DefaultStation   string   `yaml:"default_station"`
		DefaultParameter string   `yaml:"default_parameter"`
		DefaultLookback  string   `yaml:"default_lookback"`
		WarmParameters   []string `yaml:"warm_parameters"`
	} `yaml:"dashboard"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) after loading an
// optional .env file. Env vars WMIP_URL, CACHE_BACKEND, MEMCACHED_ADDRS and SERVER_PORT
// override the file. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes, applying env overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")

	cfg.WMIPURL = firstNonEmpty(os.Getenv("WMIP_URL"), fc.WMIP.URL, defaultWMIPURL)
	cfg.WMIPTimeout = parseDurationOrZero(fc.WMIP.Timeout, 30*time.Second)
	cfg.WMIPDataSource = strings.ToUpper(firstNonEmpty(fc.WMIP.DataSource, "AT"))

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 35*time.Second)

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, cacheInMemory))
	cfg.CatalogTTL = parseDuration(fc.Cache.CatalogTTL, 24*time.Hour)
	cfg.SeriesTTL = parseDuration(fc.Cache.SeriesTTL, 15*time.Minute)
	cfg.CoalesceTimeout = parseDuration(fc.Cache.CoalesceTimeout, cfg.WMIPTimeout+5*time.Second)
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)
	cfg.MaxSeriesEntries = fc.Cache.MaxSeriesEntries
	if cfg.MaxSeriesEntries <= 0 {
		cfg.MaxSeriesEntries = 256
	}
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 1
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 5*time.Minute)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.DegradedRetryInitial = parseDuration(fc.Lifecycle.DegradedRetryInitial, time.Minute)
	cfg.DegradedRetryMax = parseDuration(fc.Lifecycle.DegradedRetryMax, 20*time.Minute)

	cfg.DefaultStation = strings.ToUpper(firstNonEmpty(fc.Dashboard.DefaultStation, defaultStationID))
	lookback := firstNonEmpty(fc.Dashboard.DefaultLookback, defaultLookback)
	var err error
	cfg.DefaultLookback, err = time.ParseInLocation(lookbackLayout, lookback, models.LocalTime)
	if err != nil {
		return nil, fmt.Errorf("dashboard.default_lookback must be YYYY-MM-DD, got %q", lookback)
	}
	cfg.DefaultParameter, err = models.ParseParameter(firstNonEmpty(fc.Dashboard.DefaultParameter, string(models.ParameterLevel)))
	if err != nil {
		return nil, fmt.Errorf("dashboard.default_parameter: %w", err)
	}
	for _, p := range fc.Dashboard.WarmParameters {
		param, err := models.ParseParameter(p)
		if err != nil {
			return nil, fmt.Errorf("dashboard.warm_parameters: %w", err)
		}
		cfg.WarmParameters = append(cfg.WarmParameters, param)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WarmSelections returns the dashboard default view for each warmed parameter.
func (c *Config) WarmSelections() []models.Selection {
	out := make([]models.Selection, 0, len(c.WarmParameters))
	for _, p := range c.WarmParameters {
		out = append(out, models.Selection{StationCode: c.DefaultStation, Parameter: p, Start: c.DefaultLookback})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Ensures WMIPTimeout is positive, RequestTimeout exceeds it, and CacheBackend is valid.
// Auto-adjusts RequestTimeout if needed.
func validate(cfg *Config) error {
	if cfg.WMIPTimeout <= 0 {
		return fmt.Errorf("wmip.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WMIPTimeout {
		cfg.RequestTimeout = cfg.WMIPTimeout + time.Second
	}
	if cfg.WarmInterval < 0 {
		return fmt.Errorf("cache.warm_interval must not be negative")
	}
	switch cfg.CacheBackend {
	case cacheInMemory, cacheMemcached:
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.DegradedRetryMax < cfg.DegradedRetryInitial {
		return fmt.Errorf("lifecycle.degraded_retry_max must be at least degraded_retry_initial")
	}
	return nil
}
