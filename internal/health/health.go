// Package health evaluates service health from upstream outcomes, rate-limit denials and
// the shutdown flag, and probes WMIP back to health after a degraded period.
package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/water-data-explorer/internal/traffic"
)

// Status values reported by /health.
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusOverloaded   = "overloaded"
	StatusShuttingDown = "shutting-down"
)

// Config holds health thresholds.
type Config struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 disables the overload check
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	RetryInitial         time.Duration
	RetryMax             time.Duration
}

// ProbeFunc checks whether the upstream answers again. Returns nil if recovered.
type ProbeFunc func(ctx context.Context) error

// Result is one health evaluation.
type Result struct {
	Status     string
	StatusCode int
	Reason     string
}

// Monitor evaluates health and drives recovery probing.
type Monitor struct {
	cfg     Config
	tracker *traffic.Tracker
	probe   ProbeFunc
	clock   clockwork.Clock
	logger  *zap.Logger

	shuttingDown atomic.Bool
	recovering   atomic.Bool

	mu       sync.Mutex
	prev     string
	recovery *recoveryState
}

// NewMonitor creates a Monitor over tracker. probe may be nil to disable recovery.
func NewMonitor(cfg Config, tracker *traffic.Tracker, probe ProbeFunc, clock clockwork.Clock, logger *zap.Logger) *Monitor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{cfg: cfg, tracker: tracker, probe: probe, clock: clock, logger: logger}
}

// Tracker returns the outcome tracker the monitor reads.
func (m *Monitor) Tracker() *traffic.Tracker {
	return m.tracker
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT is received;
// health reports shutting-down with 503 while set.
func (m *Monitor) SetShuttingDown(v bool) {
	m.shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func (m *Monitor) IsShuttingDown() bool {
	return m.shuttingDown.Load()
}

// Evaluate determines the current status. Decision order:
// shutting-down > overloaded > degraded > healthy.
func (m *Monitor) Evaluate() Result {
	result := m.evaluate()
	m.mu.Lock()
	if m.prev != "" && m.prev != result.Status {
		m.logger.Info("health status transition",
			zap.String("previous_status", m.prev),
			zap.String("current_status", result.Status),
			zap.String("reason", result.Reason))
	}
	m.prev = result.Status
	m.mu.Unlock()
	return result
}

func (m *Monitor) evaluate() Result {
	if m.IsShuttingDown() {
		return Result{StatusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}
	if m.cfg.RateLimitRPS > 0 && m.cfg.OverloadWindow > 0 && m.cfg.OverloadThresholdPct > 0 {
		capacity := float64(m.cfg.RateLimitRPS) * m.cfg.OverloadWindow.Seconds()
		if float64(m.tracker.DenialCount(m.cfg.OverloadWindow)) > capacity*float64(m.cfg.OverloadThresholdPct)/100 {
			return Result{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if m.degraded() {
		m.NotifyDegraded()
		return Result{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return Result{StatusHealthy, http.StatusOK, ""}
}

func (m *Monitor) degraded() bool {
	if m.cfg.DegradedWindow <= 0 || m.cfg.DegradedErrorPct <= 0 {
		return false
	}
	errs, total := m.tracker.ErrorRate(m.cfg.DegradedWindow)
	if total == 0 {
		return false
	}
	return float64(errs)*100/float64(total) >= float64(m.cfg.DegradedErrorPct)
}

// RecordOutcome records one upstream lookup and starts recovery probing when the
// error rate crosses the degraded threshold.
func (m *Monitor) RecordOutcome(err error) {
	if err != nil {
		m.tracker.RecordError()
		if m.degraded() {
			m.NotifyDegraded()
		}
		return
	}
	m.tracker.RecordSuccess()
}

// RecordDenied records a rate-limit denial.
func (m *Monitor) RecordDenied() {
	m.tracker.RecordDenied()
}
