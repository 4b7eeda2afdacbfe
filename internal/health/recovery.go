package health

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// probeTimeout bounds one recovery probe.
const probeTimeout = 30 * time.Second

// recoveryState holds the context recovery goroutines run under; set by Start.
type recoveryState struct {
	ctx context.Context
}

// Start enables recovery probing for the lifetime of ctx.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.recovery = &recoveryState{ctx: ctx}
	m.mu.Unlock()
}

// NotifyDegraded starts a recovery run unless one is already in progress or Start has
// not been called. Non-blocking.
func (m *Monitor) NotifyDegraded() {
	m.mu.Lock()
	rs := m.recovery
	m.mu.Unlock()
	if rs == nil || m.probe == nil {
		return
	}
	if m.recovering.Swap(true) {
		return
	}
	go func() {
		defer m.recovering.Store(false)
		m.runRecovery(rs.ctx)
	}()
}

// runRecovery probes WMIP at Fibonacci intervals from RetryInitial up to RetryMax.
// A successful probe clears recorded errors so health returns to healthy. When every
// probe fails the service stays degraded until the next notification.
func (m *Monitor) runRecovery(ctx context.Context) {
	delays := fibDelays(m.cfg.RetryInitial, m.cfg.RetryMax)
	for i, d := range delays {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(d):
		}
		attemptCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := m.probe(attemptCtx)
		cancel()
		if err == nil {
			m.tracker.ResetErrors()
			m.logger.Info("upstream recovered", zap.Int("attempt", i+1))
			return
		}
		m.logger.Warn("recovery probe failed", zap.Int("attempt", i+1), zap.Duration("delay", d), zap.Error(err))
	}
	m.logger.Error("recovery attempts exhausted; upstream still failing", zap.Int("attempts", len(delays)))
}

// fibDelays returns initial×{1,2,3,5,8,...} capped at max.
func fibDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	var out []time.Duration
	for a, b := int64(1), int64(2); ; a, b = b, a+b {
		d := time.Duration(a) * initial
		if d > max {
			break
		}
		out = append(out, d)
	}
	return out
}
