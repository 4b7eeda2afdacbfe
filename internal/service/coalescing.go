package service

import (
	"context"
	"sync"
	"time"
)

// inFlightRequest is one upstream fetch that several callers may wait for.
type inFlightRequest[V any] struct {
	done   chan struct{}
	result V
	err    error
}

// requestCoalescer collapses concurrent fetches for the same key into one call.
type requestCoalescer[V any] struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest[V]
	timeout  time.Duration
}

// newRequestCoalescer creates a coalescer whose callers stop waiting after timeout.
func newRequestCoalescer[V any](timeout time.Duration) *requestCoalescer[V] {
	return &requestCoalescer[V]{
		inFlight: make(map[string]*inFlightRequest[V]),
		timeout:  timeout,
	}
}

// GetOrDo runs fn for key unless a call for key is already in flight, in which case it
// waits for that call's result. shared reports whether the result came from another
// caller's fetch. fn runs detached from the first caller's cancellation so waiters are
// not failed by it; fn is still expected to bound itself.
func (rc *requestCoalescer[V]) GetOrDo(ctx context.Context, key string, fn func(context.Context) (V, error)) (result V, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest[V]{done: make(chan struct{})}
		rc.inFlight[key] = req
		fetchCtx := context.WithoutCancel(ctx)
		go func() {
			req.result, req.err = fn(fetchCtx)
			rc.mu.Lock()
			delete(rc.inFlight, key)
			rc.mu.Unlock()
			close(req.done)
		}()
	}
	rc.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-req.done:
		return req.result, exists, req.err
	case <-waitCtx.Done():
		var zero V
		return zero, exists, waitCtx.Err()
	}
}
