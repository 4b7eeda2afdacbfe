package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/water-data-explorer/internal/circuitbreaker"
	"github.com/kjstillabower/water-data-explorer/internal/models"
	"github.com/kjstillabower/water-data-explorer/internal/observability"
)

// WMIPClient is the upstream surface used by the service layer.
type WMIPClient interface {
	GetCatalog(ctx context.Context) ([]models.Station, error)
	GetTimeSeries(ctx context.Context, q SeriesQuery) (RawSeries, error)
	Ping(ctx context.Context) error
}

var (
	// ErrUpstreamUnavailable covers network failures, timeouts, open circuit and non-2xx responses.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUnexpectedResponse is returned when a 2xx body does not have the expected shape.
	ErrUnexpectedResponse = errors.New("unexpected upstream response")
)

const (
	endpointCatalog    = "catalog"
	endpointTimeSeries = "timeseries"

	// DefaultDataSource is the Hydstra archive WMIP serves telemetry from.
	DefaultDataSource = "AT"
)

// Client talks to the WMIP Hydstra web service. It does not retry; a failed call is
// returned to the caller as-is.
type Client struct {
	baseURL    string
	dataSource string
	timeout    time.Duration
	client     *http.Client
	clock      clockwork.Clock
	breaker    *circuitbreaker.CircuitBreaker
}

// Option customises a Client.
type Option func(*Client)

// WithClock sets the time source used for default end dates.
func WithClock(c clockwork.Clock) Option {
	return func(cl *Client) {
		if c != nil {
			cl.clock = c
		}
	}
}

// WithDataSource overrides the Hydstra data source code.
func WithDataSource(ds string) Option {
	return func(cl *Client) {
		if ds != "" {
			cl.dataSource = ds
		}
	}
}

// WithCircuitBreaker makes the client fail fast while the breaker is open.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(cl *Client) { cl.breaker = cb }
}

// New returns a Client for the web service at baseURL
// (e.g. https://water-monitoring.information.qld.gov.au/cgi/webservice.exe).
func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid WMIP URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid WMIP URL %q: scheme and host required", baseURL)
	}
	c := &Client{
		baseURL:    baseURL,
		dataSource: DefaultDataSource,
		timeout:    timeout,
		client:     &http.Client{Timeout: timeout},
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// DefaultEnd is one day after now, so same-day provisional readings are included.
func (c *Client) DefaultEnd() time.Time {
	return c.clock.Now().AddDate(0, 0, 1)
}

// Ping fetches the catalog to confirm the upstream answers. Used by health checks.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.GetCatalog(ctx)
	return err
}

// do runs one GET through the breaker, recording metrics under endpoint.
// decode is only called for 2xx responses.
func (c *Client) do(ctx context.Context, endpoint, rawURL, accept string, decode func(*http.Response) error) error {
	call := func() error {
		return c.roundTrip(ctx, endpoint, rawURL, accept, decode)
	}
	if c.breaker == nil {
		return call()
	}
	err := c.breaker.Call(ctx, call)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "circuit_open").Inc()
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, endpoint, rawURL, accept string, decode func(*http.Response) error) error {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if corrID := extractCorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.UpstreamDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: request timeout: %v", ErrUpstreamUnavailable, err)
		}
		return fmt.Errorf("%w: http request failed: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.UpstreamDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	return decode(resp)
}

// correlationIDKey matches the key the HTTP middleware stores the request id under.
const correlationIDKey = "correlation_id"

func extractCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}
