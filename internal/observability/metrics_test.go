package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that label dimensions match usage in client, http, service,
// cache and chart packages.
func TestMetrics_Usable(t *testing.T) {
	// Route uses path template to avoid cardinality (e.g. /api/stations/{code})
	HTTPRequestsTotal.WithLabelValues("GET", "/api/stations/{code}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/api/series").Observe(0.01)
	UpstreamCallsTotal.WithLabelValues("timeseries", "success").Inc()
	UpstreamDuration.WithLabelValues("catalog", "success").Observe(0.1)
	UpstreamErrorsTotal.WithLabelValues("timeseries", "bad_response").Inc()
	CacheHitsTotal.WithLabelValues("series").Inc()
	CacheMissesTotal.WithLabelValues("catalog").Inc()
	CacheErrorsTotal.WithLabelValues("get", "timeout").Inc()
	CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(0.001)
	SeriesQueriesTotal.WithLabelValues("level").Inc()
	ChartRendersTotal.WithLabelValues("exceedance", "success").Inc()
	ChartRenderDuration.WithLabelValues("series").Observe(0.02)
	RecordCircuitBreakerTransition("wmip", "closed", "open", 1)
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "2xx").Inc()
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}
