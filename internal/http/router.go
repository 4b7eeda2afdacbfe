package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/water-data-explorer/internal/observability"
)

// NewRouter wires the dashboard, API, chart, health and metrics routes. /api and
// /charts are rate limited and bounded by requestTimeout; /health and /metrics are not.
func NewRouter(h *Handler, limiter *rate.Limiter, requestTimeout time.Duration, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	rateLimit := RateLimitMiddleware(limiter, h.monitor)
	timeout := TimeoutMiddleware(requestTimeout)
	limited := []mux.MiddlewareFunc{rateLimit, timeout}

	router.Handle("/", rateLimit(timeout(http.HandlerFunc(h.GetDashboard)))).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(limited...)
	api.HandleFunc("/stations", h.GetStations).Methods(http.MethodGet)
	api.HandleFunc("/stations/refresh", h.RefreshStations).Methods(http.MethodPost)
	api.HandleFunc("/stations/{code}", h.GetStation).Methods(http.MethodGet)
	api.HandleFunc("/parameters", h.GetParameters).Methods(http.MethodGet)
	api.HandleFunc("/series", h.GetSeries).Methods(http.MethodGet)
	api.HandleFunc("/exceedance", h.GetExceedance).Methods(http.MethodGet)
	api.HandleFunc("/map", h.GetMap).Methods(http.MethodGet)

	charts := router.PathPrefix("/charts").Subrouter()
	charts.Use(limited...)
	charts.HandleFunc("/series.png", h.GetSeriesChart).Methods(http.MethodGet)
	charts.HandleFunc("/exceedance.png", h.GetExceedanceChart).Methods(http.MethodGet)
	charts.HandleFunc("/map.png", h.GetMapChart).Methods(http.MethodGet)
	return router
}
