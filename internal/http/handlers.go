package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/water-data-explorer/internal/client"
	"github.com/kjstillabower/water-data-explorer/internal/exceedance"
	"github.com/kjstillabower/water-data-explorer/internal/health"
	"github.com/kjstillabower/water-data-explorer/internal/models"
	"github.com/kjstillabower/water-data-explorer/internal/observability"
	"github.com/kjstillabower/water-data-explorer/internal/plot"
	"github.com/kjstillabower/water-data-explorer/internal/service"
	"github.com/kjstillabower/water-data-explorer/internal/traffic"
	"github.com/kjstillabower/water-data-explorer/internal/validation"
)

// maxStationNameLen bounds station_name query values.
const maxStationNameLen = 128

// Defaults fill dashboard selections the caller leaves empty.
type Defaults struct {
	Station   string
	Parameter models.Parameter
	Lookback  time.Time
}

// Options holds optional Handler dependencies.
type Options struct {
	Defaults Defaults
	// Clock decides "today" for date bounds. Defaults to the real clock.
	Clock clockwork.Clock
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	Version   string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	catalog *service.CatalogService
	series  *service.SeriesService
	monitor *health.Monitor
	logger  *zap.Logger
	opts    Options
}

// NewHandler returns a new Handler.
func NewHandler(
	catalog *service.CatalogService,
	series *service.SeriesService,
	monitor *health.Monitor,
	logger *zap.Logger,
	opts Options,
) *Handler {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Defaults.Parameter == "" {
		opts.Defaults.Parameter = models.ParameterLevel
	}
	if opts.Defaults.Lookback.IsZero() {
		opts.Defaults.Lookback = time.Date(2019, 7, 1, 0, 0, 0, 0, models.LocalTime)
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if monitor == nil {
		monitor = health.NewMonitor(health.Config{}, traffic.NewTracker(opts.Clock), nil, opts.Clock, logger)
	}
	return &Handler{
		catalog: catalog,
		series:  series,
		monitor: monitor,
		logger:  logger,
		opts:    opts,
	}
}

// GetStations handles GET /api/stations.
func (h *Handler) GetStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.catalog.Stations(r.Context())
	h.recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(stations),
		"stations": stations,
	})
}

// GetStation handles GET /api/stations/{code}.
func (h *Handler) GetStation(w http.ResponseWriter, r *http.Request) {
	code, err := validation.ValidateStationCode(mux.Vars(r)["code"])
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	st, err := h.catalog.Station(r.Context(), code)
	h.recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// RefreshStations handles POST /api/stations/refresh.
func (h *Handler) RefreshStations(w http.ResponseWriter, r *http.Request) {
	stations, err := h.catalog.Refresh(r.Context())
	h.recordOutcome(err)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(stations),
		"refreshedAt": h.opts.Clock.Now().UTC().Format(time.RFC3339),
	})
}

type parameterInfo struct {
	Name string `json:"name"`
	models.VariableCodes
}

// GetParameters handles GET /api/parameters.
func (h *Handler) GetParameters(w http.ResponseWriter, r *http.Request) {
	params := models.Parameters()
	out := make([]parameterInfo, 0, len(params))
	for _, p := range params {
		codes, _ := models.VariableCodesFor(p)
		out = append(out, parameterInfo{Name: string(p), VariableCodes: codes})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"parameters": out})
}

// GetSeries handles GET /api/series.
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	series, err := h.loadSeries(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

type exceedanceResponse struct {
	Station   models.Station     `json:"station"`
	Parameter models.Parameter   `json:"parameter"`
	Unit      string             `json:"unit"`
	Rejected  int                `json:"rejected"`
	Summary   exceedance.Summary `json:"summary"`
	Curve     exceedance.Curve   `json:"curve"`
}

// GetExceedance handles GET /api/exceedance.
func (h *Handler) GetExceedance(w http.ResponseWriter, r *http.Request) {
	series, curve, summary, err := h.loadExceedance(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exceedanceResponse{
		Station:   series.Station,
		Parameter: series.Parameter,
		Unit:      series.Unit,
		Rejected:  series.Rejected,
		Summary:   summary,
		Curve:     curve,
	})
}

// GetMap handles GET /api/map and returns the selected station as GeoJSON.
func (h *Handler) GetMap(w http.ResponseWriter, r *http.Request) {
	st, err := h.resolveStation(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(plot.NewStationMap(st).GeoJSON())
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.monitor.Evaluate()

	checks := make(map[string]string)
	if result.Status == health.StatusDegraded {
		checks["wmip"] = "unhealthy"
	} else {
		checks["wmip"] = "healthy"
	}
	if h.opts.CachePing != nil {
		if h.opts.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.Status,
		"service":   observability.ServiceName,
		"version":   h.opts.Version,
		"checks":    checks,
		"timestamp": h.opts.Clock.Now().UTC().Format(time.RFC3339),
	}
	if result.Reason != "" {
		resp["reason"] = result.Reason
	}
	writeJSON(w, result.StatusCode, resp)
}

// resolveStation reads station (code) or station_name, falling back to the default
// station, and looks it up in the active catalog.
func (h *Handler) resolveStation(r *http.Request) (models.Station, error) {
	code, name, err := h.stationArgs(r)
	if err != nil {
		return models.Station{}, err
	}
	st, err := h.catalog.Resolve(r.Context(), code, name)
	h.recordOutcome(err)
	return st, err
}

func (h *Handler) stationArgs(r *http.Request) (code, name string, err error) {
	q := r.URL.Query()
	rawCode, rawName := q.Get("station"), q.Get("station_name")
	switch {
	case strings.TrimSpace(rawCode) != "":
		code, err = validation.ValidateStationCode(rawCode)
	case strings.TrimSpace(rawName) != "":
		name, err = validation.ValidateStationName(rawName, maxStationNameLen)
	case h.opts.Defaults.Station != "":
		code, err = validation.ValidateStationCode(h.opts.Defaults.Station)
	default:
		err = validation.ErrStationEmpty
	}
	return code, name, err
}

// parseSelection validates every query argument before any upstream lookup, so bad
// input is reported as 400 even when WMIP is down.
func (h *Handler) parseSelection(r *http.Request) (models.Selection, string, string, error) {
	q := r.URL.Query()
	code, name, err := h.stationArgs(r)
	if err != nil {
		return models.Selection{}, "", "", err
	}
	param := h.opts.Defaults.Parameter
	if raw := q.Get("parameter"); strings.TrimSpace(raw) != "" {
		if param, err = validation.ParseParameter(raw); err != nil {
			return models.Selection{}, "", "", err
		}
	}
	today := h.opts.Clock.Now()
	start, end := h.opts.Defaults.Lookback, time.Time{}
	if rawStart := q.Get("start"); strings.TrimSpace(rawStart) != "" {
		if start, end, err = validation.ParseDateRange(rawStart, q.Get("end"), today); err != nil {
			return models.Selection{}, "", "", err
		}
	} else if rawEnd := q.Get("end"); strings.TrimSpace(rawEnd) != "" {
		if start, end, err = validation.ParseDateRange(start.Format(validation.DateLayout), rawEnd, today); err != nil {
			return models.Selection{}, "", "", err
		}
	}
	threshold, err := validation.ParseThreshold(q.Get("threshold"))
	if err != nil {
		return models.Selection{}, "", "", err
	}
	return models.Selection{
		Parameter: param,
		Start:     start,
		End:       end,
		Threshold: threshold,
	}, code, name, nil
}

// selection parses the request and resolves its station.
func (h *Handler) selection(r *http.Request) (models.Selection, error) {
	sel, code, name, err := h.parseSelection(r)
	if err != nil {
		return models.Selection{}, err
	}
	st, err := h.catalog.Resolve(r.Context(), code, name)
	h.recordOutcome(err)
	if err != nil {
		return models.Selection{}, err
	}
	sel.StationCode = st.Code
	return sel, nil
}

func (h *Handler) loadSeries(r *http.Request) (models.Series, error) {
	sel, err := h.selection(r)
	if err != nil {
		return models.Series{}, err
	}
	series, err := h.series.GetSeries(r.Context(), sel)
	h.recordOutcome(err)
	return series, err
}

func (h *Handler) loadExceedance(r *http.Request) (models.Series, exceedance.Curve, exceedance.Summary, error) {
	sel, err := h.selection(r)
	if err != nil {
		return models.Series{}, exceedance.Curve{}, exceedance.Summary{}, err
	}
	series, curve, summary, err := h.series.GetExceedance(r.Context(), sel)
	h.recordOutcome(err)
	return series, curve, summary, err
}

// recordOutcome feeds upstream results into health tracking. Input and lookup errors say
// nothing about WMIP and are not counted.
func (h *Handler) recordOutcome(err error) {
	if err == nil || isUpstreamError(err) {
		h.monitor.RecordOutcome(err)
	}
}

func isUpstreamError(err error) bool {
	return errors.Is(err, client.ErrUpstreamUnavailable) ||
		errors.Is(err, client.ErrUnexpectedResponse) ||
		errors.Is(err, context.DeadlineExceeded)
}

// writeJSON writes a JSON response with the specified HTTP status code.
// The body is encoded before the header goes out so an unencodable value becomes a 500
// instead of a truncated response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"ENCODE_FAILED","message":"response could not be encoded"}}` + "\n"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// errorStatus maps a handler error to its HTTP status and error code.
func errorStatus(err error) (int, string, string) {
	switch {
	case errors.Is(err, models.ErrUnknownParameter):
		return http.StatusBadRequest, "INVALID_PARAMETER", err.Error()
	case errors.Is(err, validation.ErrDateFormat),
		errors.Is(err, validation.ErrDateOutOfRange),
		errors.Is(err, validation.ErrDateOrder):
		return http.StatusBadRequest, "INVALID_DATE", err.Error()
	case errors.Is(err, validation.ErrThresholdInvalid):
		return http.StatusBadRequest, "INVALID_THRESHOLD", err.Error()
	case errors.Is(err, validation.ErrStationEmpty), errors.Is(err, validation.ErrStationInvalid):
		return http.StatusBadRequest, "INVALID_STATION", err.Error()
	case errors.Is(err, service.ErrStationNotFound):
		return http.StatusNotFound, "STATION_NOT_FOUND", "station not found in active gauge catalog"
	case errors.Is(err, client.ErrUnexpectedResponse):
		return http.StatusBadGateway, "UPSTREAM_BAD_RESPONSE", "Unexpected response from water monitoring service"
	default:
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch water monitoring data"
	}
}

// writeServiceError writes the error envelope for err. Upstream failures are logged at
// DEBUG level if a logger is available in request context.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := errorStatus(err)
	writeError(w, r, status, code, message)
	if status < http.StatusInternalServerError {
		return
	}
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
