package http

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/wcharczuk/go-chart/v2"
	"go.uber.org/zap"

	"github.com/kjstillabower/water-data-explorer/internal/plot"
)

// GetSeriesChart handles GET /charts/series.png.
func (h *Handler) GetSeriesChart(w http.ResponseWriter, r *http.Request) {
	series, err := h.loadSeries(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeChart(w, r, plot.KindSeries, plot.TimeSeriesChart(series))
}

// GetExceedanceChart handles GET /charts/exceedance.png.
func (h *Handler) GetExceedanceChart(w http.ResponseWriter, r *http.Request) {
	_, curve, summary, err := h.loadExceedance(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeChart(w, r, plot.KindExceedance, plot.ExceedanceChart(curve, summary.Threshold))
}

// GetMapChart handles GET /charts/map.png.
func (h *Handler) GetMapChart(w http.ResponseWriter, r *http.Request) {
	st, err := h.resolveStation(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.writeChart(w, r, plot.KindMap, plot.NewStationMap(st).Chart())
}

// writeChart renders into a buffer first so a failed render still gets a JSON error
// instead of a truncated image.
func (h *Handler) writeChart(w http.ResponseWriter, r *http.Request, kind string, c chart.Chart) {
	var buf bytes.Buffer
	if err := plot.Render(&buf, kind, c); err != nil {
		h.logger.Error("chart render failed", zap.String("chart", kind), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "RENDER_FAILED", "Unable to render chart")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
