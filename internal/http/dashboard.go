package http

import (
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/kjstillabower/water-data-explorer/internal/exceedance"
	"github.com/kjstillabower/water-data-explorer/internal/models"
	"github.com/kjstillabower/water-data-explorer/internal/plot"
	"github.com/kjstillabower/water-data-explorer/internal/validation"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTemplate = template.Must(template.New("dashboard.html").Funcs(template.FuncMap{
	"displayName": plot.DisplayName,
	"percent": func(f float64) string {
		return strconv.FormatFloat(f*100, 'f', 1, 64)
	},
}).ParseFS(templateFS, "templates/dashboard.html"))

type dashboardView struct {
	Stations   []models.Station
	Parameters []models.Parameter
	Selection  models.Selection
	Station    models.Station
	Start      string
	End        string
	Threshold  string
	MinDate    string
	MaxDate    string
	Query      template.URL
	Summary    *exceedance.Summary
	Unit       string
	Error      string
}

// GetDashboard handles GET /: station selector by name, parameter selector, date picker,
// threshold input, and the three chart images for the current selection.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	view := dashboardView{
		Parameters: models.Parameters(),
		MinDate:    validation.MinDate.Format(validation.DateLayout),
		MaxDate:    h.opts.Clock.Now().In(models.LocalTime).Format(validation.DateLayout),
		Threshold:  r.URL.Query().Get("threshold"),
	}
	status := http.StatusOK

	stations, err := h.catalog.Stations(r.Context())
	h.recordOutcome(err)
	if err != nil {
		status, _, view.Error = errorStatus(err)
		h.renderDashboard(w, r, status, view)
		return
	}
	view.Stations = stations

	sel, err := h.selection(r)
	if err == nil {
		view.Start = sel.Start.Format(validation.DateLayout)
		if !sel.End.IsZero() {
			view.End = sel.End.Format(validation.DateLayout)
		}
	}
	var (
		series  models.Series
		curve   exceedance.Curve
		summary exceedance.Summary
	)
	if err == nil {
		series, curve, summary, err = h.series.GetExceedance(r.Context(), sel)
		h.recordOutcome(err)
	}
	if err != nil {
		status, _, view.Error = errorStatus(err)
		h.renderDashboard(w, r, status, view)
		return
	}
	view.Station = series.Station
	view.Selection = sel
	view.Unit = curve.Unit
	view.Summary = &summary

	q := url.Values{}
	q.Set("station", series.Station.Code)
	q.Set("parameter", string(series.Parameter))
	q.Set("start", view.Start)
	if view.End != "" {
		q.Set("end", view.End)
	}
	if view.Threshold != "" {
		q.Set("threshold", view.Threshold)
	}
	view.Query = template.URL(q.Encode())
	h.renderDashboard(w, r, status, view)
}

func (h *Handler) renderDashboard(w http.ResponseWriter, r *http.Request, status int, view dashboardView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := dashboardTemplate.Execute(w, view); err != nil {
		h.logger.Error("dashboard render failed", zap.Error(err))
	}
}
