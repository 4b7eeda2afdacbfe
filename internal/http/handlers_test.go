package http

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kjstillabower/water-data-explorer/internal/models"
	"github.com/kjstillabower/water-data-explorer/internal/plot"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// TestEndToEnd_TestBore covers one active groundwater station: the series table is
// non-empty, the chart is titled after the station and the map has one point at its
// catalog coordinates.
func TestEndToEnd_TestBore(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.get(t, "/api/series?station_name=Test%20Bore&parameter=level&start=2024-03-01")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/series status = %d, body %s", w.Code, w.Body.String())
	}
	var series models.Series
	if err := json.NewDecoder(w.Body).Decode(&series); err != nil {
		t.Fatalf("decode series: %v", err)
	}
	if len(series.Observations) == 0 {
		t.Fatal("series table is empty")
	}
	if series.Station.Code != "143001C" || series.Unit != "Level (m)" {
		t.Errorf("series station/unit = %s/%q", series.Station.Code, series.Unit)
	}
	if got := plot.TimeSeriesChart(series).Title; got != "Test Bore" {
		t.Errorf("chart title = %q, want Test Bore", got)
	}

	w = env.get(t, "/api/map?station_name=Test%20Bore")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/map status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var fc plot.FeatureCollection
	if err := json.NewDecoder(w.Body).Decode(&fc); err != nil {
		t.Fatalf("decode map: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("map features = %d, want 1", len(fc.Features))
	}
	if got := fc.Features[0].Geometry.Coordinates; got != [2]float64{152.0, -27.0} {
		t.Errorf("map point = %v, want [152 -27]", got)
	}

	for _, path := range []string{"/charts/series.png", "/charts/exceedance.png", "/charts/map.png"} {
		w = env.get(t, path+"?station=143001C&parameter=level&start=2024-03-01&threshold=15")
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, body %s", path, w.Code, w.Body.String())
			continue
		}
		if ct := w.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("GET %s Content-Type = %q", path, ct)
		}
		if !bytes.HasPrefix(w.Body.Bytes(), pngSignature) {
			t.Errorf("GET %s body is not a PNG", path)
		}
	}
}

// TestGetSeries_DropsRejected verifies quality 255 readings never reach the response.
func TestGetSeries_DropsRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.get(t, "/api/series?station=143001C&parameter=level&start=2024-03-01")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var series models.Series
	_ = json.NewDecoder(w.Body).Decode(&series)
	if len(series.Observations) != 2 || series.Rejected != 1 {
		t.Fatalf("observations = %d rejected = %d, want 2 and 1", len(series.Observations), series.Rejected)
	}
	for _, o := range series.Observations {
		if o.Quality == models.QualityRejected || o.Value == 30 {
			t.Errorf("rejected reading served: %+v", o)
		}
	}
}

func TestGetSeries_RejectedGapRowDropped(t *testing.T) {
	env := newTestEnv(t, nil)
	env.wmip.seriesBody.Store("time,value,quality,varname\n" +
		"20240301000000,10,10,Level (m)\n" +
		"20240301010000,,255,Level (m)\n")
	w := env.get(t, "/api/series?station=143001C&parameter=level&start=2024-03-01")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var series models.Series
	if err := json.NewDecoder(w.Body).Decode(&series); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(series.Observations) != 1 || series.Rejected != 1 {
		t.Errorf("observations = %d rejected = %d, want 1 and 1", len(series.Observations), series.Rejected)
	}
}

func TestGetSeries_CachedAcrossRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 3; i++ {
		if w := env.get(t, "/api/series?station=143001C&parameter=level&start=2024-03-01"); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	if n := env.wmip.seriesCalls.Load(); n != 1 {
		t.Errorf("upstream series calls = %d, want 1", n)
	}
	if n := env.wmip.catalogCalls.Load(); n != 1 {
		t.Errorf("upstream catalog calls = %d, want 1", n)
	}
}

func TestGetExceedance(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.get(t, "/api/exceedance?station=143001C&parameter=level&start=2024-03-01&threshold=15")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp exceedanceResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Curve.Points) != 2 {
		t.Fatalf("curve points = %d, want 2", len(resp.Curve.Points))
	}
	want := map[float64]float64{10: 1.0, 20: 0.5}
	for _, p := range resp.Curve.Points {
		if e, ok := want[p.Value]; !ok || p.Exceedance != e {
			t.Errorf("point %v exceedance = %v, want %v", p.Value, p.Exceedance, e)
		}
	}
	if resp.Curve.Points[0].Value != 20 {
		t.Errorf("first point = %v, want 20 (sorted by descending rank)", resp.Curve.Points[0].Value)
	}
	if resp.Summary.Threshold != 15 || resp.Summary.Exceedance != 0.5 {
		t.Errorf("summary = %+v, want threshold 15 exceedance 0.5", resp.Summary)
	}
	if resp.Rejected != 1 || resp.Unit != "Level (m)" {
		t.Errorf("rejected/unit = %d/%q", resp.Rejected, resp.Unit)
	}
}

func TestHandler_InputErrors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantErr  string
	}{
		{"unknown parameter", "station=143001C&parameter=salinity&start=2024-03-01", http.StatusBadRequest, "INVALID_PARAMETER"},
		{"bad date format", "station=143001C&parameter=level&start=01/03/2024", http.StatusBadRequest, "INVALID_DATE"},
		{"date before 1970", "station=143001C&parameter=level&start=1969-12-31", http.StatusBadRequest, "INVALID_DATE"},
		{"date after today", "station=143001C&parameter=level&start=2024-03-11", http.StatusBadRequest, "INVALID_DATE"},
		{"end before start", "station=143001C&parameter=level&start=2024-03-05&end=2024-03-01", http.StatusBadRequest, "INVALID_DATE"},
		{"bad threshold", "station=143001C&parameter=level&start=2024-03-01&threshold=high", http.StatusBadRequest, "INVALID_THRESHOLD"},
		{"bad station code", "station=143%3B001&parameter=level&start=2024-03-01", http.StatusBadRequest, "INVALID_STATION"},
		{"unknown station", "station=999999X&parameter=level&start=2024-03-01", http.StatusNotFound, "STATION_NOT_FOUND"},
		{"ceased station", "station=120001A&parameter=level&start=2024-03-01", http.StatusNotFound, "STATION_NOT_FOUND"},
		{"unknown station name", "station_name=Nowhere&parameter=level&start=2024-03-01", http.StatusNotFound, "STATION_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			w := env.get(t, "/api/series?"+tt.query)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			env2 := decodeError(t, w)
			if env2.Error.Code != tt.wantErr {
				t.Errorf("error code = %q, want %q", env2.Error.Code, tt.wantErr)
			}
			if env2.Error.RequestID != "test-correlation-id" {
				t.Errorf("requestId = %q", env2.Error.RequestID)
			}
			if n := env.wmip.seriesCalls.Load(); n != 0 {
				t.Errorf("upstream series calls = %d, want 0", n)
			}
		})
	}
}

func TestHandler_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode int
		wantErr  string
	}{
		{"unavailable", http.StatusServiceUnavailable, "", http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{"server error", http.StatusInternalServerError, "", http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"},
		{"unexpected shape", http.StatusOK, "<html>maintenance</html>\n", http.StatusBadGateway, "UPSTREAM_BAD_RESPONSE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.wmip.seriesStatus.Store(int32(tt.status))
			env.wmip.seriesBody.Store(tt.body)

			w := env.get(t, "/api/series?station=143001C&parameter=level&start=2024-03-01")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if got := decodeError(t, w).Error.Code; got != tt.wantErr {
				t.Errorf("error code = %q, want %q", got, tt.wantErr)
			}
			if env.logs.FilterMessage("upstream error").Len() == 0 {
				t.Error("expected upstream error to be logged")
			}
		})
	}
}

func TestHandler_CatalogUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.wmip.catalogStatus.Store(http.StatusBadGateway)

	w := env.get(t, "/api/stations")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if got := decodeError(t, w).Error.Code; got != "UPSTREAM_UNAVAILABLE" {
		t.Errorf("error code = %q", got)
	}
}

func TestGetStations(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.get(t, "/api/stations")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Count    int              `json:"count"`
		Stations []models.Station `json:"stations"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || len(resp.Stations) != 2 {
		t.Fatalf("stations = %d, want 2 active gauges", resp.Count)
	}
	if resp.Stations[0].Code != "110001D" || resp.Stations[1].Code != "143001C" {
		t.Errorf("stations order = %s,%s", resp.Stations[0].Code, resp.Stations[1].Code)
	}
}

func TestGetStation(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.get(t, "/api/stations/143001c")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st models.Station
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Name != "Test Bore" || st.Latitude != -27 || st.Longitude != 152 {
		t.Errorf("station = %+v", st)
	}

	if w := env.get(t, "/api/stations/999999X"); w.Code != http.StatusNotFound {
		t.Errorf("unknown station status = %d, want 404", w.Code)
	}
}

func TestRefreshStations(t *testing.T) {
	env := newTestEnv(t, nil)
	env.get(t, "/api/stations")
	w := env.do(t, http.MethodPost, "/api/stations/refresh")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if n := env.wmip.catalogCalls.Load(); n != 2 {
		t.Errorf("catalog calls = %d, want 2 (refresh bypasses cache)", n)
	}
	if w := env.get(t, "/api/stations/refresh"); w.Code == http.StatusOK {
		t.Error("GET /api/stations/refresh should not refresh")
	}
}

func TestGetParameters(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.get(t, "/api/parameters")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Parameters []parameterInfo `json:"parameters"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Parameters) != len(models.Parameters()) {
		t.Fatalf("parameters = %d, want %d", len(resp.Parameters), len(models.Parameters()))
	}
	if resp.Parameters[1].Name != "discharge" || resp.Parameters[1].From != "100.00" || resp.Parameters[1].To != "140.00" {
		t.Errorf("discharge = %+v", resp.Parameters[1])
	}
	if last := resp.Parameters[len(resp.Parameters)-1]; last.Name != "pH" {
		t.Errorf("last parameter = %q, want pH", last.Name)
	}
}

func TestGetSeries_Defaults(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.get(t, "/api/series")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var series models.Series
	_ = json.NewDecoder(w.Body).Decode(&series)
	if series.Station.Code != "143001C" || series.Parameter != models.ParameterLevel {
		t.Errorf("defaults = %s/%s", series.Station.Code, series.Parameter)
	}
	if got := series.Start.Format("2006-01-02"); got != "2019-07-01" {
		t.Errorf("default start = %s, want 2019-07-01", got)
	}
}

func TestGetSeries_EmptyBody(t *testing.T) {
	env := newTestEnv(t, nil)
	env.wmip.seriesBody.Store("")
	w := env.get(t, "/api/series?station=143001C&parameter=rainfall&start=2024-03-01")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	for _, path := range []string{"/charts/series.png", "/charts/exceedance.png"} {
		w := env.get(t, path+"?station=143001C&parameter=rainfall&start=2024-03-01")
		if w.Code != http.StatusOK || !bytes.HasPrefix(w.Body.Bytes(), pngSignature) {
			t.Errorf("GET %s on empty series status = %d", path, w.Code)
		}
	}
}

func TestGetHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.get(t, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]interface{}
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp["status"] != "healthy" || resp["service"] != "water-data-explorer" {
		t.Errorf("health = %v", resp)
	}
}

func TestGetHealth_DegradedAfterUpstreamFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	env.wmip.seriesStatus.Store(http.StatusServiceUnavailable)
	env.get(t, "/api/series?station=143001C&parameter=level&start=2024-03-01")
	env.get(t, "/api/series?station=143001C&parameter=level&start=2024-03-02")

	w := env.get(t, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Status != "degraded" || resp.Checks["wmip"] != "unhealthy" {
		t.Errorf("health = %+v", resp)
	}
}

// TestGetHealth_InputErrorsDoNotDegrade verifies bad requests are not counted as
// upstream failures.
func TestGetHealth_InputErrorsDoNotDegrade(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < 5; i++ {
		env.get(t, "/api/series?station=143001C&parameter=salinity")
		env.get(t, "/api/series?station=999999X")
	}
	if w := env.get(t, "/health"); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestGetHealth_ShuttingDown(t *testing.T) {
	env := newTestEnv(t, nil)
	env.monitor.SetShuttingDown(true)
	w := env.get(t, "/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"shutting-down"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestGetDashboard(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.get(t, "/?station=143001C&parameter=level&start=2024-03-01&threshold=15")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, want := range []string{
		`<option value="143001C" selected>Test Bore</option>`,
		`<option value="110001D">Barron River</option>`,
		`<option value="level" selected>level</option>`,
		`<option value="pH">pH</option>`,
		`min="1970-01-01"`,
		`max="2024-03-10"`,
		`value="2024-03-01"`,
		`50.0% of readings are at or above 15`,
		`/charts/exceedance.png?parameter=level&amp;start=2024-03-01&amp;station=143001C&amp;threshold=15`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	if strings.Contains(body, "Closed Weir") {
		t.Error("dashboard lists a ceased station")
	}
}

func TestGetDashboard_DefaultLookback(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.get(t, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `value="2019-07-01"`) {
		t.Error("dashboard does not default the start date to 2019-07-01")
	}
}

func TestGetDashboard_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.get(t, "/?station=143001C&parameter=salinity")
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown parameter status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), `class="error"`) {
		t.Error("dashboard does not show the error")
	}

	env2 := newTestEnv(t, nil)
	env2.wmip.catalogStatus.Store(http.StatusServiceUnavailable)
	if w := env2.get(t, "/"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("catalog down status = %d, want 503", w.Code)
	}
}

func TestWriteJSON_UnencodableValue(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]float64{"value": math.NaN()})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if !json.Valid(w.Body.Bytes()) {
		t.Errorf("body is not valid JSON: %s", w.Body.String())
	}
}
