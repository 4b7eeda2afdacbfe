package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/water-data-explorer/internal/cache"
	"github.com/kjstillabower/water-data-explorer/internal/client"
	"github.com/kjstillabower/water-data-explorer/internal/health"
	"github.com/kjstillabower/water-data-explorer/internal/models"
	"github.com/kjstillabower/water-data-explorer/internal/service"
	"github.com/kjstillabower/water-data-explorer/internal/traffic"
)

const testCatalog = `{"error_num":0,"return":{"rows":[
 {"station":"143001C","stname":"Test Bore","region":"QLD","stntype":"G","latitude":"-27.0","longitude":"152.0","commence":19600101,"cease":18991230},
 {"station":"110001D","stname":"Barron River","region":"QLD","stntype":"GQ","latitude":-16.9,"longitude":145.6,"commence":19150101,"cease":18991230},
 {"station":"120001A","stname":"Closed Weir","region":"QLD","stntype":"G","latitude":"-20.1","longitude":"146.1","commence":19500101,"cease":20010630}
]}}`

// testSeriesCSV holds 10 and 20 (good) and 30 (rejected).
const testSeriesCSV = "time,value,quality,varname\n" +
	"20240301000000,10,10,Level (m)\n" +
	"20240301010000,20,10,Level (m)\n" +
	"20240301020000,30,255,Level (m)\n"

// fakeWMIP answers get_db_info with testCatalog and get_ts_traces with seriesBody.
type fakeWMIP struct {
	*httptest.Server
	catalogStatus atomic.Int32
	seriesStatus  atomic.Int32
	seriesBody    atomic.Value
	catalogCalls  atomic.Int32
	seriesCalls   atomic.Int32
}

func newFakeWMIP(t *testing.T) *fakeWMIP {
	t.Helper()
	f := &fakeWMIP{}
	f.catalogStatus.Store(http.StatusOK)
	f.seriesStatus.Store(http.StatusOK)
	f.seriesBody.Store(testSeriesCSV)
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("function") == "get_ts_traces" {
			f.seriesCalls.Add(1)
			w.WriteHeader(int(f.seriesStatus.Load()))
			_, _ = w.Write([]byte(f.seriesBody.Load().(string)))
			return
		}
		f.catalogCalls.Add(1)
		w.WriteHeader(int(f.catalogStatus.Load()))
		_, _ = w.Write([]byte(testCatalog))
	}))
	t.Cleanup(f.Close)
	return f
}

// testNow is "today" for every handler test.
var testNow = time.Date(2024, 3, 10, 9, 0, 0, 0, models.LocalTime)

type testEnv struct {
	wmip    *fakeWMIP
	router  *mux.Router
	monitor *health.Monitor
	logs    *observer.ObservedLogs
	clock   *clockwork.FakeClock
}

func newTestEnv(t *testing.T, limiter *rate.Limiter) *testEnv {
	t.Helper()
	wmip := newFakeWMIP(t)
	clock := clockwork.NewFakeClockAt(testNow)
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	c, err := client.New(wmip.URL, 2*time.Second, client.WithClock(clock))
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	catalog := service.NewCatalogService(c, cache.NewInMemoryCache[[]models.Station](), time.Hour, time.Second)
	series := service.NewSeriesService(c, catalog, cache.NewInMemoryCache[models.Series](), time.Minute, time.Second)
	monitor := health.NewMonitor(health.Config{
		DegradedWindow:   5 * time.Minute,
		DegradedErrorPct: 50,
	}, traffic.NewTracker(clock), nil, clock, logger)

	h := NewHandler(catalog, series, monitor, logger, Options{
		Clock:    clock,
		Defaults: Defaults{Station: "143001C", Parameter: models.ParameterLevel},
	})
	return &testEnv{
		wmip:    wmip,
		router:  NewRouter(h, limiter, 5*time.Second, logger),
		monitor: monitor,
		logs:    logs,
		clock:   clock,
	}
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, http.MethodGet, target)
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set("X-Correlation-ID", "test-correlation-id")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type errorEnvelope struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&env); err != nil {
		t.Fatalf("decode error envelope: %v (body %q)", err, w.Body.String())
	}
	return env
}
