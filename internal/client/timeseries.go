package client

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kjstillabower/water-data-explorer/internal/models"
)

const (
	// requestDateLayout is the truncated YYYYMMDD form sent as start_time/end_time.
	requestDateLayout = "20060102"
	// responseTimeLayout is the full-precision timestamp in the CSV time column.
	responseTimeLayout = "20060102150405"
)

// SeriesQuery selects one hourly-mean trace.
type SeriesQuery struct {
	Station   string
	Parameter models.Parameter
	Start     time.Time
	// End defaults to DefaultEnd when zero.
	End        time.Time
	DataSource string
}

// RawSeries is the parsed CSV before quality filtering.
type RawSeries struct {
	Unit         string
	Start        time.Time
	End          time.Time
	Observations []models.Observation
}

func (c *Client) timeSeriesURL(q SeriesQuery, codes models.VariableCodes) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid WMIP URL: %w", err)
	}
	ds := q.DataSource
	if ds == "" {
		ds = c.dataSource
	}
	params := url.Values{}
	params.Set("function", "get_ts_traces")
	params.Set("site_list", q.Station)
	params.Set("datasource", ds)
	params.Set("varfrom", codes.From)
	params.Set("varto", codes.To)
	params.Set("start_time", q.Start.In(models.LocalTime).Format(requestDateLayout))
	params.Set("end_time", q.End.In(models.LocalTime).Format(requestDateLayout))
	params.Set("data_type", "mean")
	params.Set("interval", "hour")
	params.Set("multiplier", "1")
	params.Set("format", "csv")
	u.RawQuery = params.Encode()
	return u.String(), nil
}

// GetTimeSeries fetches hourly means for q. The parameter must be in the closed table;
// anything else fails with models.ErrUnknownParameter before any request is made.
func (c *Client) GetTimeSeries(ctx context.Context, q SeriesQuery) (RawSeries, error) {
	codes, err := models.VariableCodesFor(q.Parameter)
	if err != nil {
		return RawSeries{}, err
	}
	if strings.TrimSpace(q.Station) == "" {
		return RawSeries{}, fmt.Errorf("station is required")
	}
	if q.End.IsZero() {
		q.End = c.DefaultEnd()
	}
	rawURL, err := c.timeSeriesURL(q, codes)
	if err != nil {
		return RawSeries{}, err
	}

	var out RawSeries
	err = c.do(ctx, endpointTimeSeries, rawURL, "text/csv", func(resp *http.Response) error {
		parsed, err := ParseSeriesCSV(resp.Body)
		if err != nil {
			return err
		}
		out = parsed
		return nil
	})
	if err != nil {
		return RawSeries{}, err
	}
	out.Start = q.Start
	out.End = q.End
	return out, nil
}

// ParseSeriesCSV reads a get_ts_traces CSV body. Columns are located by header name;
// time, value and quality are required, varname supplies the unit label. An empty body
// is an empty series.
func ParseSeriesCSV(r io.Reader) (RawSeries, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			// WMIP answers a range with no readings with an empty body.
			return RawSeries{}, nil
		}
		return RawSeries{}, fmt.Errorf("%w: read CSV header: %v", ErrUnexpectedResponse, err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, name := range []string{"time", "value", "quality"} {
		if _, ok := cols[name]; !ok {
			return RawSeries{}, fmt.Errorf("%w: CSV missing %q column", ErrUnexpectedResponse, name)
		}
	}
	varnameIdx, hasVarname := cols["varname"]

	var out RawSeries
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return RawSeries{}, fmt.Errorf("%w: CSV line %d: %v", ErrUnexpectedResponse, line, err)
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		obs, err := parseRecord(rec, cols)
		if err != nil {
			return RawSeries{}, fmt.Errorf("%w: CSV line %d: %v", ErrUnexpectedResponse, line, err)
		}
		if out.Unit == "" && hasVarname && varnameIdx < len(rec) {
			out.Unit = strings.TrimSpace(rec[varnameIdx])
		}
		out.Observations = append(out.Observations, obs)
	}
	return out, nil
}

func parseRecord(rec []string, cols map[string]int) (models.Observation, error) {
	field := func(name string) (string, error) {
		i := cols[name]
		if i >= len(rec) {
			return "", fmt.Errorf("missing %s", name)
		}
		return strings.TrimSpace(rec[i]), nil
	}
	ts, err := field("time")
	if err != nil {
		return models.Observation{}, err
	}
	t, err := time.ParseInLocation(responseTimeLayout, ts, models.LocalTime)
	if err != nil {
		return models.Observation{}, fmt.Errorf("time %q: %w", ts, err)
	}
	qs, err := field("quality")
	if err != nil {
		return models.Observation{}, err
	}
	q, err := strconv.Atoi(qs)
	if err != nil {
		return models.Observation{}, fmt.Errorf("quality %q: %w", qs, err)
	}
	vs, err := field("value")
	if err != nil {
		return models.Observation{}, err
	}
	v, err := strconv.ParseFloat(vs, 64)
	if q == models.QualityRejected {
		// Rejected rows are dropped later; gaps often carry no usable value.
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			v = math.NaN()
		}
		return models.Observation{Time: t, Value: v, Quality: q}, nil
	}
	if err != nil {
		return models.Observation{}, fmt.Errorf("value %q: %w", vs, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return models.Observation{}, fmt.Errorf("value %q is not finite", vs)
	}
	return models.Observation{Time: t, Value: v, Quality: q}, nil
}

// DropRejected removes readings flagged models.QualityRejected and returns how many were dropped.
func DropRejected(obs []models.Observation) ([]models.Observation, int) {
	kept := make([]models.Observation, 0, len(obs))
	for _, o := range obs {
		if o.Quality == models.QualityRejected {
			continue
		}
		kept = append(kept, o)
	}
	return kept, len(obs) - len(kept)
}
