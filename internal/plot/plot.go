// Package plot renders series, exceedance curves and station maps as PNG charts.
package plot

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/kjstillabower/water-data-explorer/internal/exceedance"
	"github.com/kjstillabower/water-data-explorer/internal/models"
	"github.com/kjstillabower/water-data-explorer/internal/observability"
)

const (
	// ExceedanceAxisName labels the exceedance chart's x axis.
	ExceedanceAxisName = "Exceedance probability [%]"

	defaultWidth  = 900
	defaultHeight = 420
)

// Chart kinds, used as metric labels.
const (
	KindSeries     = "series"
	KindExceedance = "exceedance"
	KindMap        = "map"
)

var (
	gridMajor = chart.Style{StrokeColor: drawing.ColorFromHex("bbbbbb"), StrokeWidth: 1, StrokeDashArray: []float64{2, 2}}
	gridMinor = chart.Style{StrokeColor: drawing.ColorFromHex("e0e0e0"), StrokeWidth: 0.5, StrokeDashArray: []float64{1, 3}}

	lineStyle      = chart.Style{StrokeColor: chart.ColorBlue, StrokeWidth: 1.5}
	thresholdStyle = chart.Style{StrokeColor: drawing.ColorRed, StrokeWidth: 2, StrokeDashArray: []float64{6, 4}}
)

// pointStyle renders points only, without connecting lines.
func pointStyle(col drawing.Color, width float64) chart.Style {
	return chart.Style{
		StrokeWidth: chart.Disabled,
		DotWidth:    width,
		DotColor:    col,
	}
}

// DisplayName is the chart title for a station: its name, or its code if unnamed.
func DisplayName(st models.Station) string {
	if st.Name != "" {
		return st.Name
	}
	return st.Code
}

// TimeSeriesChart draws value against time with the station name as title and the
// series unit on the y axis. Empty and single-reading series render with padded ranges.
func TimeSeriesChart(series models.Series) chart.Chart {
	xs := make([]time.Time, 0, len(series.Observations))
	ys := make([]float64, 0, len(series.Observations))
	for _, o := range series.Observations {
		xs = append(xs, o.Time)
		ys = append(ys, o.Value)
	}

	xr := timeRange(xs, series.Start, series.End)
	yMin, yMax := bounds(ys)

	return chart.Chart{
		Title:  DisplayName(series.Station),
		Width:  defaultWidth,
		Height: defaultHeight,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat("2006-01-02"),
			Range:          xr,
		},
		YAxis: chart.YAxis{
			Name:  series.Unit,
			Range: padLinear(yMin, yMax),
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: string(series.Parameter), XValues: xs, YValues: ys, Style: lineStyle},
		},
	}
}

// timeRange spans the readings, falling back to the requested window when they do not
// cover two distinct times.
func timeRange(xs []time.Time, start, end time.Time) *chart.ContinuousRange {
	var lo, hi time.Time
	for i, t := range xs {
		if i == 0 || t.Before(lo) {
			lo = t
		}
		if i == 0 || t.After(hi) {
			hi = t
		}
	}
	switch {
	case len(xs) > 0 && hi.After(lo):
		start, end = lo, hi
	case len(xs) > 0:
		start, end = lo.Add(-12*time.Hour), lo.Add(12*time.Hour)
	case start.IsZero() || !end.After(start):
		start = time.Date(1970, 1, 1, 0, 0, 0, 0, models.LocalTime)
		end = start.AddDate(0, 0, 1)
	}
	return &chart.ContinuousRange{Min: chart.TimeToFloat64(start), Max: chart.TimeToFloat64(end)}
}

// ExceedanceChart draws value against exceedance probability. The x axis runs from
// 100% down to 0% and the y axis is logarithmic; readings at or below zero cannot be
// placed on it and are left out of the drawing. A positive threshold is drawn as a
// dashed red line across the full probability range.
// Plotting exceedance rather than percentile rank puts the largest readings at the
// right-hand (rare) end of the axis.
func ExceedanceChart(curve exceedance.Curve, threshold float64) chart.Chart {
	xs := make([]float64, 0, len(curve.Points))
	ys := make([]float64, 0, len(curve.Points))
	for _, p := range curve.Points {
		if p.Value <= 0 || math.IsNaN(p.Value) {
			continue
		}
		xs = append(xs, p.Exceedance*100)
		ys = append(ys, p.Value)
	}

	series := []chart.Series{
		chart.ContinuousSeries{Name: "exceedance", XValues: xs, YValues: ys, Style: lineStyle},
	}
	logValues := ys
	if threshold > 0 {
		logValues = append(append([]float64(nil), ys...), threshold)
		series = append(series, chart.ContinuousSeries{
			Name:    "threshold",
			XValues: []float64{0, 100},
			YValues: []float64{threshold, threshold},
			Style:   thresholdStyle,
		})
	}
	yMin, yMax := bounds(logValues)

	return chart.Chart{
		Width:  defaultWidth,
		Height: defaultHeight,
		Background: chart.Style{
			Padding: chart.Box{Top: 20, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: chart.XAxis{
			Name:           ExceedanceAxisName,
			Range:          &chart.ContinuousRange{Min: 0, Max: 100, Descending: true},
			Ticks:          percentTicks(),
			GridMajorStyle: gridMajor,
			GridMinorStyle: gridMinor,
		},
		YAxis: chart.YAxis{
			Name:           curve.Unit,
			Range:          padLog(yMin, yMax),
			GridMajorStyle: gridMajor,
			GridMinorStyle: gridMinor,
		},
		Series: series,
	}
}

func percentTicks() []chart.Tick {
	ticks := make([]chart.Tick, 0, 11)
	for v := 0; v <= 100; v += 10 {
		ticks = append(ticks, chart.Tick{Value: float64(v), Label: fmt.Sprintf("%d", v)})
	}
	return ticks
}

// bounds returns min and max of values, NaN for an empty slice.
func bounds(values []float64) (lo, hi float64) {
	lo, hi = math.NaN(), math.NaN()
	for i, v := range values {
		if i == 0 || v < lo {
			lo = v
		}
		if i == 0 || v > hi {
			hi = v
		}
	}
	return lo, hi
}

// padLinear widens a degenerate or empty range so the renderer has a non-zero span.
func padLinear(lo, hi float64) *chart.ContinuousRange {
	switch {
	case math.IsNaN(lo):
		lo, hi = 0, 1
	case lo == hi:
		pad := math.Abs(lo) * 0.1
		if pad == 0 {
			pad = 1
		}
		lo, hi = lo-pad, hi+pad
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}

// padLog rounds a positive range out to whole decades.
func padLog(lo, hi float64) *chart.LogarithmicRange {
	if math.IsNaN(lo) || lo <= 0 {
		return &chart.LogarithmicRange{Min: 1, Max: 10}
	}
	lo = math.Pow(10, math.Floor(math.Log10(lo)))
	hi = math.Pow(10, math.Ceil(math.Log10(hi)))
	if hi <= lo {
		hi = lo * 10
	}
	return &chart.LogarithmicRange{Min: lo, Max: hi}
}

// Render writes c to w as PNG and records the render under kind.
func Render(w io.Writer, kind string, c chart.Chart) error {
	start := time.Now()
	err := c.Render(chart.PNG, w)
	observability.ChartRenderDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
	}
	observability.ChartRendersTotal.WithLabelValues(kind, result).Inc()
	if err != nil {
		return fmt.Errorf("render %s chart: %w", kind, err)
	}
	return nil
}
