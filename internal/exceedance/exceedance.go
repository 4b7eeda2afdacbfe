// Package exceedance computes empirical exceedance-probability curves from a series.
package exceedance

import (
	"sort"
	"time"

	"github.com/kjstillabower/water-data-explorer/internal/models"
)

// Point is one observation placed on the curve.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
	// PercentileRank is the average tie rank divided by N, in (0, 1].
	PercentileRank float64 `json:"percentileRank"`
	// Exceedance is the fraction of the record at or above Value, ties averaged.
	Exceedance float64 `json:"exceedance"`
}

// Curve is the exceedance curve of one series, sorted by descending percentile rank.
type Curve struct {
	Unit   string  `json:"unit"`
	Points []Point `json:"points"`
}

// Len returns the number of points.
func (c Curve) Len() int { return len(c.Points) }

// PercentileRanks returns each value's average rank (1-based, ties averaged) divided by
// len(values), in input order.
func PercentileRanks(values []float64) []float64 {
	avg := averageRanks(values)
	n := float64(len(values))
	for i := range avg {
		avg[i] /= n
	}
	return avg
}

func averageRanks(values []float64) []float64 {
	n := len(values)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return values[order[a]] < values[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && values[order[j+1]] == values[order[i]] {
			j++
		}
		// positions i..j share the mean of ranks i+1..j+1
		avg := float64(i+j+2) / 2
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

// Compute builds the curve for series. Observations must already exclude rejected rows.
func Compute(series models.Series) Curve {
	obs := series.Observations
	curve := Curve{Unit: series.Unit, Points: make([]Point, 0, len(obs))}
	if len(obs) == 0 {
		return curve
	}

	values := make([]float64, len(obs))
	for i, o := range obs {
		values[i] = o.Value
	}
	ranks := averageRanks(values)
	n := float64(len(obs))
	for i, o := range obs {
		curve.Points = append(curve.Points, Point{
			Time:           o.Time,
			Value:          o.Value,
			PercentileRank: ranks[i] / n,
			Exceedance:     (n + 1 - ranks[i]) / n,
		})
	}
	sort.SliceStable(curve.Points, func(a, b int) bool {
		return curve.Points[a].PercentileRank > curve.Points[b].PercentileRank
	})
	return curve
}

// ValueAt returns the fraction of the curve's points at or above threshold.
// An empty curve yields 0.
func ValueAt(curve Curve, threshold float64) float64 {
	if len(curve.Points) == 0 {
		return 0
	}
	count := 0
	for _, p := range curve.Points {
		if p.Value >= threshold {
			count++
		}
	}
	return float64(count) / float64(len(curve.Points))
}

// Summary is the threshold readout served with a curve.
type Summary struct {
	Threshold  float64 `json:"threshold"`
	Exceedance float64 `json:"exceedance"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	Count      int     `json:"count"`
}

// Summarize reports threshold exceedance and the value range of curve.
func Summarize(curve Curve, threshold float64) Summary {
	s := Summary{Threshold: threshold, Exceedance: ValueAt(curve, threshold), Count: len(curve.Points)}
	for i, p := range curve.Points {
		if i == 0 || p.Value < s.Min {
			s.Min = p.Value
		}
		if i == 0 || p.Value > s.Max {
			s.Max = p.Value
		}
	}
	return s
}
