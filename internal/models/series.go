package models

import "time"

// LocalTime is the zone WMIP reports in. Queensland does not observe daylight saving.
var LocalTime = time.FixedZone("AEST", 10*60*60)

// QualityRejected is the WMIP quality code for rejected readings.
const QualityRejected = 255

// Observation is one hourly mean reading.
type Observation struct {
	Time    time.Time `json:"time"`
	Value   float64   `json:"value"`
	Quality int       `json:"quality"`
}

// Series is the filtered result of one time-series query.
type Series struct {
	Station      Station       `json:"station"`
	Parameter    Parameter     `json:"parameter"`
	Unit         string        `json:"unit"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Observations []Observation `json:"observations"`
	Rejected     int           `json:"rejected"`
}

// Values returns observation values in time order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Observations))
	for i, o := range s.Observations {
		out[i] = o.Value
	}
	return out
}

// Selection is the dashboard's transient query state.
type Selection struct {
	StationCode string
	Parameter   Parameter
	Start       time.Time
	// End is zero when the caller wants the default end date.
	End       time.Time
	Threshold float64
}
