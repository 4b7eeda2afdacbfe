package models

import (
	"encoding/json"
	"math"
	"sort"
)

// StillActiveSentinel is the cease date WMIP reports for stations that have not ceased operation.
const StillActiveSentinel = 18991230

// GaugeStationTypes are the WMIP station types treated as gauging stations.
var GaugeStationTypes = map[string]struct{}{
	"G":  {},
	"GQ": {},
}

// Station is one WMIP monitoring site.
type Station struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Region    string  `json:"region"`
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Commence  int     `json:"commence"`
	Cease     int     `json:"cease"`
}

// Active reports whether the station is still in service.
func (s Station) Active() bool {
	return s.Cease == StillActiveSentinel
}

// IsGauge reports whether the station type is a gauging station type.
func (s Station) IsGauge() bool {
	_, ok := GaugeStationTypes[s.Type]
	return ok
}

// HasCoordinates is false when the catalog coordinates could not be coerced to numbers.
func (s Station) HasCoordinates() bool {
	return !math.IsNaN(s.Latitude) && !math.IsNaN(s.Longitude)
}

// FilterActiveGauges keeps active gauging stations and sorts them by code.
func FilterActiveGauges(all []Station) []Station {
	out := make([]Station, 0, len(all))
	for _, s := range all {
		if s.Active() && s.IsGauge() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

type stationJSON struct {
	Code      string   `json:"code"`
	Name      string   `json:"name"`
	Region    string   `json:"region"`
	Type      string   `json:"type"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Commence  int      `json:"commence"`
	Cease     int      `json:"cease"`
}

// MarshalJSON writes missing coordinates as null; encoding/json rejects NaN.
func (s Station) MarshalJSON() ([]byte, error) {
	return json.Marshal(stationJSON{
		Code:      s.Code,
		Name:      s.Name,
		Region:    s.Region,
		Type:      s.Type,
		Latitude:  finiteOrNil(s.Latitude),
		Longitude: finiteOrNil(s.Longitude),
		Commence:  s.Commence,
		Cease:     s.Cease,
	})
}

// UnmarshalJSON reads null coordinates back as NaN.
func (s *Station) UnmarshalJSON(data []byte) error {
	var raw stationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Station{
		Code:      raw.Code,
		Name:      raw.Name,
		Region:    raw.Region,
		Type:      raw.Type,
		Latitude:  math.NaN(),
		Longitude: math.NaN(),
		Commence:  raw.Commence,
		Cease:     raw.Cease,
	}
	if raw.Latitude != nil {
		s.Latitude = *raw.Latitude
	}
	if raw.Longitude != nil {
		s.Longitude = *raw.Longitude
	}
	return nil
}

func finiteOrNil(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
