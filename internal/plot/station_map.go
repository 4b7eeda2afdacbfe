package plot

import (
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/kjstillabower/water-data-explorer/internal/models"
)

// mapPadding is the margin in degrees drawn around the station.
const mapPadding = 0.5

// Queensland extent, used when a station has no usable coordinates.
var (
	qldLongitude = [2]float64{138, 154}
	qldLatitude  = [2]float64{-29.5, -9}
)

// MapPoint is one marker on the station map.
type MapPoint struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// StationMap shows the selected station only.
type StationMap struct {
	Station models.Station
}

// NewStationMap returns the map for st.
func NewStationMap(st models.Station) StationMap {
	return StationMap{Station: st}
}

// MapPoints returns the selected station as a single point, or none when the catalog
// has no usable coordinates for it.
func (m StationMap) MapPoints() []MapPoint {
	if !m.Station.HasCoordinates() {
		return []MapPoint{}
	}
	return []MapPoint{{
		Code:      m.Station.Code,
		Name:      DisplayName(m.Station),
		Latitude:  m.Station.Latitude,
		Longitude: m.Station.Longitude,
	}}
}

// Chart draws the station as a marker on longitude/latitude axes centred on it.
func (m StationMap) Chart() chart.Chart {
	points := m.MapPoints()
	xs := make([]float64, 0, len(points))
	ys := make([]float64, 0, len(points))
	lon, lat := qldLongitude, qldLatitude
	for _, p := range points {
		xs = append(xs, p.Longitude)
		ys = append(ys, p.Latitude)
		lon = [2]float64{p.Longitude - mapPadding, p.Longitude + mapPadding}
		lat = [2]float64{p.Latitude - mapPadding, p.Latitude + mapPadding}
	}
	return chart.Chart{
		Title:  DisplayName(m.Station),
		Width:  480,
		Height: 480,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16},
		},
		XAxis: chart.XAxis{
			Name:           "Longitude",
			Range:          &chart.ContinuousRange{Min: lon[0], Max: lon[1]},
			GridMajorStyle: gridMajor,
		},
		YAxis: chart.YAxis{
			Name:           "Latitude",
			Range:          &chart.ContinuousRange{Min: lat[0], Max: lat[1]},
			GridMajorStyle: gridMajor,
		},
		Series: []chart.Series{
			chart.ContinuousSeries{Name: m.Station.Code, XValues: xs, YValues: ys, Style: pointStyle(drawing.ColorRed, 8)},
		},
	}
}

// FeatureCollection is a GeoJSON feature collection of map points.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// Feature is a GeoJSON point feature.
type Feature struct {
	Type       string            `json:"type"`
	Geometry   Geometry          `json:"geometry"`
	Properties map[string]string `json:"properties"`
}

// Geometry is a GeoJSON point; coordinates are [longitude, latitude].
type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// GeoJSON returns the map points as a FeatureCollection for web map clients.
func (m StationMap) GeoJSON() FeatureCollection {
	fc := FeatureCollection{Type: "FeatureCollection", Features: []Feature{}}
	for _, p := range m.MapPoints() {
		fc.Features = append(fc.Features, Feature{
			Type:     "Feature",
			Geometry: Geometry{Type: "Point", Coordinates: [2]float64{p.Longitude, p.Latitude}},
			Properties: map[string]string{
				"station": p.Code,
				"name":    p.Name,
				"region":  m.Station.Region,
			},
		})
	}
	return fc
}
