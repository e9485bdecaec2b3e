// README: Geographic point, serialised as a GeoJSON Point ([lng, lat]).
package types

import (
	"encoding/json"
	"errors"
	"math"
)

type Point struct {
	Lat float64
	Lng float64
}

var ErrInvalidPoint = errors.New("invalid coordinates")

// Valid reports whether the point is a finite WGS84 coordinate.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

type geoJSONPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(geoJSONPoint{Type: "Point", Coordinates: []float64{p.Lng, p.Lat}})
}

func (p *Point) UnmarshalJSON(b []byte) error {
	var g geoJSONPoint
	if err := json.Unmarshal(b, &g); err != nil {
		return err
	}
	if len(g.Coordinates) != 2 {
		return ErrInvalidPoint
	}
	p.Lng, p.Lat = g.Coordinates[0], g.Coordinates[1]
	return nil
}
