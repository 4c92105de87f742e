package model

import (
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// Coordinates is a WGS84 latitude/longitude pair.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both components are finite and within WGS84 bounds
// (lat in [-90, 90], lon in [-180, 180]).
func (c Coordinates) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsInf(c.Latitude, 0) {
		return false
	}
	if math.IsNaN(c.Longitude) || math.IsInf(c.Longitude, 0) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180
}

// IsZero reports whether the pair is exactly (0, 0). Null Island is a common
// default sentinel from upstream data sources and is flagged, not rejected.
func (c Coordinates) IsZero() bool {
	return c.Latitude == 0 && c.Longitude == 0
}

// Round6 returns the coordinates rounded to 6 decimal places (~0.1m precision).
func (c Coordinates) Round6() Coordinates {
	return Coordinates{
		Latitude:  round6(c.Latitude),
		Longitude: round6(c.Longitude),
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Point converts to a go-geom point in lon/lat axis order with SRID 4326.
func (c Coordinates) Point() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{c.Longitude, c.Latitude}).SetSRID(4326)
}

// Centroid returns the arithmetic mean of the given coordinate pairs.
// The second return value is false when the slice is empty.
func Centroid(coords []Coordinates) (Coordinates, bool) {
	if len(coords) == 0 {
		return Coordinates{}, false
	}

	points := make([]*geom.Point, len(coords))
	for i, c := range coords {
		points[i] = c.Point()
	}

	center := xy.PointsCentroid(points[0], points[1:]...)
	return Coordinates{
		Latitude:  round6(center.Y()),
		Longitude: round6(center.X()),
	}, true
}
