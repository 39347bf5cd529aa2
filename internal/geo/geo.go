// Package geo provides coordinate validation and fast planar distance
// approximation for city-scale geofencing.
package geo

import (
	"errors"
	"math"
)

// MetersPerDegree is the meridian arc length of one degree of latitude.
const MetersPerDegree = 111000.0

var ErrInvalidCoordinate = errors.New("coordinate out of range")

// Point is a WGS84 coordinate with optional motion attributes.
type Point struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy,omitempty"`
	SpeedKmh float64 `json:"speed_kmh,omitempty"`
	Heading  float64 `json:"heading,omitempty"`
}

// Valid reports whether the point lies within ±90/±180.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Validate returns ErrInvalidCoordinate for out-of-range points.
func (p Point) Validate() error {
	if !p.Valid() {
		return ErrInvalidCoordinate
	}
	return nil
}

// DistanceMeters computes the equirectangular approximation between two
// points, scaling longitude by cos(latitude). Error is acceptable at city
// scale; do not use for transcontinental distances.
func DistanceMeters(a, b Point) float64 {
	latRad := (a.Lat + b.Lat) / 2 * math.Pi / 180
	dLat := (b.Lat - a.Lat) * MetersPerDegree
	dLng := (b.Lng - a.Lng) * MetersPerDegree * math.Cos(latRad)
	return math.Sqrt(dLat*dLat + dLng*dLng)
}

// KmhToMps converts km/h to m/s.
func KmhToMps(kmh float64) float64 { return kmh / 3.6 }

// MpsToKmh converts m/s to km/h.
func MpsToKmh(mps float64) float64 { return mps * 3.6 }
