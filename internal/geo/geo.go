// Package geo holds the geodesy helpers used by the tour engine. Everything
// here is pure: no state, no errors. Invalid input propagates as NaN and it is
// the caller's job to check Valid first.
package geo

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"github.com/twpayne/go-polyline"
)

// EarthRadiusMeters is the mean Earth radius used for all distances.
const EarthRadiusMeters = 6371000.0

const (
	metersPerFoot = 0.3048
	feetPerMile   = 5280
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p Point) latLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Latitude, p.Longitude)
}

// Valid reports whether p is inside the latitude/longitude ranges.
func Valid(p Point) bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 &&
		p.Longitude >= -180 && p.Longitude <= 180
}

// DistanceMeters returns the great-circle distance between a and b using the
// haversine formula.
func DistanceMeters(a, b Point) float64 {
	return a.latLng().Distance(b.latLng()).Radians() * EarthRadiusMeters
}

// BearingDegrees returns the initial bearing from a to b in [0, 360).
func BearingDegrees(a, b Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	deg := math.Mod(math.Atan2(y, x)*180/math.Pi+360, 360)
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// FormatDistance renders a distance for display. Metric uses meters below
// 1 km, imperial uses feet below one mile.
func FormatDistance(meters float64, useMetric bool) string {
	if useMetric {
		if meters < 1000 {
			return fmt.Sprintf("%.0f m", meters)
		}
		return fmt.Sprintf("%.1f km", meters/1000)
	}
	feet := meters / metersPerFoot
	if feet < feetPerMile {
		return fmt.Sprintf("%.0f ft", feet)
	}
	return fmt.Sprintf("%.1f mi", feet/feetPerMile)
}

// EncodeRoute encodes points as a Google encoded polyline.
func EncodeRoute(points []Point) string {
	coords := make([][]float64, 0, len(points))
	for _, p := range points {
		coords = append(coords, []float64{p.Latitude, p.Longitude})
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodeRoute is the inverse of EncodeRoute.
func DecodeRoute(encoded string) ([]Point, error) {
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decoding polyline: %w", err)
	}
	points := make([]Point, 0, len(coords))
	for _, c := range coords {
		points = append(points, Point{Latitude: c[0], Longitude: c[1]})
	}
	return points, nil
}
