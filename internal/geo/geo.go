// Package geo computes great-circle distances over recorded fixes.
package geo

import (
	"math"
	"time"
)

// EarthRadiusKm is the mean radius of the sphere used for every distance.
const EarthRadiusKm = 6371.0

type Point struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

func NewPoint(lat, lon float64, t time.Time) Point {
	return Point{Latitude: lat, Longitude: lon, Timestamp: t}
}

// SegmentDistanceKm returns the haversine distance between a and b.
//
//	h = sin²(Δφ/2) + cos φ1 ⋅ cos φ2 ⋅ sin²(Δλ/2)
//	d = 2R ⋅ atan2(√h, √(1−h))
//
// h is clamped to [0, 1] so rounding never pushes the inverse step out of
// its domain.
func SegmentDistanceKm(a, b Point) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dlat := lat2 - lat1
	dlon := radians(b.Longitude - a.Longitude)

	sdlat := math.Sin(dlat / 2)
	sdlon := math.Sin(dlon / 2)
	h := sdlat*sdlat + math.Cos(lat1)*math.Cos(lat2)*sdlon*sdlon
	h = clamp(h, 0, 1)

	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// RouteDistanceKm sums the segments between consecutive points from first
// to last.
func RouteDistanceKm(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += SegmentDistanceKm(points[i-1], points[i])
	}
	return total
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
