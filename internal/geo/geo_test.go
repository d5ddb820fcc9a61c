package geo

import (
	"math"
	"testing"
	"time"
)

var t0 = time.Date(2021, 7, 1, 6, 0, 0, 0, time.UTC)

func TestSegmentSamePointIsZero(t *testing.T) {
	pts := []Point{
		NewPoint(37.78825, -122.4324, t0),
		NewPoint(0, 0, t0),
		NewPoint(90, 0, t0),
		NewPoint(-89.999999, 179.999999, t0),
		NewPoint(-6.2, 106.816, t0),
	}
	for _, p := range pts {
		d := SegmentDistanceKm(p, p)
		if d != 0 {
			t.Errorf("distance(%v,%v) = %v, want 0", p, p, d)
		}
	}
}

func TestSegmentSymmetric(t *testing.T) {
	pairs := [][2]Point{
		{NewPoint(0, 0, t0), NewPoint(0, 1, t0)},
		{NewPoint(37.78825, -122.4324, t0), NewPoint(37.8, -122.41, t0)},
		{NewPoint(-6.2, 106.816, t0), NewPoint(-6.9175, 107.6191, t0)},
		{NewPoint(51.5, -0.12, t0), NewPoint(-33.86, 151.2, t0)},
	}
	for _, p := range pairs {
		ab := SegmentDistanceKm(p[0], p[1])
		ba := SegmentDistanceKm(p[1], p[0])
		if math.Abs(ab-ba) > 1e-9 {
			t.Errorf("asymmetric distance %v vs %v", ab, ba)
		}
	}
}

func TestSegmentKnownValues(t *testing.T) {
	d := SegmentDistanceKm(NewPoint(0, 0, t0), NewPoint(0, 1, t0))
	if math.Abs(d-111.19) > 0.5 {
		t.Fatalf("one degree of longitude at the equator = %v km", d)
	}
	d = SegmentDistanceKm(NewPoint(-6.2, 106.816, t0), NewPoint(-6.9175, 107.6191, t0))
	if d < 100 || d > 140 {
		t.Fatalf("unexpected distance: %v", d)
	}
}

func TestSegmentAntipodalIsFinite(t *testing.T) {
	d := SegmentDistanceKm(NewPoint(0, 0, t0), NewPoint(0, 180, t0))
	if math.IsNaN(d) || math.Abs(d-math.Pi*EarthRadiusKm) > 1e-6 {
		t.Fatalf("antipodal distance = %v", d)
	}
}

func TestTriangleInequality(t *testing.T) {
	a := NewPoint(37.78825, -122.4324, t0)
	b := NewPoint(37.79, -122.42, t0)
	c := NewPoint(37.80, -122.43, t0)
	if SegmentDistanceKm(a, c) > SegmentDistanceKm(a, b)+SegmentDistanceKm(b, c)+1e-9 {
		t.Fatal("triangle inequality violated")
	}
}

func TestRouteDistance(t *testing.T) {
	if d := RouteDistanceKm(nil); d != 0 {
		t.Errorf("empty route = %v", d)
	}
	p := NewPoint(37.78825, -122.4324, t0)
	if d := RouteDistanceKm([]Point{p}); d != 0 {
		t.Errorf("single point route = %v", d)
	}

	route := []Point{
		NewPoint(0, 0, t0),
		NewPoint(0, 1, t0.Add(time.Second)),
		NewPoint(0, 1, t0.Add(2*time.Second)),
		NewPoint(1, 1, t0.Add(3*time.Second)),
	}
	want := SegmentDistanceKm(route[0], route[1]) + 0 + SegmentDistanceKm(route[2], route[3])
	if d := RouteDistanceKm(route); d != want {
		t.Errorf("route distance = %v, want %v", d, want)
	}
	if d := Route(route).DistanceKm(); d < 0 {
		t.Errorf("negative route distance %v", d)
	}
}

func TestRouteCloneIsIndependent(t *testing.T) {
	r := Route{NewPoint(1, 1, t0)}
	r = r.Append(NewPoint(2, 2, t0))
	c := r.Clone()
	r[0].Latitude = 9
	if c[0].Latitude != 1 {
		t.Fatal("clone shares backing array")
	}
	last, ok := c.Last()
	if !ok || last.Latitude != 2 {
		t.Fatalf("last = %v %v", last, ok)
	}
	if _, ok := (Route{}).Last(); ok {
		t.Fatal("empty route has no last point")
	}
}

func BenchmarkRouteDistance(b *testing.B) {
	route := make([]Point, 10000)
	for i := range route {
		route[i] = NewPoint(37.78+float64(i)*1e-5, -122.43, t0.Add(time.Duration(i)*time.Second))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		RouteDistanceKm(route)
	}
}
