package geo

import (
	"math"
	"testing"
)

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name string
		p    Point
		ok   bool
	}{
		{"windhoek", Point{Lat: -22.56, Lng: 17.08}, true},
		{"equator", Point{Lat: 0, Lng: 0}, true},
		{"lat too high", Point{Lat: 90.01, Lng: 0}, false},
		{"lat too low", Point{Lat: -91, Lng: 0}, false},
		{"lng too high", Point{Lat: 0, Lng: 180.5}, false},
		{"lng too low", Point{Lat: 0, Lng: -200}, false},
	}
	for _, tc := range cases {
		err := tc.p.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: Validate() error = %v, want nil", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: Validate() = nil, want error", tc.name)
		}
	}
}

func TestDistanceMetersOneDegreeLatitude(t *testing.T) {
	a := Point{Lat: 0, Lng: 0}
	b := Point{Lat: 1, Lng: 0}
	d := DistanceMeters(a, b)
	if math.Abs(d-MetersPerDegree) > 1 {
		t.Fatalf("DistanceMeters() = %.1f, want ~%.0f", d, MetersPerDegree)
	}
}

func TestDistanceMetersLongitudeScalesWithLatitude(t *testing.T) {
	// One degree of longitude at 60°N spans roughly half of one at the equator.
	eq := DistanceMeters(Point{Lat: 0, Lng: 0}, Point{Lat: 0, Lng: 1})
	north := DistanceMeters(Point{Lat: 60, Lng: 0}, Point{Lat: 60, Lng: 1})
	ratio := north / eq
	if math.Abs(ratio-0.5) > 0.01 {
		t.Fatalf("longitude scaling ratio = %.3f, want ~0.5", ratio)
	}
}

func TestDistanceMetersSymmetric(t *testing.T) {
	a := Point{Lat: -22.56, Lng: 17.08}
	b := Point{Lat: -22.58, Lng: 17.10}
	if d1, d2 := DistanceMeters(a, b), DistanceMeters(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Fatalf("distance not symmetric: %.6f vs %.6f", d1, d2)
	}
}

func TestSpeedConversions(t *testing.T) {
	if got := KmhToMps(36); math.Abs(got-10) > 1e-9 {
		t.Fatalf("KmhToMps(36) = %v, want 10", got)
	}
	if got := MpsToKmh(10); math.Abs(got-36) > 1e-9 {
		t.Fatalf("MpsToKmh(10) = %v, want 36", got)
	}
}
