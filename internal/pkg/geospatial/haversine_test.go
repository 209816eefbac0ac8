package geospatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine(t *testing.T) {
	// San Francisco to Los Angeles
	d := Haversine(37.7749, -122.4194, 34.0522, -118.2437)
	assert.InDelta(t, 559_000, d, 2_000)

	assert.Zero(t, Haversine(43.263, -2.935, 43.263, -2.935))
}

func TestHaversine_Symmetric(t *testing.T) {
	a := Haversine(51.5074, -0.1278, 48.8566, 2.3522)
	b := Haversine(48.8566, 2.3522, 51.5074, -0.1278)
	assert.InDelta(t, a, b, 1e-6)
}

func TestBoundingBox_ContainsRadius(t *testing.T) {
	minLat, minLon, maxLat, maxLon := BoundingBox(40.0, -74.0, 10_000)
	require.Less(t, minLat, 40.0)
	require.Greater(t, maxLat, 40.0)

	// points exactly 10km away in each direction sit on or inside the box
	d := 10_000 / (EarthRadiusKm * 1000) * 180 / math.Pi
	assert.InDelta(t, 40.0+d, maxLat, 1e-9)
	assert.Less(t, minLon, -74.0)
	assert.Greater(t, maxLon, -74.0)

	// the widest longitude of the circle is slightly poleward, still inside
	for _, lat := range []float64{40.0, 40.00006, 40.0001} {
		for _, lon := range []float64{maxLon - 1e-7, maxLon + 1e-4} {
			inside := lon <= maxLon
			if Haversine(40.0, -74.0, lat, lon) <= 10_000 {
				assert.True(t, inside, "point (%v, %v) within radius but outside box", lat, lon)
			}
		}
	}
}

func TestBoundingBox_ClampsPoles(t *testing.T) {
	minLat, minLon, maxLat, maxLon := BoundingBox(89.99, 0, 50_000)
	assert.Equal(t, 90.0, maxLat)
	assert.Greater(t, minLat, 89.0)
	assert.Equal(t, 360.0, maxLon-minLon)
}

func TestWrap(t *testing.T) {
	cases := []struct {
		lat, lon         float64
		wantLat, wantLon float64
	}{
		{10, 20, 10, 20},
		{90.003, 10, 89.997, -170},
		{-90.5, -170, -89.5, 10},
		{45, 180.25, 45, -179.75},
		{-45, -181, -45, 179},
	}
	for _, tc := range cases {
		lat, lon := Wrap(tc.lat, tc.lon)
		assert.InDelta(t, tc.wantLat, lat, 1e-9, "lat for (%v, %v)", tc.lat, tc.lon)
		assert.InDelta(t, tc.wantLon, lon, 1e-9, "lon for (%v, %v)", tc.lat, tc.lon)
	}
}

func TestWrap_PreservesDistance(t *testing.T) {
	from := [2]float64{89.999, 10}
	for _, raw := range [][2]float64{{90.003, 10}, {90.2, -45}, {30, 180.4}, {-90.01, 0}} {
		lat, lon := Wrap(raw[0], raw[1])
		assert.InDelta(t,
			Haversine(from[0], from[1], raw[0], raw[1]),
			Haversine(from[0], from[1], lat, lon),
			1e-3, "point %v", raw)
	}
}

func TestRoundKm(t *testing.T) {
	assert.Equal(t, 2.5, RoundKm(2500))
	assert.Equal(t, 1.23, RoundKm(1234.4))
	assert.Equal(t, 0.0, RoundKm(4))
}

func TestScanNear(t *testing.T) {
	center := Point{ID: "me", Lat: 37.7749, Lon: -122.4194}
	points := []Point{
		center,
		{ID: "near", Lat: 37.7849, Lon: -122.4194},
		{ID: "mid", Lat: 37.8049, Lon: -122.4194},
		{ID: "far", Lat: 38.7749, Lon: -122.4194},
	}

	hits := ScanNear(points, center.Lat, center.Lon, 10_000, "me", 0)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].ID)
	assert.Equal(t, "mid", hits[1].ID)
	assert.Less(t, hits[0].DistanceMeters, hits[1].DistanceMeters)

	limited := ScanNear(points, center.Lat, center.Lon, 10_000, "me", 1)
	require.Len(t, limited, 1)
	assert.Equal(t, "near", limited[0].ID)
}

func TestScanNear_RadiusBoundaryInclusive(t *testing.T) {
	points := []Point{{ID: "edge", Lat: 37.80, Lon: -122.40}}
	d := Haversine(37.7749, -122.4194, 37.80, -122.40)

	hits := ScanNear(points, 37.7749, -122.4194, d, "", 0)
	require.Len(t, hits, 1)

	hits = ScanNear(points, 37.7749, -122.4194, d-1e-6, "", 0)
	assert.Empty(t, hits)
}
