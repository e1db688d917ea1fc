package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestIsValidLocation(t *testing.T) {
	tests := []struct {
		name string
		lat  *float64
		lng  *float64
		want bool
	}{
		{"valid bristol", ptr(51.499), ptr(-2.595), true},
		{"valid equator", ptr(0), ptr(0), true},
		{"valid extremes", ptr(-90), ptr(180), true},
		{"lat too high", ptr(91), ptr(0), false},
		{"lat too low", ptr(-90.0001), ptr(0), false},
		{"lng too high", ptr(0), ptr(180.5), false},
		{"lng too low", ptr(0), ptr(-181), false},
		{"missing lat", nil, ptr(-2.595), false},
		{"missing lng", ptr(51.499), nil, false},
		{"missing both", nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidLocation(tt.lat, tt.lng))
		})
	}
}

func TestDistanceKM(t *testing.T) {
	// Austin to Dallas is roughly 293 km.
	d := DistanceKM(30.2672, -97.7431, 32.7767, -96.7970)
	assert.Greater(t, d, 280.0)
	assert.Less(t, d, 310.0)

	assert.InDelta(t, 0, DistanceKM(51.0, -2.0, 51.0, -2.0), 0.001)
}

func TestDistanceKM_Symmetric(t *testing.T) {
	a := DistanceKM(51.458, -2.591, 51.499, -2.595)
	b := DistanceKM(51.499, -2.595, 51.458, -2.591)
	assert.InDelta(t, a, b, 1e-9)
}

func TestBoundingBox(t *testing.T) {
	minLat, maxLat, minLng, maxLng := BoundingBox(51.0, -2.0, 10)
	assert.Less(t, minLat, 51.0)
	assert.Greater(t, maxLat, 51.0)
	assert.Less(t, minLng, -2.0)
	assert.Greater(t, maxLng, -2.0)

	// The box must span at least the requested radius on each side.
	assert.GreaterOrEqual(t, maxLat-minLat, 2*10/111.0-1e-9)
}

func TestBoundingBox_ClampsAtAntimeridian(t *testing.T) {
	// Documented behavior: the box clamps at +-180 instead of wrapping.
	_, _, minLng, maxLng := BoundingBox(0, 179.9, 50)
	assert.Less(t, minLng, 179.9)
	assert.Equal(t, 180.0, maxLng)

	_, _, minLng, maxLng = BoundingBox(0, -179.9, 50)
	assert.Equal(t, -180.0, minLng)
	assert.Greater(t, maxLng, -179.9)
}

func TestBoundingBox_NearPole(t *testing.T) {
	_, _, minLng, maxLng := BoundingBox(89.95, 0, 50)
	assert.Equal(t, -180.0, minLng)
	assert.Equal(t, 180.0, maxLng)
}
