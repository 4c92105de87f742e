package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinates_Valid(t *testing.T) {
	tests := []struct {
		name  string
		c     Coordinates
		valid bool
	}{
		{"rotterdam", Coordinates{Latitude: 51.9244, Longitude: 4.4777}, true},
		{"null island", Coordinates{}, true},
		{"lat boundary", Coordinates{Latitude: 90, Longitude: 0}, true},
		{"lon boundary", Coordinates{Latitude: 0, Longitude: -180}, true},
		{"lat too big", Coordinates{Latitude: 90.001, Longitude: 0}, false},
		{"lat too small", Coordinates{Latitude: -91, Longitude: 0}, false},
		{"lon too big", Coordinates{Latitude: 0, Longitude: 180.5}, false},
		{"nan lat", Coordinates{Latitude: math.NaN(), Longitude: 0}, false},
		{"inf lon", Coordinates{Latitude: 0, Longitude: math.Inf(1)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.c.Valid())
		})
	}
}

func TestCoordinates_IsZero(t *testing.T) {
	assert.True(t, Coordinates{}.IsZero())
	assert.False(t, Coordinates{Latitude: 0.000001}.IsZero())
	assert.False(t, Coordinates{Latitude: 51.9, Longitude: 4.5}.IsZero())
}

func TestCoordinates_Round6(t *testing.T) {
	c := Coordinates{Latitude: 51.92441234567, Longitude: 4.47776987654}
	rounded := c.Round6()
	assert.Equal(t, 51.924412, rounded.Latitude)
	assert.Equal(t, 4.47777, rounded.Longitude)

	// Rounding is idempotent.
	assert.Equal(t, rounded, rounded.Round6())
}

func TestCoordinates_Point(t *testing.T) {
	p := Coordinates{Latitude: 51.9244, Longitude: 4.4777}.Point()
	require.NotNil(t, p)
	// go-geom uses lon/lat axis order.
	assert.Equal(t, 4.4777, p.X())
	assert.Equal(t, 51.9244, p.Y())
	assert.Equal(t, 4326, p.SRID())
}

func TestCentroid(t *testing.T) {
	_, ok := Centroid(nil)
	assert.False(t, ok)

	single, ok := Centroid([]Coordinates{{Latitude: 10, Longitude: 20}})
	require.True(t, ok)
	assert.Equal(t, Coordinates{Latitude: 10, Longitude: 20}, single)

	mean, ok := Centroid([]Coordinates{
		{Latitude: 10, Longitude: 20},
		{Latitude: 20, Longitude: 40},
	})
	require.True(t, ok)
	assert.InDelta(t, 15, mean.Latitude, 1e-9)
	assert.InDelta(t, 30, mean.Longitude, 1e-9)
}
