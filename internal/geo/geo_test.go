package geo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDistanceM(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Point
		expected  float64
		tolerance float64
	}{
		{
			name:      "same point",
			a:         Point{Lat: 50.4501, Lon: 30.5234},
			b:         Point{Lat: 50.4501, Lon: 30.5234},
			expected:  0,
			tolerance: 0.01,
		},
		{
			name:      "kyiv to kharkiv",
			a:         Point{Lat: 50.4501, Lon: 30.5234},
			b:         Point{Lat: 49.9935, Lon: 36.2304},
			expected:  409000,
			tolerance: 5000,
		},
		{
			name:      "about thirty meters",
			a:         Point{Lat: 50.45010, Lon: 30.52340},
			b:         Point{Lat: 50.45037, Lon: 30.52340},
			expected:  30,
			tolerance: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DistanceM(tt.a, tt.b)
			assert.InDelta(t, tt.expected, got, tt.tolerance)
		})
	}
}

func TestDistanceMSymmetric(t *testing.T) {
	a := Point{Lat: 48.8566, Lon: 2.3522}
	b := Point{Lat: 48.8584, Lon: 2.2945}
	assert.InDelta(t, DistanceM(a, b), DistanceM(b, a), 0.001)
}

func TestRoundCoord(t *testing.T) {
	assert.Equal(t, 50.4501, RoundCoord(50.45014))
	assert.Equal(t, 50.4502, RoundCoord(50.45015))
	assert.Equal(t, -30.5234, RoundCoord(-30.52336))
}

func TestCacheKey(t *testing.T) {
	from := Point{Lat: 50.450122, Lon: 30.523399}
	to := Point{Lat: 50.460177, Lon: 30.533311}

	key := CacheKey(from, to)
	assert.Equal(t, "50.4501,30.5234|50.4602,30.5333", key)

	// Точки в пределах ~11 м дают тот же ключ
	nearby := Point{Lat: 50.450098, Lon: 30.523411}
	assert.Equal(t, key, CacheKey(nearby, to))
}

func TestWalkingETA(t *testing.T) {
	// 5 км/ч ≈ 83.3 м/мин
	assert.Equal(t, 12, WalkingETA(1000, 5))
	assert.Equal(t, 1, WalkingETA(50, 5))
	assert.Equal(t, 0, WalkingETA(0, 5))
	assert.Equal(t, 0, WalkingETA(1000, 0))
}

func TestAge(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	created := now.Add(-25 * time.Hour).UnixMilli()
	assert.Equal(t, 25*time.Hour, Age(now, created))
}
