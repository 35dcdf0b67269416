package geospatial

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHaversine_KnownDistance(t *testing.T) {
	// Turkistan to Shymkent is roughly 150 km.
	d := Haversine(43.2974, 68.2707, 42.3417, 69.5901)
	assert.InDelta(t, 152000, d, 10000)
}

func TestHaversine_SamePoint(t *testing.T) {
	assert.Equal(t, 0.0, Haversine(43.3, 68.2, 43.3, 68.2))
}

func TestInitialBearing_Cardinal(t *testing.T) {
	assert.InDelta(t, 90, InitialBearing(0, 0, 0, 90), 1e-9)
	assert.InDelta(t, 0, InitialBearing(0, 0, 10, 0), 1e-9)
	assert.InDelta(t, 180, InitialBearing(10, 0, 0, 0), 1e-9)
	assert.InDelta(t, 270, InitialBearing(0, 10, 0, 0), 1e-9)
}

func TestHeadingDelta_ShortPath(t *testing.T) {
	assert.InDelta(t, 20, HeadingDelta(350, 10), 1e-9)
	assert.InDelta(t, -20, HeadingDelta(10, 350), 1e-9)
	assert.InDelta(t, 0, HeadingDelta(45, 45), 1e-9)
	assert.InDelta(t, -90, HeadingDelta(90, 0), 1e-9)
}

func TestLerpHeading_CrossesNorth(t *testing.T) {
	for i := 0; i <= 10; i++ {
		h := LerpHeading(350, 10, float64(i)/10)
		// Every sample lies on the 20 degree arc through north.
		assert.True(t, h >= 350 || h <= 10, "heading %v went the long way", h)
	}
	assert.InDelta(t, 0, LerpHeading(350, 10, 0.5), 1e-9)
}

func TestNormalizeHeading(t *testing.T) {
	assert.InDelta(t, 350, NormalizeHeading(-10), 1e-9)
	assert.InDelta(t, 10, NormalizeHeading(370), 1e-9)
	assert.InDelta(t, 0, NormalizeHeading(360), 1e-9)
}

func TestZoomRange_RoundTrip(t *testing.T) {
	const base = 35200000.0
	z := ZoomFromRange(base, 2200)
	assert.InDelta(t, math.Log2(base/2200), z, 1e-9)
	assert.InDelta(t, 2200, RangeFromZoom(base, z), 1e-6)
}

func TestMercator_RoundTrip(t *testing.T) {
	x, y := ToMercator(43.2974, 68.2707)
	lat, lon := FromMercator(x, y)
	assert.InDelta(t, 43.2974, lat, 1e-6)
	assert.InDelta(t, 68.2707, lon, 1e-6)
}

func TestLerpMercator_Endpoints(t *testing.T) {
	lat, lon := LerpMercator(43.0, 68.0, 44.0, 69.0, 0)
	assert.InDelta(t, 43.0, lat, 1e-6)
	assert.InDelta(t, 68.0, lon, 1e-6)

	lat, lon = LerpMercator(43.0, 68.0, 44.0, 69.0, 1)
	assert.InDelta(t, 44.0, lat, 1e-6)
	assert.InDelta(t, 69.0, lon, 1e-6)
}

func TestFrameRoute(t *testing.T) {
	f := FrameRoute([]float64{43.0, 44.0}, []float64{68.0, 70.0}, 1.8, 50000)
	assert.InDelta(t, 43.5, f.CenterLat, 1e-9)
	assert.InDelta(t, 69.0, f.CenterLon, 1e-9)
	assert.InDelta(t, 2*111000*1.8, f.RangeMeters, 1e-6)
}

func TestFrameRoute_FloorsRange(t *testing.T) {
	f := FrameRoute([]float64{43.0, 43.001}, []float64{68.0, 68.001}, 1.8, 50000)
	assert.Equal(t, 50000.0, f.RangeMeters)

	single := FrameRoute([]float64{43.0}, []float64{68.0}, 1.8, 50000)
	require.Equal(t, 50000.0, single.RangeMeters)
	assert.Equal(t, 43.0, single.CenterLat)
}

func TestPathLength_SumsLegs(t *testing.T) {
	lats := []float64{43.2974, 42.3417, 43.2974}
	lons := []float64{68.2707, 69.5901, 68.2707}
	leg := Haversine(lats[0], lons[0], lats[1], lons[1])
	assert.InDelta(t, 2*leg, PathLength(lats, lons), 1e-6)
	assert.Equal(t, 0.0, PathLength(lats[:1], lons[:1]))
	assert.Equal(t, 0.0, PathLength(lats, lons[:2]))
}
