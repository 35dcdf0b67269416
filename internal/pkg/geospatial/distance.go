package geospatial

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2})
}

// PathLength sums the great-circle lengths of consecutive legs, in meters.
func PathLength(lats, lons []float64) float64 {
	if len(lats) != len(lons) {
		return 0
	}
	var total float64
	for i := 1; i < len(lats); i++ {
		total += Haversine(lats[i-1], lons[i-1], lats[i], lons[i])
	}
	return total
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
