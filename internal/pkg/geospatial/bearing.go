package geospatial

import "math"

// InitialBearing returns the great-circle initial bearing in degrees [0, 360)
// from (lat1, lon1) towards (lat2, lon2).
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRad(lat1)
	phi2 := toRad(lat2)
	dLon := toRad(lon2 - lon1)

	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)

	return NormalizeHeading(toDeg(math.Atan2(y, x)))
}

// NormalizeHeading folds any angle into [0, 360).
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// HeadingDelta returns the signed short-path turn from one heading to another,
// in [-180, 180).
func HeadingDelta(from, to float64) float64 {
	return math.Mod(math.Mod(to-from, 360)+540, 360) - 180
}

// LerpHeading interpolates between two headings along the short path.
func LerpHeading(from, to, t float64) float64 {
	return NormalizeHeading(from + HeadingDelta(from, to)*t)
}

// ZoomFromRange converts a camera-to-ground range in meters to a map zoom level.
func ZoomFromRange(base, rangeMeters float64) float64 {
	if rangeMeters <= 0 {
		rangeMeters = 1
	}
	return math.Log2(base / rangeMeters)
}

// RangeFromZoom is the inverse of ZoomFromRange.
func RangeFromZoom(base, zoom float64) float64 {
	return base / math.Exp2(zoom)
}

func toDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
