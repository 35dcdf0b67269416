package geospatial

import (
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
)

const metersPerDegree = 111000.0

// Frame is a camera framing that keeps a set of points in view.
type Frame struct {
	CenterLat   float64
	CenterLon   float64
	RangeMeters float64
}

// FrameRoute centers on the arithmetic mean of the points and picks a range from
// the larger of the latitude/longitude spans, scaled by padding and floored at
// minRange meters.
func FrameRoute(lats, lons []float64, padding, minRange float64) Frame {
	n := len(lats)
	if n == 0 || len(lons) != n {
		return Frame{RangeMeters: minRange}
	}

	coords := make([]float64, 0, 2*n)
	var sumLat, sumLon float64
	for i := 0; i < n; i++ {
		sumLat += lats[i]
		sumLon += lons[i]
		coords = append(coords, lons[i], lats[i])
	}

	var span float64
	if n > 1 {
		env := geom.NewLineString(geom.NewSequence(coords, geom.DimXY)).Envelope()
		span = math.Max(env.Width(), env.Height())
	}

	return Frame{
		CenterLat:   sumLat / float64(n),
		CenterLon:   sumLon / float64(n),
		RangeMeters: math.Max(span*metersPerDegree*padding, minRange),
	}
}
