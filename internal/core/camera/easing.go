package camera

import (
	"math"

	"github.com/samirrijal/flyover/internal/core/domain"
	"github.com/samirrijal/flyover/internal/pkg/geospatial"
)

// EaseInOutCubic maps linear progress t in [0,1] onto the eased curve.
func EaseInOutCubic(t float64) float64 {
	switch {
	case t <= 0:
		return 0
	case t >= 1:
		return 1
	case t < 0.5:
		return 4 * t * t * t
	default:
		return 1 - math.Pow(-2*t+2, 3)/2
	}
}

// Interpolate returns the pose at eased progress e between from and to.
// Position moves in Web-Mercator space and heading takes the short way round.
func Interpolate(from, to domain.MapPose, e float64) domain.MapPose {
	lat, lng := geospatial.LerpMercator(from.Lat, from.Lng, to.Lat, to.Lng, e)
	return domain.MapPose{
		Lat:     lat,
		Lng:     lng,
		Zoom:    from.Zoom + (to.Zoom-from.Zoom)*e,
		Heading: geospatial.LerpHeading(from.Heading, to.Heading, e),
		Tilt:    from.Tilt + (to.Tilt-from.Tilt)*e,
	}
}

// ToMapPose converts a camera target into the pose a 2-D surface understands.
func ToMapPose(t domain.CameraTarget, zoomBase float64) domain.MapPose {
	return domain.MapPose{
		Lat:     t.Center.Lat,
		Lng:     t.Center.Lng,
		Zoom:    geospatial.ZoomFromRange(zoomBase, t.Range),
		Heading: geospatial.NormalizeHeading(t.Heading),
		Tilt:    t.Tilt,
	}
}

// FromMapPose is the inverse of ToMapPose. Altitude is not represented on 2-D surfaces.
func FromMapPose(p domain.MapPose, zoomBase float64) domain.CameraTarget {
	return domain.CameraTarget{
		Center:  domain.CameraCenter{Lat: p.Lat, Lng: p.Lng},
		Tilt:    p.Tilt,
		Heading: p.Heading,
		Range:   geospatial.RangeFromZoom(zoomBase, p.Zoom),
	}
}
