package geospatial

import "github.com/wroge/wgs84"

var (
	toMercator   = wgs84.EPSG().Transform(4326, 3857)
	fromMercator = wgs84.EPSG().Transform(3857, 4326)
)

// ToMercator projects a WGS 84 coordinate to Web-Mercator meters (EPSG:3857).
func ToMercator(lat, lon float64) (x, y float64) {
	x, y, _ = toMercator(lon, lat, 0)
	return x, y
}

// FromMercator converts Web-Mercator meters back to latitude and longitude.
func FromMercator(x, y float64) (lat, lon float64) {
	lon, lat, _ = fromMercator(x, y, 0)
	return lat, lon
}

// LerpMercator interpolates between two coordinates in Web-Mercator space,
// which is the space a 2-D map surface scrolls in.
func LerpMercator(lat1, lon1, lat2, lon2, t float64) (lat, lon float64) {
	x1, y1 := ToMercator(lat1, lon1)
	x2, y2 := ToMercator(lat2, lon2)
	return FromMercator(x1+(x2-x1)*t, y1+(y2-y1)*t)
}
