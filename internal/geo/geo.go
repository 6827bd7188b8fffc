// Package geo holds the geographic primitives shared by the stop stores and
// the nearby-stops manager.
package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"
	"github.com/umahmood/haversine"
)

const (
	// EarthRadiusKm is the mean Earth radius used for every distance
	// calculation. It matches the constant inside umahmood/haversine.
	EarthRadiusKm = 6371.0

	// cellPrecision 7 ≈ 153m x 153m, fine enough to tell two viewport
	// centres apart at street level.
	cellPrecision = 7
)

// Point is an immutable WGS-84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Valid reports whether both coordinates are finite numbers.
func (p Point) Valid() bool {
	return finite(p.Lat) && finite(p.Lon)
}

// DistanceKm returns the haversine great-circle distance between a and b.
// ok is false when any coordinate is NaN or ±Inf; callers must then treat the
// points as arbitrarily far apart.
func DistanceKm(a, b Point) (km float64, ok bool) {
	if !a.Valid() || !b.Valid() {
		return 0, false
	}
	_, km = haversine.Distance(
		haversine.Coord{Lat: a.Lat, Lon: a.Lon},
		haversine.Coord{Lat: b.Lat, Lon: b.Lon},
	)
	if !finite(km) {
		return 0, false
	}
	return km, true
}

// Box is a latitude/longitude bounding box in degrees.
type Box struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// BoundingBox returns the box enclosing every point within radiusKm of
// center. Near the poles the longitude span is widened to the full range.
func BoundingBox(center Point, radiusKm float64) Box {
	dLat := radiusKm / EarthRadiusKm * 180 / math.Pi

	box := Box{
		MinLat: math.Max(center.Lat-dLat, -90),
		MaxLat: math.Min(center.Lat+dLat, 90),
		MinLon: -180,
		MaxLon: 180,
	}

	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if cosLat > 1e-9 {
		dLon := dLat / cosLat
		// Boxes crossing the antimeridian fall back to the full longitude range.
		if dLon < 180 && center.Lon-dLon >= -180 && center.Lon+dLon <= 180 {
			box.MinLon = center.Lon - dLon
			box.MaxLon = center.Lon + dLon
		}
	}
	return box
}

// Cell returns the geohash cell containing p.
func Cell(p Point) string {
	if !p.Valid() {
		return "invalid"
	}
	return geohash.EncodeWithPrecision(p.Lat, p.Lon, cellPrecision)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
