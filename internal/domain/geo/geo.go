package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the radius the index engine uses for geo distances. Every
// distance computed here must agree with it at radius boundaries.
const EarthRadiusKm = 6372.797560856

// MaxLatitude is the highest latitude the index can store (Web Mercator limit).
const MaxLatitude = 85.05112878

// MaxRadiusKm bounds radius filters to half of Earth's circumference.
const MaxRadiusKm = 20_000.0

// Point is a WGS84 coordinate pair in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Radius is a circular area filter.
type Radius struct {
	Center Point
	Km     float64
}

// NewRadius validates and creates a radius filter.
func NewRadius(lat, lon, km float64) (Radius, error) {
	if !ValidateCoordinates(lat, lon) {
		return Radius{}, fmt.Errorf("coordinates (%f, %f) out of range", lat, lon)
	}
	if km <= 0 || km > MaxRadiusKm || math.IsNaN(km) {
		return Radius{}, fmt.Errorf("radius must be in (0, %g] km, got %g", MaxRadiusKm, km)
	}
	return Radius{Center: Point{Lat: lat, Lon: lon}, Km: km}, nil
}

// Contains reports whether p lies within the radius.
func (r Radius) Contains(p Point) bool {
	return HaversineKm(r.Center.Lat, r.Center.Lon, p.Lat, p.Lon) <= r.Km
}

// HaversineKm returns the great-circle distance in kilometres between two points
// specified by latitude and longitude in degrees.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// ValidateCoordinates checks that latitude is within ±MaxLatitude and
// longitude in [-180,180].
func ValidateCoordinates(lat, lon float64) bool {
	return lat >= -MaxLatitude && lat <= MaxLatitude && lon >= -180 && lon <= 180
}
