package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by Haversine.
const EarthRadiusMeters = 6_371_000.0

// MetersPerDegree is the flat conversion used for planar nearest-node
// distances. It matches one degree of latitude and ignores longitude shrink.
const MetersPerDegree = 111_000.0

// Haversine returns the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1r := lat1 * math.Pi / 180
	lat2r := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1r)*math.Cos(lat2r)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// PlanarDist returns the Euclidean distance between two points in degree
// units, treating (lng, lat) as plane coordinates.
func PlanarDist(lng1, lat1, lng2, lat2 float64) float64 {
	return math.Hypot(lng2-lng1, lat2-lat1)
}

// DegreesToMeters converts a planar degree distance to meters.
func DegreesToMeters(d float64) float64 {
	return d * MetersPerDegree
}

// ValidLatLng reports whether lat/lng are finite and inside WGS84 bounds.
func ValidLatLng(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
