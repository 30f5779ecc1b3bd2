// Package geo holds the small amount of geodesy the rover needs to steer
// toward a waypoint. Angles are in degrees and distances in metres.
package geo

import "math"

// EarthRadiusM is the mean Earth radius used by every function here.
const EarthRadiusM = 6371000.0

func radians(d float64) float64 { return d / 180 * math.Pi }
func degrees(r float64) float64 { return r * 180 / math.Pi }

// Haversine returns the great-circle distance in metres between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	// https://www.movable-type.co.uk/scripts/latlong.html
	phi1, phi2 := radians(lat1), radians(lat2)
	dphi := radians(lat2 - lat1)
	dlambda := radians(lon2 - lon1)

	sp, sl := math.Sin(dphi/2), math.Sin(dlambda/2)
	a := sp*sp + math.Cos(phi1)*math.Cos(phi2)*sl*sl
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusM * c
}

// InitialBearing returns the forward azimuth from point 1 to point 2,
// normalized into [0, 360).
func InitialBearing(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dlambda := radians(lon2 - lon1)

	x := math.Sin(dlambda) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dlambda)
	b := math.Mod(degrees(math.Atan2(x, y))+360, 360)
	if b >= 360 {
		b -= 360
	}
	return b
}

// ApproxDistance is the equirectangular (flat-earth) approximation of the
// distance between two nearby points. It is accurate to well under a
// percent over the few hundred metres between waypoints.
func ApproxDistance(lat1, lon1, lat2, lon2 float64) float64 {
	x := radians(lon2-lon1) * math.Cos(radians((lat1+lat2)/2))
	y := radians(lat2 - lat1)
	return EarthRadiusM * math.Sqrt(x*x+y*y)
}

// HeadingError returns bearing minus heading wrapped into [-180, 180).
// A positive result means the target lies to the right.
func HeadingError(bearing, heading float64) float64 {
	e := math.Mod(bearing-heading+540, 360)
	if e < 0 {
		e += 360
	}
	return e - 180
}

// ValidLatLon reports whether lat/lon are finite and inside the WGS84 ranges.
func ValidLatLon(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
