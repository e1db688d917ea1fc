package geo

import "math"

const earthRadiusKM = 6371.0

// IsValidLocation reports whether the given coordinate pair is present
// and in range: latitude in [-90, 90], longitude in [-180, 180]. A nil
// value or an out-of-range value is a normal false result, not an error.
func IsValidLocation(latitude, longitude *float64) bool {
	if latitude == nil || longitude == nil {
		return false
	}
	return *latitude >= -90 && *latitude <= 90 &&
		*longitude >= -180 && *longitude <= 180
}

// DistanceKM returns the great-circle distance between two points in
// kilometers using the haversine formula.
func DistanceKM(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKM * c
}

// BoundingBox returns the min/max latitude and longitude of a box that
// encloses a circle of radiusKM around the given point. It is a coarse
// prefilter for SQL range scans; callers still apply the exact
// haversine cut. Near the poles the longitude span degenerates, so the
// full range is returned there. Longitude clamps at +-180 rather than
// wrapping, so a box near the antimeridian excludes places on the far
// side even when they fall inside the radius.
func BoundingBox(lat, lng, radiusKM float64) (minLat, maxLat, minLng, maxLng float64) {
	latDelta := radiusKM / 111.0
	minLat = math.Max(lat-latDelta, -90)
	maxLat = math.Min(lat+latDelta, 90)

	cosLat := math.Cos(radians(lat))
	if cosLat < 0.01 {
		return minLat, maxLat, -180, 180
	}
	lngDelta := radiusKM / (111.0 * cosLat)
	minLng = math.Max(lng-lngDelta, -180)
	maxLng = math.Min(lng+lngDelta, 180)
	return minLat, maxLat, minLng, maxLng
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
