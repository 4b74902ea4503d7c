package utils

import "math"

// EarthRadiusKm is the mean earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// HaversineDistanceKm calculates the great-circle distance in kilometres
// between two WGS84 points using the Haversine formula.
func HaversineDistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLng := (lng2 - lng1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLng/2)*math.Sin(dLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// BoundingBox is a lat/lng rectangle that never crosses the antimeridian.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// CalculateBoundingBoxes returns rectangles that together cover every point
// within radiusKm of (lat, lng). A circle crossing the antimeridian yields two
// rectangles; one reaching a pole covers all longitudes.
func CalculateBoundingBoxes(lat, lng, radiusKm float64) []BoundingBox {
	angular := radiusKm / EarthRadiusKm
	deltaLat := angular * 180.0 / math.Pi

	minLat := lat - deltaLat
	maxLat := lat + deltaLat
	if minLat <= -90 || maxLat >= 90 || angular >= math.Pi {
		return []BoundingBox{{
			MinLat: math.Max(minLat, -90),
			MaxLat: math.Min(maxLat, 90),
			MinLng: -180,
			MaxLng: 180,
		}}
	}

	// Widest longitude span is reached at the latitude of tangency, not at
	// the centre; this keeps the box conservative away from the equator.
	deltaLng := math.Asin(math.Sin(angular)/math.Cos(lat*math.Pi/180.0)) * 180.0 / math.Pi
	minLng := lng - deltaLng
	maxLng := lng + deltaLng

	switch {
	case minLng < -180:
		return []BoundingBox{
			{MinLat: minLat, MaxLat: maxLat, MinLng: minLng + 360, MaxLng: 180},
			{MinLat: minLat, MaxLat: maxLat, MinLng: -180, MaxLng: maxLng},
		}
	case maxLng > 180:
		return []BoundingBox{
			{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: 180},
			{MinLat: minLat, MaxLat: maxLat, MinLng: -180, MaxLng: maxLng - 360},
		}
	}
	return []BoundingBox{{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}}
}

// ValidCoordinates reports whether lat/lng lie inside the WGS84 ranges.
func ValidCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}
