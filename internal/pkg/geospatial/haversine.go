package geospatial

import (
	"math"
	"sort"
)

// EarthRadiusKm is the mean Earth radius used for every distance in the service.
const EarthRadiusKm = 6371.0

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c * 1000 // meters
}

// BoundingBox returns the smallest lat/lon box that contains every point
// within radiusMeters of (lat, lon) on the 6371 km sphere. When the circle
// reaches a pole the longitude span covers the full circle.
func BoundingBox(lat, lon, radiusMeters float64) (minLat, minLon, maxLat, maxLon float64) {
	angular := radiusMeters / (EarthRadiusKm * 1000)
	latDelta := toDeg(angular)

	minLat, maxLat = lat-latDelta, lat+latDelta
	if minLat <= -90 || maxLat >= 90 {
		return math.Max(minLat, -90), lon - 180, math.Min(maxLat, 90), lon + 180
	}

	lonDelta := toDeg(math.Asin(math.Min(1, math.Sin(angular)/math.Cos(toRad(lat)))))
	return minLat, lon - lonDelta, maxLat, lon + lonDelta
}

// Wrap maps a coordinate that lies past a pole or the antimeridian onto the
// same point of the sphere within [-90, 90] x [-180, 180). Haversine gives the
// same distance for both forms. Valid for |lat| <= 270.
func Wrap(lat, lon float64) (float64, float64) {
	switch {
	case lat > 90:
		lat, lon = 180-lat, lon+180
	case lat < -90:
		lat, lon = -180-lat, lon+180
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lat, lon - 180
}

// AngularDeg returns the arc in degrees spanned by radiusMeters.
func AngularDeg(radiusMeters float64) float64 {
	return toDeg(radiusMeters / (EarthRadiusKm * 1000))
}

// KmToMeters converts kilometers to meters.
func KmToMeters(km float64) float64 { return km * 1000 }

// RoundKm converts meters to kilometers rounded to two decimals.
func RoundKm(meters float64) float64 {
	return math.Round(meters/10) / 100
}

// Point is an identified coordinate fed to the linear scan.
type Point struct {
	ID  string
	Lon float64
	Lat float64
}

// Hit is a point within range of a scan and its distance in meters.
type Hit struct {
	ID             string
	DistanceMeters float64
}

// ScanNear is the reference nearby algorithm: an unindexed pass over every
// point computing the haversine distance. Points at exactly radiusMeters are
// included. Results are sorted by ascending distance and cut to limit when
// limit > 0.
func ScanNear(points []Point, lat, lon, radiusMeters float64, excludeID string, limit int) []Hit {
	var hits []Hit
	for _, p := range points {
		if p.ID == excludeID {
			continue
		}
		d := Haversine(lat, lon, p.Lat, p.Lon)
		if d <= radiusMeters {
			hits = append(hits, Hit{ID: p.ID, DistanceMeters: d})
		}
	}
	SortHits(hits)
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits
}

// SortHits orders hits by distance, breaking ties by id for stable output.
func SortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].DistanceMeters == hits[j].DistanceMeters {
			return hits[i].ID < hits[j].ID
		}
		return hits[i].DistanceMeters < hits[j].DistanceMeters
	})
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}
