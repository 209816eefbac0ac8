package domain

// Position is an obfuscated WGS 84 coordinate. Raw client coordinates never
// leave the update boundary; every Position held by a store has already been
// passed through the obfuscation transform.
type Position struct {
	Longitude float64 `json:"-"`
	Latitude  float64 `json:"-"`
}

// Coordinate bounds accepted at the update boundary.
const (
	MinLongitude = -180.0
	MaxLongitude = 180.0
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
)

// Candidate is a geo index hit: a user id and its great-circle distance from
// the query point, in meters.
type Candidate struct {
	UserID         string
	DistanceMeters float64
}
