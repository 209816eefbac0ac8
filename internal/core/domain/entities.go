package domain

import (
	"time"
)

// Profile defaults and bounds.
const (
	DefaultPublicRadiusKm = 50.0
	MinPublicRadiusKm     = 1.0
	MaxPublicRadiusKm     = 1000.0
)

// Profile is the durable per-user record. It is owned by the account
// lifecycle; the proximity subsystem only mutates privacy settings and the
// last known position.
type Profile struct {
	UserID            string    `json:"user_id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	IsPubliclyVisible bool      `json:"is_publicly_visible"`
	PublicRadiusKm    float64   `json:"public_radius_km"`
	LastKnownLocation *Position `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// PrivacyUpdate is a partial update of a profile's privacy settings.
// Nil fields are left unchanged.
type PrivacyUpdate struct {
	IsPubliclyVisible *bool    `json:"isPubliclyVisible,omitempty"`
	PublicRadiusKm    *float64 `json:"publicRadiusKm,omitempty"`
}

// Metadata keys written next to every geo index entry.
const (
	MetaLastUpdate = "lastUpdate"
	MetaAccuracy   = "accuracy"
	MetaSource     = "source"
)

// LocationUpdate is a raw position report from a client.
type LocationUpdate struct {
	UserID    string
	Longitude float64
	Latitude  float64
	Accuracy  *float64 // meters, optional
	Source    string
}

// NearbyUser is one entry of a nearby-users response. It deliberately carries
// no coordinates.
type NearbyUser struct {
	UserID     string  `json:"userId"`
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	DistanceKm float64 `json:"distanceKm"`
}

// DistanceResult is the outcome of a pairwise distance lookup. Available is
// false when either user has no live position.
type DistanceResult struct {
	Available  bool    `json:"available"`
	DistanceKm float64 `json:"distanceKm,omitempty"`
}

// Access decision reasons.
const (
	ReasonOwnLocation    = "own location"
	ReasonTargetNotFound = "target not found"
	ReasonPrivate        = "private"
	ReasonNoLocationData = "no location data"
	ReasonOutsideRadius  = "outside radius"
	ReasonGranted        = "granted"
)

// AccessDecision says whether a requester may learn a target's distance.
type AccessDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// LocationStatus summarises what the system holds about a user's location,
// without disclosing the position itself.
type LocationStatus struct {
	HasLocation       bool    `json:"hasLocation"`
	TTLSeconds        int64   `json:"ttlSeconds"`
	LastUpdate        string  `json:"lastUpdate,omitempty"`
	Accuracy          string  `json:"accuracy,omitempty"`
	Source            string  `json:"source,omitempty"`
	IsPubliclyVisible bool    `json:"isPubliclyVisible"`
	PublicRadiusKm    float64 `json:"publicRadiusKm"`
}

// Location event types published after state changes.
const (
	EventLocationUpdated = "location.updated"
	EventLocationRemoved = "location.removed"
	EventPrivacyChanged  = "location.privacy"
)

// LocationEvent notifies other services that a user's location state changed.
// It never carries coordinates.
type LocationEvent struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	Time   time.Time `json:"time"`
}

// AccountEvent is consumed from the account service.
type AccountEvent struct {
	Type   string    `json:"type"`
	UserID string    `json:"user_id"`
	Time   time.Time `json:"time"`
}

// Session identifies an authenticated caller.
type Session struct {
	ID     string
	UserID string
}
