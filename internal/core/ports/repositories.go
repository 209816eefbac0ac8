package ports

import (
	"context"

	"github.com/samirrijal/nearchat/internal/core/domain"
)

// ProfileRepository persists durable user profiles.
type ProfileRepository interface {
	// FindByID returns the profile or an error wrapping domain.ErrNotFound.
	FindByID(ctx context.Context, userID string) (*domain.Profile, error)
	// FindNearbyPublic returns publicly visible profiles whose last known
	// location lies within radiusKm of (lon, lat), excluding excludeID.
	FindNearbyPublic(ctx context.Context, lon, lat, radiusKm float64, excludeID string) ([]domain.Profile, error)
	UpdateLocation(ctx context.Context, userID string, lon, lat float64) error
	UpdatePrivacySettings(ctx context.Context, userID string, update domain.PrivacyUpdate) error
}

// GeoIndexStore holds one expirable position per user plus a metadata
// side-record.
type GeoIndexStore interface {
	Upsert(ctx context.Context, userID string, lon, lat float64) error
	UpsertWithMetadata(ctx context.Context, userID string, lon, lat float64, metadata map[string]string, ttlSeconds int64) error
	// Get returns nil, nil when the user has no live entry.
	Get(ctx context.Context, userID string) (*domain.Position, error)
	GetMetadata(ctx context.Context, userID string) (map[string]string, error)
	Remove(ctx context.Context, userID string) error
	// ScanNear returns live entries within radiusKm (inclusive) of (lon, lat),
	// sorted by ascending distance. limit <= 0 means unbounded.
	ScanNear(ctx context.Context, lon, lat, radiusKm float64, excludeID string, limit int) ([]domain.Candidate, error)
	// TTL returns the remaining seconds of the entry, or -1 when absent.
	TTL(ctx context.Context, userID string) (int64, error)
}

// SessionStore answers whether a session is still valid.
type SessionStore interface {
	IsActive(ctx context.Context, sessionID string) (bool, error)
}
