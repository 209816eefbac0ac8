package usecases

import (
	"context"
	"math"
	"strings"

	"github.com/samirrijal/nearchat/internal/core/domain"
	"github.com/samirrijal/nearchat/internal/core/ports"
	"github.com/samirrijal/nearchat/internal/pkg/geospatial"
	"github.com/samirrijal/nearchat/internal/pkg/metrics"
)

// Geo index limits.
const (
	MaxRadiusKm       = 1000.0
	MaxTTLSeconds     = int64(30 * 24 * 60 * 60)
	DefaultTTLSeconds = int64(24 * 60 * 60)
)

// LocationRepository validates inputs and translates them into geo index
// calls. Nothing reaches the store unless validation passed.
type LocationRepository struct {
	geo    ports.GeoIndexStore
	maxTTL int64
}

// NewLocationRepository wraps a geo index store. maxTTL <= 0 selects MaxTTLSeconds.
func NewLocationRepository(geo ports.GeoIndexStore, maxTTL int64) *LocationRepository {
	if maxTTL <= 0 || maxTTL > MaxTTLSeconds {
		maxTTL = MaxTTLSeconds
	}
	return &LocationRepository{geo: geo, maxTTL: maxTTL}
}

// Store writes a position without metadata or expiry.
func (r *LocationRepository) Store(ctx context.Context, userID string, lon, lat float64) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := ValidateCoordinates(lon, lat); err != nil {
		return err
	}
	return storeErr(domain.StoreGeoIndex, "upsert", r.geo.Upsert(ctx, userID, lon, lat))
}

// StoreWithMetadata writes a position and its side record with a TTL.
func (r *LocationRepository) StoreWithMetadata(ctx context.Context, userID string, lon, lat float64, metadata map[string]string, ttlSeconds int64) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	if err := ValidateCoordinates(lon, lat); err != nil {
		return err
	}
	if ttlSeconds <= 0 || ttlSeconds > r.maxTTL {
		return domain.NewValidationError("ttl", "must be between 1 and %d seconds, got %d", r.maxTTL, ttlSeconds)
	}
	return storeErr(domain.StoreGeoIndex, "upsert",
		r.geo.UpsertWithMetadata(ctx, userID, lon, lat, metadata, ttlSeconds))
}

// Get returns the stored position or nil when the entry is absent or expired.
func (r *LocationRepository) Get(ctx context.Context, userID string) (*domain.Position, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	pos, err := r.geo.Get(ctx, userID)
	if err != nil {
		return nil, storeErr(domain.StoreGeoIndex, "get", err)
	}
	return pos, nil
}

// Metadata returns the side record; empty when absent.
func (r *LocationRepository) Metadata(ctx context.Context, userID string) (map[string]string, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	meta, err := r.geo.GetMetadata(ctx, userID)
	if err != nil {
		return nil, storeErr(domain.StoreGeoIndex, "metadata", err)
	}
	return meta, nil
}

func (r *LocationRepository) Remove(ctx context.Context, userID string) error {
	if err := validateUserID(userID); err != nil {
		return err
	}
	return storeErr(domain.StoreGeoIndex, "remove", r.geo.Remove(ctx, userID))
}

// TTL returns the remaining lifetime in seconds, or -1 when absent.
func (r *LocationRepository) TTL(ctx context.Context, userID string) (int64, error) {
	if err := validateUserID(userID); err != nil {
		return 0, err
	}
	ttl, err := r.geo.TTL(ctx, userID)
	if err != nil {
		return 0, storeErr(domain.StoreGeoIndex, "ttl", err)
	}
	return ttl, nil
}

// Nearby returns live entries within radiusKm of (lon, lat), closest first.
// limit 0 means unbounded.
func (r *LocationRepository) Nearby(ctx context.Context, lon, lat, radiusKm float64, excludeID string, limit int) ([]domain.Candidate, error) {
	if err := ValidateCoordinates(lon, lat); err != nil {
		return nil, err
	}
	if err := ValidateRadius(radiusKm); err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, domain.NewValidationError("limit", "must not be negative, got %d", limit)
	}
	hits, err := r.geo.ScanNear(ctx, lon, lat, radiusKm, excludeID, limit)
	if err != nil {
		return nil, storeErr(domain.StoreGeoIndex, "scan", err)
	}
	return hits, nil
}

// Distance returns the great-circle distance in meters between two stored
// positions. ok is false when either is missing.
func (r *LocationRepository) Distance(ctx context.Context, a, b string) (meters float64, ok bool, err error) {
	pa, err := r.Get(ctx, a)
	if err != nil || pa == nil {
		return 0, false, err
	}
	pb, err := r.Get(ctx, b)
	if err != nil || pb == nil {
		return 0, false, err
	}
	return geospatial.Haversine(pa.Latitude, pa.Longitude, pb.Latitude, pb.Longitude), true, nil
}

// ValidateCoordinates rejects non-finite or out-of-range coordinates.
func ValidateCoordinates(lon, lat float64) error {
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < domain.MinLongitude || lon > domain.MaxLongitude {
		return domain.NewValidationError("longitude", "must be between -180 and 180, got %v", lon)
	}
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < domain.MinLatitude || lat > domain.MaxLatitude {
		return domain.NewValidationError("latitude", "must be between -90 and 90, got %v", lat)
	}
	return nil
}

// ValidateRadius accepts radii in (0, MaxRadiusKm].
func ValidateRadius(radiusKm float64) error {
	if math.IsNaN(radiusKm) || radiusKm <= 0 || radiusKm > MaxRadiusKm {
		return domain.NewValidationError("radius", "must be in (0, %g] km, got %v", MaxRadiusKm, radiusKm)
	}
	return nil
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.NewValidationError("user id", "must not be empty")
	}
	return nil
}

// storeErr wraps a store failure; nil passes through.
func storeErr(store, op string, err error) error {
	if err == nil {
		return nil
	}
	metrics.StoreErrors.WithLabelValues(store, op).Inc()
	return &domain.StoreError{Store: store, Op: op, Err: err}
}
