package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/samirrijal/nearchat/internal/core/domain"
	"github.com/samirrijal/nearchat/internal/pkg/geospatial"
)

// ProfileRepo implements ports.ProfileRepository in memory.
type ProfileRepo struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
	now      func() time.Time
}

func NewProfileRepo() *ProfileRepo {
	return &ProfileRepo{profiles: make(map[string]domain.Profile), now: time.Now}
}

// Load saves every profile of a JSON array such as
//
//	[{"user_id": "u1", "name": "Ane", "is_publicly_visible": true}]
func (r *ProfileRepo) Load(rd io.Reader) (int, error) {
	var profiles []domain.Profile
	if err := json.NewDecoder(rd).Decode(&profiles); err != nil {
		return 0, fmt.Errorf("decode profiles: %w", err)
	}
	for _, p := range profiles {
		if p.UserID == "" {
			return 0, fmt.Errorf("profile without user_id")
		}
	}
	for _, p := range profiles {
		r.Save(p)
	}
	return len(profiles), nil
}

// Save inserts or replaces a profile. A zero radius is set to the default.
func (r *ProfileRepo) Save(p domain.Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.PublicRadiusKm == 0 {
		p.PublicRadiusKm = domain.DefaultPublicRadiusKm
	}
	now := r.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	r.profiles[p.UserID] = p
}

func (r *ProfileRepo) FindByID(ctx context.Context, userID string) (*domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "profile", ID: userID}
	}
	return clone(p), nil
}

// FindNearbyPublic returns public profiles whose last known location is
// within radiusKm, closest first.
func (r *ProfileRepo) FindNearbyPublic(ctx context.Context, lon, lat, radiusKm float64, excludeID string) ([]domain.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type hit struct {
		p domain.Profile
		d float64
	}
	var hits []hit
	for id, p := range r.profiles {
		if id == excludeID || !p.IsPubliclyVisible || p.LastKnownLocation == nil {
			continue
		}
		d := geospatial.Haversine(lat, lon, p.LastKnownLocation.Latitude, p.LastKnownLocation.Longitude)
		if d <= geospatial.KmToMeters(radiusKm) {
			hits = append(hits, hit{p: *clone(p), d: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].d < hits[j].d })

	out := make([]domain.Profile, len(hits))
	for i, h := range hits {
		out[i] = h.p
	}
	return out, nil
}

func (r *ProfileRepo) UpdateLocation(ctx context.Context, userID string, lon, lat float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return &domain.NotFoundError{Kind: "profile", ID: userID}
	}
	p.LastKnownLocation = &domain.Position{Longitude: lon, Latitude: lat}
	p.UpdatedAt = r.now()
	r.profiles[userID] = p
	return nil
}

func (r *ProfileRepo) UpdatePrivacySettings(ctx context.Context, userID string, update domain.PrivacyUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.profiles[userID]
	if !ok {
		return &domain.NotFoundError{Kind: "profile", ID: userID}
	}
	if update.IsPubliclyVisible != nil {
		p.IsPubliclyVisible = *update.IsPubliclyVisible
	}
	if update.PublicRadiusKm != nil {
		p.PublicRadiusKm = *update.PublicRadiusKm
	}
	p.UpdatedAt = r.now()
	r.profiles[userID] = p
	return nil
}

func clone(p domain.Profile) *domain.Profile {
	if p.LastKnownLocation != nil {
		loc := *p.LastKnownLocation
		p.LastKnownLocation = &loc
	}
	return &p
}
