// Package memory holds in-process store implementations used when no
// external stores are configured, and by tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"

	"github.com/samirrijal/nearchat/internal/core/domain"
	"github.com/samirrijal/nearchat/internal/pkg/geospatial"
)

const (
	tolerance   = 1e-9
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
)

// spatialItem wraps a user's position for R-Tree indexing.
type spatialItem struct {
	userID string
	pos    domain.Position
	rect   *rtreego.Rect
}

func (si *spatialItem) Bounds() *rtreego.Rect {
	return si.rect
}

type geoEntry struct {
	item      *spatialItem
	meta      map[string]string
	expiresAt time.Time // zero means no expiry
}

func (e *geoEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// GeoIndex implements ports.GeoIndexStore with an R-Tree prefilter and
// per-entry expiry evaluated against its clock.
type GeoIndex struct {
	mu      sync.RWMutex
	tree    *rtreego.Rtree
	entries map[string]*geoEntry
	now     func() time.Time
	linear  bool
}

// GeoOption configures a GeoIndex.
type GeoOption func(*GeoIndex)

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) GeoOption {
	return func(g *GeoIndex) { g.now = now }
}

// WithLinearScan makes ScanNear visit every entry instead of querying the tree.
func WithLinearScan() GeoOption {
	return func(g *GeoIndex) { g.linear = true }
}

func NewGeoIndex(opts ...GeoOption) *GeoIndex {
	g := &GeoIndex{
		tree:    rtreego.NewTree(dimensions, minChildren, maxChildren),
		entries: make(map[string]*geoEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *GeoIndex) Upsert(ctx context.Context, userID string, lon, lat float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var meta map[string]string
	if e, ok := g.entries[userID]; ok && !e.expired(g.now()) {
		meta = e.meta
	}
	g.put(userID, lon, lat, meta, time.Time{})
	return nil
}

func (g *GeoIndex) UpsertWithMetadata(ctx context.Context, userID string, lon, lat float64, metadata map[string]string, ttlSeconds int64) error {
	if ttlSeconds <= 0 {
		return fmt.Errorf("ttl must be positive, got %d", ttlSeconds)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.put(userID, lon, lat, maps.Clone(metadata), g.now().Add(time.Duration(ttlSeconds)*time.Second))
	return nil
}

// put replaces the entry for userID. Caller holds the write lock.
func (g *GeoIndex) put(userID string, lon, lat float64, meta map[string]string, expiresAt time.Time) {
	if old, ok := g.entries[userID]; ok {
		g.tree.Delete(old.item)
	}
	// The tree holds the wrapped point; pos keeps the stored value.
	wlat, wlon := geospatial.Wrap(lat, lon)
	item := &spatialItem{
		userID: userID,
		pos:    domain.Position{Longitude: lon, Latitude: lat},
		rect:   rtreego.Point{wlat, wlon}.ToRect(tolerance),
	}
	g.tree.Insert(item)
	g.entries[userID] = &geoEntry{item: item, meta: meta, expiresAt: expiresAt}
}

// live returns the entry if present and unexpired, evicting it otherwise.
// Caller holds the write lock.
func (g *GeoIndex) live(userID string) *geoEntry {
	e, ok := g.entries[userID]
	if !ok {
		return nil
	}
	if e.expired(g.now()) {
		g.tree.Delete(e.item)
		delete(g.entries, userID)
		return nil
	}
	return e
}

func (g *GeoIndex) Get(ctx context.Context, userID string) (*domain.Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.live(userID)
	if e == nil {
		return nil, nil
	}
	pos := e.item.pos
	return &pos, nil
}

func (g *GeoIndex) GetMetadata(ctx context.Context, userID string) (map[string]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.live(userID)
	if e == nil || e.meta == nil {
		return map[string]string{}, nil
	}
	return maps.Clone(e.meta), nil
}

func (g *GeoIndex) Remove(ctx context.Context, userID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e, ok := g.entries[userID]; ok {
		g.tree.Delete(e.item)
		delete(g.entries, userID)
	}
	return nil
}

// TTL returns whole seconds left, -1 when absent or not expiring.
func (g *GeoIndex) TTL(ctx context.Context, userID string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.live(userID)
	if e == nil || e.expiresAt.IsZero() {
		return -1, nil
	}
	left := e.expiresAt.Sub(g.now())
	return int64((left + time.Second - 1) / time.Second), nil
}

func (g *GeoIndex) ScanNear(ctx context.Context, lon, lat, radiusKm float64, excludeID string, limit int) ([]domain.Candidate, error) {
	radiusMeters := geospatial.KmToMeters(radiusKm)

	g.mu.RLock()
	var (
		items []*spatialItem
		err   error
	)
	if g.linear {
		items = make([]*spatialItem, 0, len(g.entries))
		for _, e := range g.entries {
			items = append(items, e.item)
		}
	} else {
		items, err = g.searchBox(lat, lon, radiusMeters)
	}
	now := g.now()
	points := make([]geospatial.Point, 0, len(items))
	for _, it := range items {
		if g.entries[it.userID].expired(now) {
			continue
		}
		points = append(points, geospatial.Point{ID: it.userID, Lon: it.pos.Longitude, Lat: it.pos.Latitude})
	}
	g.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	hits := geospatial.ScanNear(points, lat, lon, radiusMeters, excludeID, limit)
	out := make([]domain.Candidate, len(hits))
	for i, h := range hits {
		out[i] = domain.Candidate{UserID: h.ID, DistanceMeters: h.DistanceMeters}
	}
	return out, nil
}

// searchBox collects tree items inside the circle's bounding box. A box that
// crosses the antimeridian is also searched shifted by a full turn. Caller
// holds the read lock.
func (g *GeoIndex) searchBox(lat, lon, radiusMeters float64) ([]*spatialItem, error) {
	lat, lon = geospatial.Wrap(lat, lon)
	minLat, minLon, maxLat, maxLon := geospatial.BoundingBox(lat, lon, radiusMeters)

	shifts := []float64{0}
	if minLon < domain.MinLongitude {
		shifts = append(shifts, 360)
	}
	if maxLon > domain.MaxLongitude {
		shifts = append(shifts, -360)
	}

	seen := make(map[string]bool)
	var out []*spatialItem
	for _, shift := range shifts {
		bounds, err := rtreego.NewRect(
			rtreego.Point{minLat, minLon + shift},
			[]float64{maxLat - minLat + tolerance, maxLon - minLon + tolerance},
		)
		if err != nil {
			return nil, fmt.Errorf("invalid radius search: %w", err)
		}
		for _, r := range g.tree.SearchIntersect(bounds) {
			it, ok := r.(*spatialItem)
			if !ok || seen[it.userID] {
				continue
			}
			seen[it.userID] = true
			out = append(out, it)
		}
	}
	return out, nil
}

// Len returns the number of stored entries, expired ones included until
// they are next touched.
func (g *GeoIndex) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}
