package valkey

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/valkey-io/valkey-go"

	"github.com/samirrijal/nearchat/internal/core/domain"
	"github.com/samirrijal/nearchat/internal/pkg/geospatial"
)

// Key layout:
//
//	geo:pos:{id}   hash lon/lat, expires with the entry
//	geo:meta:{id}  hash of free-form metadata, same expiry
//	geo:index      GEO sorted set used as a prefilter for indexed scans
//
// Sorted-set members cannot expire on their own, so the pos hash is the
// liveness authority and stale members are removed lazily during scans.
const (
	posPrefix  = "geo:pos:"
	metaPrefix = "geo:meta:"
	indexKey   = "geo:index"

	fieldLon = "lon"
	fieldLat = "lat"

	scanBatch = 500

	// GEOADD only accepts latitudes within the Web Mercator range.
	maxIndexLat = 85.05112878
)

// ScanMode selects how ScanNear finds candidates.
type ScanMode int

const (
	// ScanIndexed uses GEOSEARCH over geo:index.
	ScanIndexed ScanMode = iota
	// ScanLinear walks every geo:pos key and computes haversine distances.
	ScanLinear
)

// GeoIndex implements ports.GeoIndexStore on Valkey.
type GeoIndex struct {
	client valkey.Client
	mode   ScanMode
}

func NewGeoIndex(client valkey.Client, mode ScanMode) *GeoIndex {
	return &GeoIndex{client: client, mode: mode}
}

// Upsert writes a position with no expiry.
func (g *GeoIndex) Upsert(ctx context.Context, userID string, lon, lat float64) error {
	b := g.client.B()
	cmds := valkey.Commands{
		b.Hset().Key(posPrefix + userID).FieldValue().
			FieldValue(fieldLon, formatCoord(lon)).
			FieldValue(fieldLat, formatCoord(lat)).Build(),
		b.Persist().Key(posPrefix + userID).Build(),
		g.geoadd(userID, lon, lat),
	}
	return firstErr(g.client.DoMulti(ctx, cmds...))
}

// UpsertWithMetadata replaces the position and metadata and sets both to
// expire after ttlSeconds.
func (g *GeoIndex) UpsertWithMetadata(ctx context.Context, userID string, lon, lat float64, metadata map[string]string, ttlSeconds int64) error {
	b := g.client.B()
	pos, meta := posPrefix+userID, metaPrefix+userID

	cmds := valkey.Commands{
		b.Hset().Key(pos).FieldValue().
			FieldValue(fieldLon, formatCoord(lon)).
			FieldValue(fieldLat, formatCoord(lat)).Build(),
		b.Expire().Key(pos).Seconds(ttlSeconds).Build(),
		b.Del().Key(meta).Build(),
	}
	if len(metadata) > 0 {
		fv := b.Hset().Key(meta).FieldValue()
		for k, v := range metadata {
			fv = fv.FieldValue(k, v)
		}
		cmds = append(cmds, fv.Build(), b.Expire().Key(meta).Seconds(ttlSeconds).Build())
	}
	cmds = append(cmds, g.geoadd(userID, lon, lat))

	return firstErr(g.client.DoMulti(ctx, cmds...))
}

// Get returns nil, nil once the entry expired or was removed.
func (g *GeoIndex) Get(ctx context.Context, userID string) (*domain.Position, error) {
	m, err := g.client.Do(ctx, g.client.B().Hgetall().Key(posPrefix+userID).Build()).AsStrMap()
	if err != nil {
		return nil, err
	}
	return parsePosition(m)
}

func (g *GeoIndex) GetMetadata(ctx context.Context, userID string) (map[string]string, error) {
	m, err := g.client.Do(ctx, g.client.B().Hgetall().Key(metaPrefix+userID).Build()).AsStrMap()
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func (g *GeoIndex) Remove(ctx context.Context, userID string) error {
	b := g.client.B()
	return firstErr(g.client.DoMulti(ctx,
		b.Del().Key(posPrefix+userID, metaPrefix+userID).Build(),
		b.Zrem().Key(indexKey).Member(userID).Build(),
	))
}

// TTL maps the server's "no key" (-2) to -1.
func (g *GeoIndex) TTL(ctx context.Context, userID string) (int64, error) {
	ttl, err := g.client.Do(ctx, g.client.B().Ttl().Key(posPrefix+userID).Build()).AsInt64()
	if err != nil {
		return 0, err
	}
	if ttl < 0 {
		return -1, nil
	}
	return ttl, nil
}

// ScanNear returns live entries within radiusKm of (lon, lat), closest first.
// Distances are always recomputed from the stored hash coordinates so both
// scan modes agree on the boundary.
func (g *GeoIndex) ScanNear(ctx context.Context, lon, lat, radiusKm float64, excludeID string, limit int) ([]domain.Candidate, error) {
	var (
		points []geospatial.Point
		err    error
	)
	if g.mode == ScanLinear {
		points, err = g.scanAll(ctx)
	} else {
		points, err = g.searchIndex(ctx, lon, lat, radiusKm)
	}
	if err != nil {
		return nil, err
	}

	hits := geospatial.ScanNear(points, lat, lon, geospatial.KmToMeters(radiusKm), excludeID, limit)
	out := make([]domain.Candidate, len(hits))
	for i, h := range hits {
		out[i] = domain.Candidate{UserID: h.ID, DistanceMeters: h.DistanceMeters}
	}
	return out, nil
}

// searchIndex runs GEOSEARCH with a slightly larger radius, then loads the
// authoritative coordinates of every member. Members beyond maxIndexLat are
// indexed at the clamped latitude, which distorts their distances, so a circle
// reaching that band is answered by a full scan.
func (g *GeoIndex) searchIndex(ctx context.Context, lon, lat, radiusKm float64) ([]geospatial.Point, error) {
	lat, lon = geospatial.Wrap(lat, lon)
	if math.Abs(lat)+geospatial.AngularDeg(geospatial.KmToMeters(radiusKm)) > maxIndexLat {
		return g.scanAll(ctx)
	}

	b := g.client.B()
	locs, err := g.client.Do(ctx, b.Geosearch().Key(indexKey).
		Fromlonlat(lon, lat).
		Byradius(radiusKm*1.001+0.01).Km().
		Asc().Build()).AsGeosearch()
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(locs))
	for i, l := range locs {
		ids[i] = l.Name
	}
	points, stale, err := g.loadPoints(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 {
		// Best effort; a failed cleanup is retried by the next scan.
		_ = g.client.Do(ctx, b.Zrem().Key(indexKey).Member(stale...).Build()).Error()
	}
	return points, nil
}

// scanAll walks every geo:pos key.
func (g *GeoIndex) scanAll(ctx context.Context) ([]geospatial.Point, error) {
	var (
		points []geospatial.Point
		cursor uint64
	)
	for {
		entry, err := g.client.Do(ctx, g.client.B().Scan().Cursor(cursor).
			Match(posPrefix+"*").Count(scanBatch).Build()).AsScanEntry()
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(entry.Elements))
		for _, k := range entry.Elements {
			ids = append(ids, strings.TrimPrefix(k, posPrefix))
		}
		batch, _, err := g.loadPoints(ctx, ids)
		if err != nil {
			return nil, err
		}
		points = append(points, batch...)

		cursor = entry.Cursor
		if cursor == 0 {
			return points, nil
		}
	}
}

// loadPoints reads the pos hash of each id in one pipeline. Ids whose hash is
// gone are returned as stale.
func (g *GeoIndex) loadPoints(ctx context.Context, ids []string) (points []geospatial.Point, stale []string, err error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	cmds := make(valkey.Commands, len(ids))
	for i, id := range ids {
		cmds[i] = g.client.B().Hgetall().Key(posPrefix + id).Build()
	}
	for i, res := range g.client.DoMulti(ctx, cmds...) {
		m, err := res.AsStrMap()
		if err != nil {
			return nil, nil, err
		}
		pos, err := parsePosition(m)
		if err != nil {
			return nil, nil, fmt.Errorf("entry %s: %w", ids[i], err)
		}
		if pos == nil {
			stale = append(stale, ids[i])
			continue
		}
		points = append(points, geospatial.Point{ID: ids[i], Lon: pos.Longitude, Lat: pos.Latitude})
	}
	return points, stale, nil
}

// geoadd indexes the member at a coordinate GEOADD accepts. Obfuscated
// positions may sit just past a pole or the antimeridian; they are wrapped
// onto the sphere and the hash keeps the exact value.
func (g *GeoIndex) geoadd(userID string, lon, lat float64) valkey.Completed {
	lat, lon = geospatial.Wrap(lat, lon)
	return g.client.B().Geoadd().Key(indexKey).LongitudeLatitudeMember().
		LongitudeLatitudeMember(lon, clampLat(lat), userID).Build()
}

func parsePosition(m map[string]string) (*domain.Position, error) {
	if len(m) == 0 {
		return nil, nil
	}
	lon, err := strconv.ParseFloat(m[fieldLon], 64)
	if err != nil {
		return nil, fmt.Errorf("parse lon: %w", err)
	}
	lat, err := strconv.ParseFloat(m[fieldLat], 64)
	if err != nil {
		return nil, fmt.Errorf("parse lat: %w", err)
	}
	return &domain.Position{Longitude: lon, Latitude: lat}, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func clampLat(lat float64) float64 {
	return min(max(lat, -maxIndexLat), maxIndexLat)
}

func firstErr(results []valkey.ValkeyResult) error {
	for _, r := range results {
		if err := r.Error(); err != nil {
			return err
		}
	}
	return nil
}
