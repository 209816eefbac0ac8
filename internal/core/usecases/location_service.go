package usecases

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/samirrijal/nearchat/internal/core/domain"
	"github.com/samirrijal/nearchat/internal/core/ports"
	"github.com/samirrijal/nearchat/internal/pkg/geospatial"
	"github.com/samirrijal/nearchat/internal/pkg/metrics"
	"github.com/samirrijal/nearchat/internal/pkg/obfuscate"
	"github.com/samirrijal/nearchat/internal/pkg/telemetry"
)

// Nearby query limits.
const (
	DefaultNearbyLimit = 50
	MaxNearbyLimit     = 1000
)

// profileSlackKm widens the profile-store query so that rounding differences
// between the two stores' distance functions never drop a live candidate.
// Final distances always come from the geo index.
const profileSlackKm = 0.01

// LocationService is the proximity engine: it obfuscates positions, keeps the
// geo index and the profile store in step, answers nearby queries and decides
// who may learn whose distance.
type LocationService struct {
	locations  *LocationRepository
	profiles   ports.ProfileRepository
	publisher  ports.EventPublisher
	obfuscator obfuscate.Obfuscator
	ttlSeconds int64
	source     string
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
}

// LocationOption configures a LocationService.
type LocationOption func(*LocationService)

// WithPublisher publishes location events after successful state changes.
func WithPublisher(p ports.EventPublisher) LocationOption {
	return func(s *LocationService) { s.publisher = p }
}

// WithTTL sets the geo index entry lifetime written on every update.
func WithTTL(seconds int64) LocationOption {
	return func(s *LocationService) {
		if seconds > 0 {
			s.ttlSeconds = seconds
		}
	}
}

// WithSource sets the default metadata source tag.
func WithSource(source string) LocationOption {
	return func(s *LocationService) {
		if source != "" {
			s.source = source
		}
	}
}

// WithClock overrides time.Now for metadata timestamps.
func WithClock(now func() time.Time) LocationOption {
	return func(s *LocationService) { s.now = now }
}

func WithLogger(l *slog.Logger) LocationOption {
	return func(s *LocationService) { s.logger = l }
}

// NewLocationService creates a new LocationService.
func NewLocationService(
	locations *LocationRepository,
	profiles ports.ProfileRepository,
	obfuscator obfuscate.Obfuscator,
	opts ...LocationOption,
) *LocationService {
	s := &LocationService{
		locations:  locations,
		profiles:   profiles,
		obfuscator: obfuscator,
		ttlSeconds: DefaultTTLSeconds,
		source:     "api",
		now:        time.Now,
		logger:     slog.Default(),
		tracer:     telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpdateUserLocation obfuscates a raw report and writes it to the geo index,
// then mirrors it to the profile. The two writes are not atomic: when the
// mirror fails the geo index already holds the new position and the error is
// returned anyway. The next successful update reconciles both stores.
func (s *LocationService) UpdateUserLocation(ctx context.Context, u domain.LocationUpdate) (err error) {
	ctx, span := s.tracer.Start(ctx, "location.update", trace.WithAttributes(attribute.String("user.id", u.UserID)))
	defer func() { endSpan(span, err) }()
	defer func() { metrics.LocationUpdates.WithLabelValues(resultLabel(err)).Inc() }()

	if err := validateUserID(u.UserID); err != nil {
		return err
	}
	if err := ValidateCoordinates(u.Longitude, u.Latitude); err != nil {
		return err
	}
	if u.Accuracy != nil && !(*u.Accuracy > 0) {
		return domain.NewValidationError("accuracy", "must be positive, got %v", *u.Accuracy)
	}

	if _, err := s.profile(ctx, u.UserID); err != nil {
		return err
	}

	pos := s.obfuscator.Apply(u.UserID, u.Longitude, u.Latitude)

	source := u.Source
	if source == "" {
		source = s.source
	}
	meta := map[string]string{
		domain.MetaLastUpdate: s.now().UTC().Format(time.RFC3339),
		domain.MetaSource:     source,
	}
	if u.Accuracy != nil {
		meta[domain.MetaAccuracy] = strconv.FormatFloat(*u.Accuracy, 'f', -1, 64)
	}

	// Phase 1: geo index (authoritative for "current").
	if err := s.locations.StoreWithMetadata(ctx, u.UserID, pos.Longitude, pos.Latitude, meta, s.ttlSeconds); err != nil {
		return err
	}

	// Phase 2: durable mirror.
	if err := s.profiles.UpdateLocation(ctx, u.UserID, pos.Longitude, pos.Latitude); err != nil {
		s.logger.WarnContext(ctx, "profile location mirror failed, stores diverge until next update",
			"user_id", u.UserID, "error", err)
		return profileErr("update location", err)
	}

	s.publish(ctx, domain.EventLocationUpdated, u.UserID)
	return nil
}

// GetNearbyUsers returns public users with a live position within radiusKm of
// the requester, closest first. limit 0 selects DefaultNearbyLimit.
func (s *LocationService) GetNearbyUsers(ctx context.Context, requesterID string, radiusKm float64, limit int) (users []domain.NearbyUser, err error) {
	ctx, span := s.tracer.Start(ctx, "location.nearby", trace.WithAttributes(
		attribute.String("user.id", requesterID),
		attribute.Float64("radius_km", radiusKm),
	))
	defer func() { endSpan(span, err) }()
	defer func() { metrics.NearbyQueries.WithLabelValues(resultLabel(err)).Inc() }()

	if err := validateUserID(requesterID); err != nil {
		return nil, err
	}
	if err := ValidateRadius(radiusKm); err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = DefaultNearbyLimit
	}
	if limit < 0 || limit > MaxNearbyLimit {
		return nil, domain.NewValidationError("limit", "must be in (0, %d], got %d", MaxNearbyLimit, limit)
	}

	if _, err := s.profile(ctx, requesterID); err != nil {
		return nil, err
	}
	origin, err := s.locations.Get(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if origin == nil {
		return nil, &domain.NoLocationDataError{UserID: requesterID}
	}

	var (
		candidates []domain.Candidate
		public     []domain.Profile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		candidates, err = s.locations.Nearby(gctx, origin.Longitude, origin.Latitude, radiusKm, requesterID, 0)
		return err
	})
	g.Go(func() error {
		var err error
		public, err = s.profiles.FindNearbyPublic(gctx, origin.Longitude, origin.Latitude, radiusKm+profileSlackKm, requesterID)
		return storeErr(domain.StoreProfile, "find nearby", err)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	users = mergeNearby(candidates, public, requesterID, limit)
	metrics.NearbyResults.Observe(float64(len(users)))
	return users, nil
}

// mergeNearby keeps candidates that are also public profiles, sorted by
// distance and truncated to limit.
func mergeNearby(candidates []domain.Candidate, public []domain.Profile, requesterID string, limit int) []domain.NearbyUser {
	byID := make(map[string]*domain.Profile, len(public))
	for i := range public {
		if public[i].IsPubliclyVisible {
			byID[public[i].UserID] = &public[i]
		}
	}

	out := make([]domain.NearbyUser, 0, len(candidates))
	dist := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		if c.UserID == requesterID {
			continue
		}
		p, ok := byID[c.UserID]
		if !ok {
			continue
		}
		dist[c.UserID] = c.DistanceMeters
		out = append(out, domain.NearbyUser{
			UserID:     p.UserID,
			Name:       p.Name,
			Email:      p.Email,
			DistanceKm: geospatial.RoundKm(c.DistanceMeters),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		di, dj := dist[out[i].UserID], dist[out[j].UserID]
		if di != dj {
			return di < dj
		}
		return out[i].UserID < out[j].UserID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetDistanceBetweenUsers returns the distance between two live positions.
func (s *LocationService) GetDistanceBetweenUsers(ctx context.Context, a, b string) (res *domain.DistanceResult, err error) {
	ctx, span := s.tracer.Start(ctx, "location.distance")
	defer func() { endSpan(span, err) }()

	meters, ok, err := s.locations.Distance(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &domain.DistanceResult{Available: false}, nil
	}
	return &domain.DistanceResult{Available: true, DistanceKm: geospatial.RoundKm(meters)}, nil
}

// RemoveUserLocation drops the geo index entry and its metadata. The
// profile's last known position is kept.
func (s *LocationService) RemoveUserLocation(ctx context.Context, userID string) (err error) {
	ctx, span := s.tracer.Start(ctx, "location.remove", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	if err := s.locations.Remove(ctx, userID); err != nil {
		return err
	}
	s.publish(ctx, domain.EventLocationRemoved, userID)
	return nil
}

// UpdateLocationPrivacy changes visibility and/or the public radius.
func (s *LocationService) UpdateLocationPrivacy(ctx context.Context, userID string, update domain.PrivacyUpdate) (err error) {
	ctx, span := s.tracer.Start(ctx, "location.privacy", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	if err := validateUserID(userID); err != nil {
		return err
	}
	if r := update.PublicRadiusKm; r != nil && !(*r >= domain.MinPublicRadiusKm && *r <= domain.MaxPublicRadiusKm) {
		return domain.NewValidationError("public radius", "must be between %g and %g km, got %v",
			domain.MinPublicRadiusKm, domain.MaxPublicRadiusKm, *r)
	}
	if _, err := s.profile(ctx, userID); err != nil {
		return err
	}
	if err := s.profiles.UpdatePrivacySettings(ctx, userID, update); err != nil {
		return profileErr("update privacy", err)
	}
	s.publish(ctx, domain.EventPrivacyChanged, userID)
	return nil
}

// GetUserLocationStatus reports whether a live position exists, its expiry and
// metadata, plus the privacy settings. It never returns the position.
func (s *LocationService) GetUserLocationStatus(ctx context.Context, userID string) (st *domain.LocationStatus, err error) {
	ctx, span := s.tracer.Start(ctx, "location.status", trace.WithAttributes(attribute.String("user.id", userID)))
	defer func() { endSpan(span, err) }()

	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	p, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	st = &domain.LocationStatus{
		TTLSeconds:        -1,
		IsPubliclyVisible: p.IsPubliclyVisible,
		PublicRadiusKm:    p.PublicRadiusKm,
	}

	pos, err := s.locations.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return st, nil
	}
	st.HasLocation = true

	if st.TTLSeconds, err = s.locations.TTL(ctx, userID); err != nil {
		return nil, err
	}

	meta, err := s.locations.Metadata(ctx, userID)
	if err != nil {
		return nil, err
	}
	st.LastUpdate = meta[domain.MetaLastUpdate]
	st.Accuracy = meta[domain.MetaAccuracy]
	st.Source = meta[domain.MetaSource]
	return st, nil
}

// ValidateLocationAccess decides whether requester may learn target's
// distance. Checks run in a fixed order and the first failing one names the
// reason. Only store failures are returned as errors.
func (s *LocationService) ValidateLocationAccess(ctx context.Context, requesterID, targetID string) (d *domain.AccessDecision, err error) {
	ctx, span := s.tracer.Start(ctx, "location.access", trace.WithAttributes(
		attribute.String("requester.id", requesterID),
		attribute.String("target.id", targetID),
	))
	defer func() { endSpan(span, err) }()
	defer func() {
		if d != nil {
			metrics.AccessDecisions.WithLabelValues(strconv.FormatBool(d.Allowed), d.Reason).Inc()
		}
	}()

	if err := validateUserID(requesterID); err != nil {
		return nil, err
	}
	if err := validateUserID(targetID); err != nil {
		return nil, err
	}
	if requesterID == targetID {
		return &domain.AccessDecision{Allowed: true, Reason: domain.ReasonOwnLocation}, nil
	}

	target, err := s.profile(ctx, targetID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.AccessDecision{Reason: domain.ReasonTargetNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	if !target.IsPubliclyVisible {
		return &domain.AccessDecision{Reason: domain.ReasonPrivate}, nil
	}

	meters, ok, err := s.locations.Distance(ctx, requesterID, targetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &domain.AccessDecision{Reason: domain.ReasonNoLocationData}, nil
	}
	if meters > geospatial.KmToMeters(target.PublicRadiusKm) {
		return &domain.AccessDecision{Reason: domain.ReasonOutsideRadius}, nil
	}
	return &domain.AccessDecision{Allowed: true, Reason: domain.ReasonGranted}, nil
}

// GetUserLocation returns the stored obfuscated position. It is for internal
// callers only and must never be rendered to clients.
func (s *LocationService) GetUserLocation(ctx context.Context, userID string) (*domain.Position, error) {
	pos, err := s.locations.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, &domain.NoLocationDataError{UserID: userID}
	}
	return pos, nil
}

func (s *LocationService) profile(ctx context.Context, userID string) (*domain.Profile, error) {
	p, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return nil, profileErr("find", err)
	}
	if p == nil {
		return nil, &domain.NotFoundError{Kind: "profile", ID: userID}
	}
	return p, nil
}

// profileErr passes not-found errors through and wraps everything else.
func profileErr(op string, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return storeErr(domain.StoreProfile, op, err)
}

func (s *LocationService) publish(ctx context.Context, eventType, userID string) {
	if s.publisher == nil {
		return
	}
	ev := &domain.LocationEvent{
		ID:     uuid.NewString(),
		Type:   eventType,
		UserID: userID,
		Time:   s.now().UTC(),
	}
	if err := s.publisher.PublishLocationEvent(ctx, ev); err != nil {
		s.logger.WarnContext(ctx, "publish location event", "type", eventType, "user_id", userID, "error", err)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNoLocationData):
		return "not_found"
	default:
		return "error"
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
