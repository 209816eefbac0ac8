package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/nearchat/internal/core/domain"
)

// ProfileRepo implements ports.ProfileRepository with pgx and PostGIS.
type ProfileRepo struct {
	db *DB
}

// NewProfileRepo creates a new ProfileRepo.
func NewProfileRepo(db *DB) *ProfileRepo {
	return &ProfileRepo{db: db}
}

const profileColumns = `
	user_id, name, email, is_publicly_visible, public_radius_km,
	ST_X(last_known_location::geometry), ST_Y(last_known_location::geometry),
	created_at, updated_at`

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var (
		p        domain.Profile
		lon, lat *float64
	)
	if err := row.Scan(
		&p.UserID, &p.Name, &p.Email, &p.IsPubliclyVisible, &p.PublicRadiusKm,
		&lon, &lat, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if lon != nil && lat != nil {
		p.LastKnownLocation = &domain.Position{Longitude: *lon, Latitude: *lat}
	}
	return &p, nil
}

// FindByID returns a profile or a *domain.NotFoundError.
func (r *ProfileRepo) FindByID(ctx context.Context, userID string) (*domain.Profile, error) {
	p, err := scanProfile(r.db.Pool.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "profile", ID: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return p, nil
}

// FindNearbyPublic uses ST_DWithin on the sphere, matching the service's
// haversine model.
func (r *ProfileRepo) FindNearbyPublic(ctx context.Context, lon, lat, radiusKm float64, excludeID string) ([]domain.Profile, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE is_publicly_visible
		  AND last_known_location IS NOT NULL
		  AND user_id <> $4
		  AND ST_DWithin(
		        last_known_location,
		        ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography,
		        $3, false)
		ORDER BY ST_Distance(last_known_location,
		        ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, false)
	`, lon, lat, radiusKm*1000, excludeID)
	if err != nil {
		return nil, fmt.Errorf("query nearby profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// UpdateLocation mirrors the obfuscated position into last_known_location.
func (r *ProfileRepo) UpdateLocation(ctx context.Context, userID string, lon, lat float64) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE profiles
		SET last_known_location = ST_SetSRID(ST_MakePoint($2, $3), 4326)::geography,
		    updated_at = NOW()
		WHERE user_id = $1
	`, userID, lon, lat)
	if err != nil {
		return fmt.Errorf("update location: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Kind: "profile", ID: userID}
	}
	return nil
}

// UpdatePrivacySettings applies the non-nil fields of update.
func (r *ProfileRepo) UpdatePrivacySettings(ctx context.Context, userID string, update domain.PrivacyUpdate) error {
	sets := []string{"updated_at = NOW()"}
	args := []any{userID}
	if update.IsPubliclyVisible != nil {
		args = append(args, *update.IsPubliclyVisible)
		sets = append(sets, fmt.Sprintf("is_publicly_visible = $%d", len(args)))
	}
	if update.PublicRadiusKm != nil {
		args = append(args, *update.PublicRadiusKm)
		sets = append(sets, fmt.Sprintf("public_radius_km = $%d", len(args)))
	}

	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE profiles SET `+strings.Join(sets, ", ")+` WHERE user_id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update privacy: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &domain.NotFoundError{Kind: "profile", ID: userID}
	}
	return nil
}

// Upsert creates or replaces the identity and privacy columns of a profile.
// The account service owns profiles; this exists for seeding and tests.
func (r *ProfileRepo) Upsert(ctx context.Context, p *domain.Profile) error {
	radius := p.PublicRadiusKm
	if radius == 0 {
		radius = domain.DefaultPublicRadiusKm
	}
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO profiles (user_id, name, email, is_publicly_visible, public_radius_km)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email,
		    is_publicly_visible = EXCLUDED.is_publicly_visible,
		    public_radius_km = EXCLUDED.public_radius_km,
		    updated_at = NOW()
	`, p.UserID, p.Name, p.Email, p.IsPubliclyVisible, radius)
	return err
}
