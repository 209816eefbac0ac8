package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/nearchat/internal/core/domain"
)

func TestProfileRepo_FindByID(t *testing.T) {
	repo := NewProfileRepo()
	repo.Save(domain.Profile{UserID: "u1", Name: "Ane"})

	p, err := repo.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ane", p.Name)
	assert.Equal(t, domain.DefaultPublicRadiusKm, p.PublicRadiusKm)
	assert.False(t, p.IsPubliclyVisible)

	_, err = repo.FindByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestProfileRepo_FindNearbyPublic(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepo()
	repo.Save(domain.Profile{UserID: "me", IsPubliclyVisible: true})
	repo.Save(domain.Profile{UserID: "pub", IsPubliclyVisible: true})
	repo.Save(domain.Profile{UserID: "priv"})
	repo.Save(domain.Profile{UserID: "far", IsPubliclyVisible: true})
	repo.Save(domain.Profile{UserID: "nowhere", IsPubliclyVisible: true})

	require.NoError(t, repo.UpdateLocation(ctx, "me", 0, 0))
	require.NoError(t, repo.UpdateLocation(ctx, "pub", 0.01, 0))
	require.NoError(t, repo.UpdateLocation(ctx, "priv", 0.01, 0))
	require.NoError(t, repo.UpdateLocation(ctx, "far", 1, 0))

	got, err := repo.FindNearbyPublic(ctx, 0, 0, 10, "me")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pub", got[0].UserID)
}

func TestProfileRepo_Updates(t *testing.T) {
	ctx := context.Background()
	repo := NewProfileRepo()
	repo.Save(domain.Profile{UserID: "u1", PublicRadiusKm: 20})

	visible := true
	require.NoError(t, repo.UpdatePrivacySettings(ctx, "u1", domain.PrivacyUpdate{IsPubliclyVisible: &visible}))
	p, _ := repo.FindByID(ctx, "u1")
	assert.True(t, p.IsPubliclyVisible)
	assert.Equal(t, 20.0, p.PublicRadiusKm, "unset fields stay unchanged")

	// callers get copies
	p.LastKnownLocation = &domain.Position{Longitude: 9}
	again, _ := repo.FindByID(ctx, "u1")
	assert.Nil(t, again.LastKnownLocation)

	assert.True(t, errors.Is(repo.UpdateLocation(ctx, "ghost", 0, 0), domain.ErrNotFound))
	assert.True(t, errors.Is(repo.UpdatePrivacySettings(ctx, "ghost", domain.PrivacyUpdate{}), domain.ErrNotFound))
}

func TestProfileRepo_Load(t *testing.T) {
	repo := NewProfileRepo()
	n, err := repo.Load(strings.NewReader(`[
		{"user_id": "u1", "name": "Ane", "is_publicly_visible": true},
		{"user_id": "u2", "name": "Jon", "public_radius_km": 5}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	p, err := repo.FindByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, p.IsPubliclyVisible)
	assert.Equal(t, domain.DefaultPublicRadiusKm, p.PublicRadiusKm)

	p, err = repo.FindByID(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, 5.0, p.PublicRadiusKm)

	_, err = repo.Load(strings.NewReader(`[{"name": "nobody"}]`))
	assert.Error(t, err)
}

func TestSessions_Revoke(t *testing.T) {
	s := NewSessions()
	ok, err := s.IsActive(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	s.Revoke("s1")
	ok, _ = s.IsActive(context.Background(), "s1")
	assert.False(t, ok)
}
