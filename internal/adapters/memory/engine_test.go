package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/nearchat/internal/adapters/memory"
	"github.com/samirrijal/nearchat/internal/core/domain"
	"github.com/samirrijal/nearchat/internal/core/usecases"
	"github.com/samirrijal/nearchat/internal/pkg/obfuscate"
)

// The proximity engine running on the in-memory stores end to end.
func TestEngine_NearbyWithExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	geo := memory.NewGeoIndex(memory.WithClock(clock))
	profiles := memory.NewProfileRepo()
	profiles.Save(domain.Profile{UserID: "me", Name: "Me"})
	profiles.Save(domain.Profile{UserID: "ane", Name: "Ane", Email: "ane@example.com", IsPubliclyVisible: true})
	profiles.Save(domain.Profile{UserID: "jon", Name: "Jon", IsPubliclyVisible: true})
	profiles.Save(domain.Profile{UserID: "hidden", Name: "Hidden"})

	svc := usecases.NewLocationService(
		usecases.NewLocationRepository(geo, 0),
		profiles,
		obfuscate.New("engine_salt_", obfuscate.DefaultRangeDeg),
		usecases.WithClock(clock),
		usecases.WithTTL(600),
	)

	update := func(id string, lon, lat float64) {
		require.NoError(t, svc.UpdateUserLocation(ctx, domain.LocationUpdate{UserID: id, Longitude: lon, Latitude: lat}))
	}
	update("me", -2.935, 43.263)
	update("ane", -2.935, 43.283) // ~2.2 km north
	update("hidden", -2.935, 43.273)

	users, err := svc.GetNearbyUsers(ctx, "me", 10, 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ane", users[0].UserID)
	assert.Equal(t, "ane@example.com", users[0].Email)
	assert.InDelta(t, 2.2, users[0].DistanceKm, 1.0)

	// jon reports later; ane's entry expires in the meantime
	now = now.Add(500 * time.Second)
	update("jon", -2.935, 43.253)
	update("me", -2.935, 43.263)
	now = now.Add(200 * time.Second)

	users, err = svc.GetNearbyUsers(ctx, "me", 10, 0)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "jon", users[0].UserID)

	st, err := svc.GetUserLocationStatus(ctx, "ane")
	require.NoError(t, err)
	assert.False(t, st.HasLocation)

	p, err := profiles.FindByID(ctx, "ane")
	require.NoError(t, err)
	assert.NotNil(t, p.LastKnownLocation, "profile keeps the last known position after expiry")
}
