package http

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/valkey-io/valkey-go"

	"github.com/samirrijal/nearchat/internal/adapters/postgres"
	"github.com/samirrijal/nearchat/internal/core/domain"
	"github.com/samirrijal/nearchat/internal/core/usecases"
)

// Authenticator resolves a bearer token to a live session.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.Session, error)
}

// Dependencies holds all services needed by HTTP handlers. Infrastructure
// handles are optional and only used by the readiness probe.
type Dependencies struct {
	Locations *usecases.LocationService
	Auth      Authenticator
	NATS      *nats.Conn
	DB        *postgres.DB
	Valkey    valkey.Client
}
