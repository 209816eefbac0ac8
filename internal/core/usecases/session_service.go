package usecases

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v4"

	"github.com/samirrijal/nearchat/internal/core/domain"
	"github.com/samirrijal/nearchat/internal/core/ports"
	"github.com/samirrijal/nearchat/internal/pkg/metrics"
)

// SessionClaims are the bearer token claims issued by the account service.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionService turns a bearer token into a live session.
type SessionService struct {
	sessions ports.SessionStore
	secret   []byte
	issuer   string
}

// NewSessionService creates a new SessionService. An empty issuer disables
// the issuer check.
func NewSessionService(sessions ports.SessionStore, secret, issuer string) *SessionService {
	return &SessionService{sessions: sessions, secret: []byte(secret), issuer: issuer}
}

// Authenticate verifies the token signature and expiry, then checks that its
// session has not been revoked.
func (s *SessionService) Authenticate(ctx context.Context, token string) (*domain.Session, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized)
	}
	if s.issuer != "" && !claims.VerifyIssuer(s.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", domain.ErrUnauthorized)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: token missing subject or session", domain.ErrUnauthorized)
	}

	active, err := s.sessions.IsActive(ctx, claims.SessionID)
	if err != nil {
		metrics.StoreErrors.WithLabelValues(domain.StoreSession, "check").Inc()
		return nil, &domain.StoreError{Store: domain.StoreSession, Op: "check", Err: err}
	}
	if !active {
		return nil, fmt.Errorf("%w: session expired", domain.ErrUnauthorized)
	}
	return &domain.Session{ID: claims.SessionID, UserID: claims.Subject}, nil
}
