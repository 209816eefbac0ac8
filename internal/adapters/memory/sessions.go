package memory

import (
	"context"
	"sync"
)

// Sessions implements ports.SessionStore without a backing session service.
// Every session is live until revoked, so tokens are effectively checked by
// signature and expiry alone. Only suitable for local development.
type Sessions struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
}

func NewSessions() *Sessions {
	return &Sessions{revoked: make(map[string]struct{})}
}

func (s *Sessions) IsActive(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, gone := s.revoked[sessionID]
	return !gone, nil
}

func (s *Sessions) Revoke(sessionID string) {
	s.mu.Lock()
	s.revoked[sessionID] = struct{}{}
	s.mu.Unlock()
}
