package valkey

import (
	"context"

	"github.com/valkey-io/valkey-go"
)

const sessionPrefix = "session:"

// Sessions implements ports.SessionStore. The account service writes
// session:{id} on login and deletes it on logout; a key that still exists is
// a live session.
type Sessions struct {
	client valkey.Client
}

func NewSessions(client valkey.Client) *Sessions {
	return &Sessions{client: client}
}

// IsActive reports whether the session key exists.
func (s *Sessions) IsActive(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Exists().Key(sessionPrefix+sessionID).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
