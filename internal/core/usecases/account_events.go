package usecases

import (
	"context"

	"github.com/samirrijal/nearchat/internal/core/domain"
)

// HandleAccountDeleted removes the live location of a deleted account. It is
// safe to run more than once for the same event.
func (s *LocationService) HandleAccountDeleted(ctx context.Context, ev *domain.AccountEvent) error {
	if err := s.RemoveUserLocation(ctx, ev.UserID); err != nil {
		s.logger.ErrorContext(ctx, "remove location of deleted account", "user_id", ev.UserID, "error", err)
		return err
	}
	s.logger.InfoContext(ctx, "location removed for deleted account", "user_id", ev.UserID)
	return nil
}
