package ports

import (
	"context"

	"github.com/samirrijal/nearchat/internal/core/domain"
)

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishLocationEvent(ctx context.Context, event *domain.LocationEvent) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeAccountDeleted(ctx context.Context, handler func(ctx context.Context, event *domain.AccountEvent) error) error
}
