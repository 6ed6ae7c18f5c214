package port

import (
	"context"

	"github.com/edukita/cbt-session-service/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishSessionJoined(ctx context.Context, event domain.SessionJoinedEvent) error
	PublishSessionPenalized(ctx context.Context, event domain.SessionPenalizedEvent) error
	PublishSessionFinished(ctx context.Context, event domain.SessionFinishedEvent) error
	PublishSessionRetaken(ctx context.Context, event domain.SessionRetakenEvent) error
}
