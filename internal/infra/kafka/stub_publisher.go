package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for
// development environments without a broker.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, studentID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("student_id", studentID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishSessionJoined logs cbt.session.joined events.
func (p *StubPublisher) PublishSessionJoined(_ context.Context, event domain.SessionJoinedEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"exam_id":    event.ExamID,
		"student_id": event.StudentID,
		"joined_at":  event.JoinedAt,
		"ip_address": event.IPAddress,
		"metadata":   event.Metadata,
	}
	p.logEvent("cbt.session.joined", event.StudentID, event.JoinedAt, payload)
	return nil
}

// PublishSessionPenalized logs cbt.session.penalized events.
func (p *StubPublisher) PublishSessionPenalized(_ context.Context, event domain.SessionPenalizedEvent) error {
	payload := map[string]any{
		"session_id":      event.SessionID,
		"exam_id":         event.ExamID,
		"student_id":      event.StudentID,
		"kind":            event.Kind,
		"violation_count": event.ViolationCount,
		"penalized_at":    event.PenalizedAt,
		"metadata":        event.Metadata,
	}
	p.logEvent("cbt.session.penalized", event.StudentID, event.PenalizedAt, payload)
	return nil
}

// PublishSessionFinished logs cbt.session.finished events.
func (p *StubPublisher) PublishSessionFinished(_ context.Context, event domain.SessionFinishedEvent) error {
	payload := map[string]any{
		"session_id":  event.SessionID,
		"exam_id":     event.ExamID,
		"student_id":  event.StudentID,
		"cause":       event.Cause,
		"finished_at": event.FinishedAt,
		"finished_by": event.FinishedBy,
		"metadata":    event.Metadata,
	}
	p.logEvent("cbt.session.finished", event.StudentID, event.FinishedAt, payload)
	return nil
}

// PublishSessionRetaken logs cbt.session.retaken events.
func (p *StubPublisher) PublishSessionRetaken(_ context.Context, event domain.SessionRetakenEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"exam_id":    event.ExamID,
		"student_id": event.StudentID,
		"retaken_at": event.RetakenAt,
		"retaken_by": event.RetakenBy,
		"metadata":   event.Metadata,
	}
	p.logEvent("cbt.session.retaken", event.StudentID, event.RetakenAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
