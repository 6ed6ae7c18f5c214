package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/core/port"
	"github.com/edukita/cbt-session-service/internal/infra/config"
)

const schemaVersion = "1.0"

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	StudentID string           `json:"student_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, studentID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		StudentID: studentID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishSessionJoined publishes cbt.session.joined events.
func (p *EventPublisher) PublishSessionJoined(ctx context.Context, event domain.SessionJoinedEvent) error {
	payload := struct {
		SessionID string         `json:"session_id"`
		ExamID    string         `json:"exam_id"`
		StudentID string         `json:"student_id"`
		JoinedAt  time.Time      `json:"joined_at"`
		IPAddress *string        `json:"ip_address,omitempty"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		SessionID: event.SessionID,
		ExamID:    event.ExamID,
		StudentID: event.StudentID,
		JoinedAt:  event.JoinedAt.UTC(),
		IPAddress: event.IPAddress,
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "cbt.session.joined", event.StudentID, event.JoinedAt, payload)
}

// PublishSessionPenalized publishes cbt.session.penalized events.
func (p *EventPublisher) PublishSessionPenalized(ctx context.Context, event domain.SessionPenalizedEvent) error {
	payload := struct {
		SessionID      string         `json:"session_id"`
		ExamID         string         `json:"exam_id"`
		StudentID      string         `json:"student_id"`
		Kind           string         `json:"kind"`
		ViolationCount int            `json:"violation_count"`
		PenalizedAt    time.Time      `json:"penalized_at"`
		Metadata       map[string]any `json:"metadata,omitempty"`
	}{
		SessionID:      event.SessionID,
		ExamID:         event.ExamID,
		StudentID:      event.StudentID,
		Kind:           string(event.Kind),
		ViolationCount: event.ViolationCount,
		PenalizedAt:    event.PenalizedAt.UTC(),
		Metadata:       event.Metadata,
	}

	return p.publish(ctx, event.EventID, "cbt.session.penalized", event.StudentID, event.PenalizedAt, payload)
}

// PublishSessionFinished publishes cbt.session.finished events.
func (p *EventPublisher) PublishSessionFinished(ctx context.Context, event domain.SessionFinishedEvent) error {
	payload := struct {
		SessionID  string         `json:"session_id"`
		ExamID     string         `json:"exam_id"`
		StudentID  string         `json:"student_id"`
		Cause      string         `json:"cause"`
		FinishedAt time.Time      `json:"finished_at"`
		FinishedBy string         `json:"finished_by,omitempty"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		SessionID:  event.SessionID,
		ExamID:     event.ExamID,
		StudentID:  event.StudentID,
		Cause:      string(event.Cause),
		FinishedAt: event.FinishedAt.UTC(),
		FinishedBy: event.FinishedBy,
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, "cbt.session.finished", event.StudentID, event.FinishedAt, payload)
}

// PublishSessionRetaken publishes cbt.session.retaken events.
func (p *EventPublisher) PublishSessionRetaken(ctx context.Context, event domain.SessionRetakenEvent) error {
	payload := struct {
		SessionID string         `json:"session_id"`
		ExamID    string         `json:"exam_id"`
		StudentID string         `json:"student_id"`
		RetakenAt time.Time      `json:"retaken_at"`
		RetakenBy string         `json:"retaken_by"`
		Metadata  map[string]any `json:"metadata,omitempty"`
	}{
		SessionID: event.SessionID,
		ExamID:    event.ExamID,
		StudentID: event.StudentID,
		RetakenAt: event.RetakenAt.UTC(),
		RetakenBy: event.RetakenBy,
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, "cbt.session.retaken", event.StudentID, event.RetakenAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
