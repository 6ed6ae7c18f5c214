package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/core/port"
	"github.com/edukita/cbt-session-service/internal/repository"
)

// MonitorService ingests client integrity signals: heartbeats, violation
// reports and submissions. It owns the penalization decision and the lazy
// timeout check that runs before every write.
type MonitorService struct {
	sessions   port.SessionRepository
	exams      port.ExamRepository
	events     port.EventPublisher
	heartbeats port.HeartbeatCache
	logger     *zap.Logger
	metrics    Metrics
	now        func() time.Time
}

// NewMonitorService constructs a MonitorService.
func NewMonitorService(sessions port.SessionRepository, exams port.ExamRepository, events port.EventPublisher, logger *zap.Logger) *MonitorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &MonitorService{
		sessions: sessions,
		exams:    exams,
		events:   events,
		logger:   logger,
		metrics:  nopMetrics{},
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *MonitorService) WithClock(clock func() time.Time) *MonitorService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithHeartbeatCache injects the liveness cache refreshed on every heartbeat.
func (s *MonitorService) WithHeartbeatCache(cache port.HeartbeatCache) *MonitorService {
	s.heartbeats = cache
	return s
}

// WithMetrics injects lifecycle counters.
func (s *MonitorService) WithMetrics(metrics Metrics) *MonitorService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// ReportHeartbeat records a liveness signal for the session's owner. The
// reported timestamp is clamped to the server clock so a skewed client cannot
// pre-date future liveness. A silence gap longer than the exam's threshold is
// counted as a disconnection violation before the heartbeat lands, which may
// itself penalize the session.
func (s *MonitorService) ReportHeartbeat(ctx context.Context, sessionID, studentID string, at time.Time) (*domain.Session, error) {
	session, exam, err := s.loadOwned(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if at.IsZero() || at.After(now) {
		at = now
	}

	if session.Expired(now, exam.Duration) {
		if _, err := s.timeout(ctx, session.ID, exam); err != nil {
			return nil, err
		}
		return nil, ErrSessionNotActive
	}

	penalized := false
	disconnected := false
	updated, err := s.mutate(ctx, session.ID, func(session *domain.Session) error {
		// The store retries this closure on a lost CAS race against a fresh
		// row, so outcome flags from a discarded attempt must not survive.
		penalized = false
		disconnected = false
		threshold := exam.Policy.SilenceThreshold()
		if threshold > 0 && session.State == domain.StateActive && at.Sub(session.LastHeartbeat) > threshold {
			crossed, err := session.RecordViolation(domain.Violation{Kind: domain.ViolationDisconnected, At: at}, exam.Policy)
			if err != nil {
				return err
			}
			disconnected = true
			penalized = crossed
		}
		if penalized {
			return nil
		}
		return session.Heartbeat(at)
	})
	if err != nil {
		if _, ok := AsTransitionError(err); ok {
			return nil, ErrSessionNotActive
		}
		return nil, err
	}

	if disconnected {
		s.metrics.ViolationRecorded(string(domain.ViolationDisconnected))
	}

	if penalized {
		s.publishPenalized(ctx, updated, domain.ViolationDisconnected, at)
		return updated, nil
	}

	s.cacheHeartbeat(ctx, updated, exam, at)
	return updated, nil
}

// ReportViolation appends a client-observed integrity event to the session's
// log and returns whether this event penalized the session.
func (s *MonitorService) ReportViolation(ctx context.Context, sessionID, studentID string, kind domain.ViolationKind, at time.Time) (*domain.Session, bool, error) {
	if !kind.Valid() {
		return nil, false, fmt.Errorf("%w: unknown violation kind %q", ErrInvalidViolation, kind)
	}

	session, exam, err := s.loadOwned(ctx, sessionID, studentID)
	if err != nil {
		return nil, false, err
	}

	now := s.now()
	if at.IsZero() || at.After(now) {
		at = now
	}

	if session.Expired(now, exam.Duration) {
		if _, err := s.timeout(ctx, session.ID, exam); err != nil {
			return nil, false, err
		}
		return nil, false, ErrSessionNotActive
	}

	penalized := false
	updated, err := s.mutate(ctx, session.ID, func(session *domain.Session) error {
		crossed, err := session.RecordViolation(domain.Violation{Kind: kind, At: at}, exam.Policy)
		if err != nil {
			return err
		}
		penalized = crossed
		return nil
	})
	if err != nil {
		if _, ok := AsTransitionError(err); ok {
			return nil, false, ErrSessionNotActive
		}
		return nil, false, err
	}

	s.metrics.ViolationRecorded(string(kind))
	if penalized {
		s.publishPenalized(ctx, updated, kind, at)
	}

	s.logger.Info("violation recorded",
		zap.String("session_id", updated.ID),
		zap.String("kind", string(kind)),
		zap.Int("violation_count", updated.ViolationCount()),
		zap.Bool("penalized", penalized),
	)

	return updated, penalized, nil
}

// Submit finishes the student's ACTIVE attempt. A submission that arrives
// after the deadline still closes the attempt, recorded as a timeout rather
// than a submit; the student observes success either way.
func (s *MonitorService) Submit(ctx context.Context, sessionID, studentID string) (*domain.Session, error) {
	session, exam, err := s.loadOwned(ctx, sessionID, studentID)
	if err != nil {
		return nil, err
	}

	if session.Expired(s.now(), exam.Duration) {
		return s.timeout(ctx, session.ID, exam)
	}

	now := s.now()
	updated, err := s.mutate(ctx, session.ID, func(session *domain.Session) error {
		return session.Submit(now)
	})
	if err != nil {
		if _, ok := AsTransitionError(err); ok {
			return nil, ErrSessionNotActive
		}
		return nil, err
	}

	s.dropHeartbeat(ctx, updated.ID)
	s.publishFinished(ctx, updated, domain.EventSubmit, studentID)
	return updated, nil
}

// FinalizeExpired closes every live session whose deadline elapsed, up to
// limit rows. The background sweep calls this on a ticker; the same closure
// keeps reads honest when the sweep lags.
func (s *MonitorService) FinalizeExpired(ctx context.Context, limit int) (int, error) {
	expired, err := s.sessions.ListExpired(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list expired sessions: %w", err)
	}

	exams := make(map[string]*domain.ExamDefinition, 4)
	closed := 0
	for _, session := range expired {
		exam, ok := exams[session.ExamID]
		if !ok {
			exam, err = s.exams.GetByID(ctx, session.ExamID)
			if err != nil {
				s.logger.Warn("sweep: resolve exam failed", zap.String("exam_id", session.ExamID), zap.Error(err))
				continue
			}
			exams[session.ExamID] = exam
		}
		if _, err := s.timeout(ctx, session.ID, exam); err != nil {
			s.logger.Warn("sweep: finalize failed", zap.String("session_id", session.ID), zap.Error(err))
			continue
		}
		closed++
	}

	if closed > 0 {
		s.logger.Info("expired sessions finalized", zap.Int("count", closed))
	}
	return closed, nil
}

// loadOwned fetches the session and its exam, rejecting callers that do not
// own the attempt.
func (s *MonitorService) loadOwned(ctx context.Context, sessionID, studentID string) (*domain.Session, *domain.ExamDefinition, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("load session: %w", err)
	}
	if studentID != "" && session.StudentID != studentID {
		return nil, nil, ErrNotAuthorized
	}
	exam, err := s.exams.GetByID(ctx, session.ExamID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve exam: %w", err)
	}
	return session, exam, nil
}

// timeout finalizes an overdue attempt at its deadline. Already-closed
// sessions pass through unchanged, so concurrent sweeps and lazy checks
// converge on one DONE row.
func (s *MonitorService) timeout(ctx context.Context, sessionID string, exam *domain.ExamDefinition) (*domain.Session, error) {
	timedOut := false
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		timedOut = false
		if !session.IsLive() {
			return nil
		}
		timedOut = true
		return session.Timeout(session.Deadline(exam.Duration))
	})
	if err != nil {
		return nil, err
	}
	if timedOut {
		s.dropHeartbeat(ctx, updated.ID)
		s.publishFinished(ctx, updated, domain.EventTimeout, "system")
	}
	return updated, nil
}

func (s *MonitorService) mutate(ctx context.Context, sessionID string, fn port.MutateFunc) (*domain.Session, error) {
	var updated *domain.Session
	err := withStoreRetry(ctx, defaultStoreAttempts, func() error {
		session, err := s.sessions.Mutate(ctx, sessionID, fn)
		if err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (s *MonitorService) cacheHeartbeat(ctx context.Context, session *domain.Session, exam *domain.ExamDefinition, at time.Time) {
	if s.heartbeats == nil {
		return
	}
	ttl := session.Deadline(exam.Duration).Sub(s.now()) + exam.Policy.GracePeriod
	if ttl <= 0 {
		return
	}
	if err := s.heartbeats.SetLastHeartbeat(ctx, session.ID, at, ttl); err != nil {
		s.logger.Warn("heartbeat cache update failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *MonitorService) dropHeartbeat(ctx context.Context, sessionID string) {
	if s.heartbeats == nil {
		return
	}
	if err := s.heartbeats.DeleteLastHeartbeat(ctx, sessionID); err != nil {
		s.logger.Warn("heartbeat cache delete failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *MonitorService) publishPenalized(ctx context.Context, session *domain.Session, kind domain.ViolationKind, at time.Time) {
	s.metrics.SessionPenalized()
	if s.events == nil {
		return
	}
	event := domain.SessionPenalizedEvent{
		EventID:        uuid.NewString(),
		SessionID:      session.ID,
		ExamID:         session.ExamID,
		StudentID:      session.StudentID,
		Kind:           kind,
		ViolationCount: session.ViolationCount(),
		PenalizedAt:    at,
	}
	if err := s.events.PublishSessionPenalized(ctx, event); err != nil {
		s.logger.Warn("publish session penalized failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *MonitorService) publishFinished(ctx context.Context, session *domain.Session, cause domain.Event, finishedBy string) {
	s.metrics.SessionFinished(string(cause))
	if s.events == nil {
		return
	}
	finishedAt := s.now()
	if session.FinishedAt != nil {
		finishedAt = *session.FinishedAt
	}
	event := domain.SessionFinishedEvent{
		EventID:    uuid.NewString(),
		SessionID:  session.ID,
		ExamID:     session.ExamID,
		StudentID:  session.StudentID,
		Cause:      cause,
		FinishedAt: finishedAt,
		FinishedBy: finishedBy,
	}
	if err := s.events.PublishSessionFinished(ctx, event); err != nil {
		s.logger.Warn("publish session finished failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}
