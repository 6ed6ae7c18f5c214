package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/core/port"
	"github.com/edukita/cbt-session-service/internal/repository"
)

// OverrideService applies administrative interventions to sessions: force
// finish, rejoin after a penalty, and retake after completion. Every applied
// override leaves an audit record naming the operator.
type OverrideService struct {
	sessions   port.SessionRepository
	exams      port.ExamRepository
	audit      port.AuditRepository
	answers    port.AnswerPurger
	events     port.EventPublisher
	heartbeats port.HeartbeatCache
	logger     *zap.Logger
	metrics    Metrics
	now        func() time.Time
}

// NewOverrideService constructs an OverrideService.
func NewOverrideService(sessions port.SessionRepository, exams port.ExamRepository, audit port.AuditRepository, answers port.AnswerPurger, events port.EventPublisher, logger *zap.Logger) *OverrideService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &OverrideService{
		sessions: sessions,
		exams:    exams,
		audit:    audit,
		answers:  answers,
		events:   events,
		logger:   logger,
		metrics:  nopMetrics{},
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *OverrideService) WithClock(clock func() time.Time) *OverrideService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithHeartbeatCache injects the liveness cache cleared when overrides close
// a session.
func (s *OverrideService) WithHeartbeatCache(cache port.HeartbeatCache) *OverrideService {
	s.heartbeats = cache
	return s
}

// WithMetrics injects lifecycle counters.
func (s *OverrideService) WithMetrics(metrics Metrics) *OverrideService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// Finish forces a live session to DONE on the operator's authority. A session
// already past its deadline closes as a timeout instead, stamped at the
// deadline, so the recorded cause reflects what actually ended the attempt.
func (s *OverrideService) Finish(ctx context.Context, sessionID, operator string) (*domain.Session, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil, ErrNotAuthorized
	}

	exam, err := s.examFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cause := domain.EventAdminFinish
	var before domain.SessionState
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		cause = domain.EventAdminFinish
		before = session.State
		if session.Expired(now, exam.Duration) {
			cause = domain.EventTimeout
			return session.Timeout(session.Deadline(exam.Duration))
		}
		return session.AdminFinish(now)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, updated, domain.EventAdminFinish, operator, before)
	s.dropHeartbeat(ctx, updated.ID)
	s.publishFinished(ctx, updated, cause, operator)

	s.logger.Info("session finished by override",
		zap.String("session_id", updated.ID),
		zap.String("operator", operator),
		zap.String("cause", string(cause)),
	)
	return updated, nil
}

// Rejoin re-admits a PENALIZED student. The violation log survives so the
// report still shows what happened; the deadline does not move, so an attempt
// whose duration already elapsed times out instead of reopening.
func (s *OverrideService) Rejoin(ctx context.Context, sessionID, operator string) (*domain.Session, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil, ErrNotAuthorized
	}

	exam, err := s.examFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	timedOut := false
	var before domain.SessionState
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		// Reset on every invocation: the store retries the closure against a
		// fresh row after a lost CAS race.
		timedOut = false
		before = session.State
		if session.IsLive() && session.Expired(now, exam.Duration) {
			timedOut = true
			return session.Timeout(session.Deadline(exam.Duration))
		}
		return session.AdminRejoin(now)
	})
	if err != nil {
		return nil, err
	}
	if timedOut {
		s.dropHeartbeat(ctx, updated.ID)
		s.publishFinished(ctx, updated, domain.EventTimeout, "system")
		return nil, &domain.TransitionError{Current: updated.State, Requested: domain.EventAdminRejoin}
	}

	s.recordAudit(ctx, updated, domain.EventAdminRejoin, operator, before)

	s.logger.Info("session rejoined by override",
		zap.String("session_id", updated.ID),
		zap.String("operator", operator),
		zap.Int("violation_count", updated.ViolationCount()),
	)
	return updated, nil
}

// Retake reopens a DONE session as a fresh attempt. The prior attempt's
// answers are purged inside the same locked transaction, after the DONE guard
// holds, so a reopened session is never visible next to stale answers. A
// failed purge aborts with the session unchanged; the purge is idempotent and
// the retake can simply be re-issued.
func (s *OverrideService) Retake(ctx context.Context, sessionID, operator string) (*domain.Session, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return nil, ErrNotAuthorized
	}

	now := s.now()
	var before domain.SessionState
	updated, err := s.mutate(ctx, sessionID, func(session *domain.Session) error {
		before = session.State
		if session.State == domain.StateDone && s.answers != nil {
			if err := s.answers.PurgeAnswers(ctx, session.ExamID, session.StudentID); err != nil {
				return fmt.Errorf("%w: %s", ErrPurgeFailed, err)
			}
		}
		return session.AdminRetake(now)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, updated, domain.EventAdminRetake, operator, before)
	s.publishRetaken(ctx, updated, operator)

	s.logger.Info("session reopened for retake",
		zap.String("session_id", updated.ID),
		zap.String("operator", operator),
	)
	return updated, nil
}

func (s *OverrideService) examFor(ctx context.Context, sessionID string) (*domain.ExamDefinition, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	exam, err := s.exams.GetByID(ctx, session.ExamID)
	if err != nil {
		return nil, fmt.Errorf("resolve exam: %w", err)
	}
	return exam, nil
}

func (s *OverrideService) mutate(ctx context.Context, sessionID string, fn port.MutateFunc) (*domain.Session, error) {
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

// recordAudit writes the compliance trail. Audit failures are logged, not
// surfaced: the override already committed and must not appear to fail.
func (s *OverrideService) recordAudit(ctx context.Context, session *domain.Session, op domain.Event, operator string, before domain.SessionState) {
	entry := domain.OverrideAudit{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Operation:   op,
		Operator:    operator,
		BeforeState: before,
		AfterState:  session.State,
		At:          s.now(),
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Error("record override audit failed",
			zap.String("session_id", session.ID),
			zap.String("operation", string(op)),
			zap.Error(err),
		)
	}
}

func (s *OverrideService) dropHeartbeat(ctx context.Context, sessionID string) {
	if s.heartbeats == nil {
		return
	}
	if err := s.heartbeats.DeleteLastHeartbeat(ctx, sessionID); err != nil {
		s.logger.Warn("heartbeat cache delete failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *OverrideService) publishFinished(ctx context.Context, session *domain.Session, cause domain.Event, finishedBy string) {
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

func (s *OverrideService) publishRetaken(ctx context.Context, session *domain.Session, operator string) {
	if s.events == nil {
		return
	}
	event := domain.SessionRetakenEvent{
		EventID:   uuid.NewString(),
		SessionID: session.ID,
		ExamID:    session.ExamID,
		StudentID: session.StudentID,
		RetakenAt: session.JoinedAt,
		RetakenBy: operator,
	}
	if err := s.events.PublishSessionRetaken(ctx, event); err != nil {
		s.logger.Warn("publish session retaken failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}
