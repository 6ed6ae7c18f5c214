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

// ClientMeta carries the informational client attributes recorded on a
// session. Never used for authorization decisions.
type ClientMeta struct {
	IP        string
	UserAgent string
}

func (m ClientMeta) ipPtr() *string {
	ip := strings.TrimSpace(m.IP)
	if ip == "" {
		return nil
	}
	return &ip
}

func (m ClientMeta) userAgentPtr() *string {
	ua := strings.TrimSpace(m.UserAgent)
	if ua == "" {
		return nil
	}
	return &ua
}

// AdmissionService is the token gate: it validates a join request and either
// creates or resumes the session for the (exam, student) pair.
type AdmissionService struct {
	sessions   port.SessionRepository
	exams      port.ExamRepository
	roster     port.RosterRepository
	events     port.EventPublisher
	heartbeats port.HeartbeatCache
	logger     *zap.Logger
	metrics    Metrics
	now        func() time.Time
}

// NewAdmissionService constructs an AdmissionService.
func NewAdmissionService(sessions port.SessionRepository, exams port.ExamRepository, roster port.RosterRepository, events port.EventPublisher, logger *zap.Logger) *AdmissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &AdmissionService{
		sessions: sessions,
		exams:    exams,
		roster:   roster,
		events:   events,
		logger:   logger,
		metrics:  nopMetrics{},
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *AdmissionService) WithClock(clock func() time.Time) *AdmissionService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithHeartbeatCache injects the liveness cache primed on admission.
func (s *AdmissionService) WithHeartbeatCache(cache port.HeartbeatCache) *AdmissionService {
	s.heartbeats = cache
	return s
}

// WithMetrics injects lifecycle counters.
func (s *AdmissionService) WithMetrics(metrics Metrics) *AdmissionService {
	if metrics != nil {
		s.metrics = metrics
	}
	return s
}

// Join admits a student into an exam by token. The operation reads or creates
// exactly one session row; every failure path leaves the store untouched.
//
// A live ACTIVE session resumes idempotently. A PENALIZED one is locked until
// an administrative rejoin: once flagged, only a human operator re-admits. A
// DONE attempt rejects with ErrAlreadyCompleted unless the exam allows
// multiple attempts.
func (s *AdmissionService) Join(ctx context.Context, examToken, studentID string, meta ClientMeta) (*domain.Session, *domain.ExamDefinition, error) {
	examToken = strings.TrimSpace(examToken)
	if examToken == "" {
		return nil, nil, ErrInvalidToken
	}
	if strings.TrimSpace(studentID) == "" {
		return nil, nil, fmt.Errorf("student id is required")
	}

	exam, err := s.exams.GetByToken(ctx, examToken)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, fmt.Errorf("resolve exam by token: %w", err)
	}
	if !exam.Active {
		return nil, nil, ErrInvalidToken
	}

	student, err := s.roster.GetStudent(ctx, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrNotEligible
		}
		return nil, nil, fmt.Errorf("resolve student: %w", err)
	}
	if !exam.EligibleFor(student.ClassID) {
		return nil, nil, ErrNotEligible
	}

	latest, err := s.sessions.Latest(ctx, exam.ID, studentID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, nil, fmt.Errorf("load latest session: %w", err)
	}

	if latest == nil {
		session, err := s.admit(ctx, exam, studentID, meta)
		if err != nil {
			return nil, nil, err
		}
		return session, exam, nil
	}

	if latest.IsLive() && latest.Expired(s.now(), exam.Duration) {
		finalized, err := s.finalizeExpired(ctx, latest.ID, exam.Duration)
		if err != nil {
			return nil, nil, err
		}
		latest = finalized
	}

	switch latest.State {
	case domain.StateActive:
		// Idempotent student resume: the session is returned unchanged.
		return latest, exam, nil
	case domain.StatePenalized:
		return nil, nil, ErrSessionLocked
	case domain.StateDone:
		if !exam.AllowRetakes {
			return nil, nil, ErrAlreadyCompleted
		}
		session, err := s.admit(ctx, exam, studentID, meta)
		if err != nil {
			return nil, nil, err
		}
		return session, exam, nil
	default:
		return nil, nil, fmt.Errorf("unexpected session state %q", latest.State)
	}
}

// admit creates the fresh ACTIVE attempt. A concurrent join racing on the
// same pair loses to the live-slot unique index; the loser resumes the
// winner's session instead of creating a duplicate.
func (s *AdmissionService) admit(ctx context.Context, exam *domain.ExamDefinition, studentID string, meta ClientMeta) (*domain.Session, error) {
	now := s.now()
	session := domain.NewSession(uuid.NewString(), exam.ID, studentID, now, meta.ipPtr(), meta.userAgentPtr())

	err := withStoreRetry(ctx, defaultStoreAttempts, func() error {
		return s.sessions.Create(ctx, session)
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			existing, lookupErr := s.sessions.Latest(ctx, exam.ID, studentID)
			if lookupErr != nil {
				return nil, fmt.Errorf("load concurrent session: %w", lookupErr)
			}
			switch existing.State {
			case domain.StateActive:
				return existing, nil
			case domain.StatePenalized:
				return nil, ErrSessionLocked
			default:
				// The winning attempt already closed, so there is no live
				// session to hand back. The retake policy decides what a
				// renewed join gets.
				if exam.AllowRetakes {
					return s.admit(ctx, exam, studentID, meta)
				}
				return nil, ErrAlreadyCompleted
			}
		}
		return nil, err
	}

	s.primeHeartbeat(ctx, session, exam)
	s.publishJoined(ctx, session)

	s.logger.Info("session admitted",
		zap.String("session_id", session.ID),
		zap.String("exam_id", exam.ID),
		zap.String("student_id", studentID),
	)

	return &session, nil
}

// finalizeExpired closes an overdue attempt before the caller acts on it. The
// closure stamps the deadline itself as the finish time, so the recorded
// duration never depends on when the lazy check happened to run.
func (s *AdmissionService) finalizeExpired(ctx context.Context, sessionID string, duration time.Duration) (*domain.Session, error) {
	var finalized *domain.Session
	err := withStoreRetry(ctx, defaultStoreAttempts, func() error {
		session, err := s.sessions.Mutate(ctx, sessionID, func(session *domain.Session) error {
			if !session.IsLive() {
				return nil
			}
			return session.Timeout(session.Deadline(duration))
		})
		if err != nil {
			return err
		}
		finalized = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return finalized, nil
}

func (s *AdmissionService) primeHeartbeat(ctx context.Context, session domain.Session, exam *domain.ExamDefinition) {
	if s.heartbeats == nil {
		return
	}
	ttl := exam.Duration + exam.Policy.GracePeriod
	if ttl <= 0 {
		return
	}
	if err := s.heartbeats.SetLastHeartbeat(ctx, session.ID, session.LastHeartbeat, ttl); err != nil {
		s.logger.Warn("prime heartbeat cache failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *AdmissionService) publishJoined(ctx context.Context, session domain.Session) {
	s.metrics.SessionJoined()
	if s.events == nil {
		return
	}
	event := domain.SessionJoinedEvent{
		EventID:   uuid.NewString(),
		SessionID: session.ID,
		ExamID:    session.ExamID,
		StudentID: session.StudentID,
		JoinedAt:  session.JoinedAt,
		IPAddress: session.IP,
	}
	if err := s.events.PublishSessionJoined(ctx, event); err != nil {
		s.logger.Warn("publish session joined failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}
