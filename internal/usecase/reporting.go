package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/core/port"
	"github.com/edukita/cbt-session-service/internal/repository"
)

// ReportingService serves the read side: the paginated admin exam report and
// the student's own session view. Reads never write; an expired attempt the
// sweep has not reached yet is projected as DONE in the response while the
// stored row stays untouched.
type ReportingService struct {
	sessions port.SessionRepository
	exams    port.ExamRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewReportingService constructs a ReportingService.
func NewReportingService(sessions port.SessionRepository, exams port.ExamRepository, logger *zap.Logger) *ReportingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &ReportingService{
		sessions: sessions,
		exams:    exams,
		logger:   logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *ReportingService) WithClock(clock func() time.Time) *ReportingService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// ListSessions returns one report page for an exam: every eligible student,
// joined or not, with state, violation count and client attributes.
func (s *ReportingService) ListSessions(ctx context.Context, filter domain.SessionFilter) (*domain.ReportPage, error) {
	if strings.TrimSpace(filter.ExamID) == "" {
		return nil, fmt.Errorf("exam id is required")
	}

	exam, err := s.exams.GetByID(ctx, filter.ExamID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("resolve exam: %w", err)
	}

	page, err := s.sessions.ListReport(ctx, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list report: %w", err)
	}

	now := s.now()
	for i := range page.Rows {
		projectRowDone(&page.Rows[i], exam.Duration, now)
	}
	return page, nil
}

// GetStudentSession returns the student's most recent attempt for an exam.
func (s *ReportingService) GetStudentSession(ctx context.Context, examID, studentID string) (*domain.Session, error) {
	session, err := s.sessions.Latest(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load latest session: %w", err)
	}

	exam, err := s.exams.GetByID(ctx, session.ExamID)
	if err != nil {
		return nil, fmt.Errorf("resolve exam: %w", err)
	}

	projected := *session
	projectSessionDone(&projected, exam.Duration, s.now())
	return &projected, nil
}

// projectSessionDone rewrites an expired live session as DONE at its deadline
// in the in-memory copy only.
func projectSessionDone(session *domain.Session, duration time.Duration, now time.Time) {
	if !session.IsLive() || !session.Expired(now, duration) {
		return
	}
	deadline := session.Deadline(duration)
	session.State = domain.StateDone
	session.FinishedAt = &deadline
}

func projectRowDone(row *domain.ReportRow, duration time.Duration, now time.Time) {
	if row.State == nil || row.JoinedAt == nil {
		return
	}
	live := *row.State == domain.StateActive || *row.State == domain.StatePenalized
	deadline := row.JoinedAt.Add(duration)
	if !live || now.Before(deadline) {
		return
	}
	done := domain.StateDone
	row.State = &done
	row.FinishedAt = &deadline
}
