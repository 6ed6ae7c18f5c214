package port

import (
	"context"
	"time"

	"github.com/edukita/cbt-session-service/internal/core/domain"
)

// MutateFunc applies a transition to a session loaded under a row lock. The
// closure runs inside the store transaction; returning an error rolls the
// whole operation back with the session untouched.
type MutateFunc func(session *domain.Session) error

// SessionRepository deals with session storage. All writers of the same
// session serialize through Mutate, which performs a locked
// read-modify-write so concurrent transitions cannot both succeed against a
// state only one of them observed.
type SessionRepository interface {
	// Create inserts a fresh attempt. A live session already occupying the
	// (exam, student) slot surfaces repository.ErrDuplicate.
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	// Latest returns the most recent attempt for the pair, live or done.
	Latest(ctx context.Context, examID, studentID string) (*domain.Session, error)
	// Mutate loads the session FOR UPDATE, applies fn, persists the result
	// and bumps the state version, all in one transaction.
	Mutate(ctx context.Context, sessionID string, fn MutateFunc) (*domain.Session, error)
	// ListExpired returns live sessions whose exam duration elapsed at the
	// reference time, for the proactive sweep.
	ListExpired(ctx context.Context, at time.Time, limit int) ([]domain.Session, error)
	// ListReport produces the paginated admin report for an exam: eligible
	// students left-joined with their latest attempt.
	ListReport(ctx context.Context, filter domain.SessionFilter) (*domain.ReportPage, error)
}
