package usecase

import (
	"errors"

	"github.com/edukita/cbt-session-service/internal/core/domain"
)

var (
	// ErrInvalidToken indicates the exam token does not match an active,
	// currently schedulable exam.
	ErrInvalidToken = errors.New("exam token is invalid")
	// ErrNotEligible indicates the student's class is not in the exam's
	// eligible set.
	ErrNotEligible = errors.New("student is not eligible for this exam")
	// ErrSessionLocked indicates a penalized session that only an
	// administrative rejoin can re-admit.
	ErrSessionLocked = errors.New("session is locked pending administrative review")
	// ErrAlreadyCompleted indicates the student already finished this exam
	// and the exam does not allow further attempts.
	ErrAlreadyCompleted = errors.New("exam already completed")
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidViolation indicates a violation report named a kind outside
	// the closed set.
	ErrInvalidViolation = errors.New("unknown violation kind")
	// ErrSessionNotActive indicates a monitoring signal arrived for a
	// session that is no longer live.
	ErrSessionNotActive = errors.New("session is not active")
	// ErrNotAuthorized indicates the caller lacks the admin capability an
	// override requires.
	ErrNotAuthorized = errors.New("caller is not authorized")
	// ErrPurgeFailed indicates the delegated answer purge failed and the
	// retake was aborted with the session unchanged.
	ErrPurgeFailed = errors.New("answer purge failed")
	// ErrStoreUnavailable indicates bounded retries against the store were
	// exhausted; the operation committed nothing and is safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// AsTransitionError unwraps a guard rejection so callers can report which
// state the session was in and which event was attempted.
func AsTransitionError(err error) (*domain.TransitionError, bool) {
	var te *domain.TransitionError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
