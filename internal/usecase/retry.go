package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/repository"
)

const (
	defaultStoreAttempts = 3
	retryBackoff         = 50 * time.Millisecond
)

// retryableStoreError reports whether the failure is transient at the store
// level. Guard rejections and admission outcomes carry meaning and must never
// be retried into a different answer.
func retryableStoreError(err error) bool {
	var te *domain.TransitionError
	switch {
	case errors.As(err, &te),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrDuplicate),
		errors.Is(err, ErrPurgeFailed):
		return false
	case errors.Is(err, repository.ErrStaleState):
		// Lost a concurrent race; the re-read inside the next attempt
		// decides whether the transition still applies.
		return true
	}
	return true
}

// withStoreRetry runs fn up to attempts times, backing off between tries.
// Exhaustion surfaces ErrStoreUnavailable so callers know nothing partial was
// committed and the operation is safe to re-issue.
func withStoreRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = defaultStoreAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryableStoreError(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}

	return fmt.Errorf("%w: %s", ErrStoreUnavailable, lastErr)
}
