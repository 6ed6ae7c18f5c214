package port

import (
	"context"

	"github.com/edukita/cbt-session-service/internal/core/domain"
)

// AuditRepository persists the append-only override trail kept for compliance
// review.
type AuditRepository interface {
	Record(ctx context.Context, entry domain.OverrideAudit) error
}

// AnswerPurger deletes the answer artifacts of an attempt. Retake must not
// proceed unless the purge succeeded; answer ownership stays with the scoring
// subsystem.
type AnswerPurger interface {
	PurgeAnswers(ctx context.Context, examID, studentID string) error
}
