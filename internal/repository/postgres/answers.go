package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/edukita/cbt-session-service/internal/core/port"
)

// AnswerPurger deletes answer artifacts on behalf of a retake. The answers
// table belongs to the scoring subsystem; this is the one delegated write the
// session core performs against it, and a retake aborts when it fails.
type AnswerPurger struct {
	pool    pgPool
	builder squirrel.StatementBuilderType
}

// NewAnswerPurger constructs an AnswerPurger.
func NewAnswerPurger(pool pgPool) *AnswerPurger {
	return &AnswerPurger{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// PurgeAnswers removes every answer row of the attempt. Deleting an already
// purged attempt is a no-op, which keeps a re-issued retake safe after a
// crash between purge and reset.
func (p *AnswerPurger) PurgeAnswers(ctx context.Context, examID, studentID string) error {
	sql, args, err := p.builder.Delete("cbt.answers").
		Where(squirrel.Eq{"exam_id": examID, "student_id": studentID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete answers sql: %w", err)
	}

	if _, err := p.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("delete answers: %w", err)
	}

	return nil
}

var _ port.AnswerPurger = (*AnswerPurger)(nil)
