package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/core/port"
)

// AuditRepository persists the append-only administrative override trail.
type AuditRepository struct {
	pool    pgPool
	builder squirrel.StatementBuilderType
}

// NewAuditRepository constructs an AuditRepository.
func NewAuditRepository(pool pgPool) *AuditRepository {
	return &AuditRepository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Record inserts one override audit entry. Entries are never updated or
// deleted.
func (r *AuditRepository) Record(ctx context.Context, entry domain.OverrideAudit) error {
	sql, args, err := r.builder.Insert("cbt.override_audit").
		Columns("id", "session_id", "operation", "operator", "before_state", "after_state", "at").
		Values(
			entry.ID,
			entry.SessionID,
			string(entry.Operation),
			entry.Operator,
			string(entry.BeforeState),
			string(entry.AfterState),
			entry.At,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit sql: %w", err)
	}

	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}

var _ port.AuditRepository = (*AuditRepository)(nil)
