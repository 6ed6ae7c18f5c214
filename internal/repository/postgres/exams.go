package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/core/port"
	"github.com/edukita/cbt-session-service/internal/repository"
)

var examColumns = []string{
	"e.id",
	"e.title",
	"e.token",
	"e.duration_minutes",
	"e.shuffle",
	"e.active",
	"e.allow_retakes",
	"e.high_severity_limit",
	"e.cumulative_limit",
	"e.heartbeat_interval_secs",
	"e.missed_heartbeat_factor",
	"e.grace_period_secs",
	"COALESCE(array_agg(ec.class_id) FILTER (WHERE ec.class_id IS NOT NULL), '{}')",
}

// ExamRepository reads exam definitions owned by the authoring subsystem.
type ExamRepository struct {
	pool     pgPool
	builder  squirrel.StatementBuilderType
	defaults domain.IntegrityPolicy
}

// NewExamRepository constructs an ExamRepository. The defaults fill policy
// fields an exam definition leaves unset.
func NewExamRepository(pool pgPool, defaults domain.IntegrityPolicy) *ExamRepository {
	return &ExamRepository{
		pool:     pool,
		builder:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		defaults: defaults,
	}
}

// GetByToken resolves an exam by its join token.
func (r *ExamRepository) GetByToken(ctx context.Context, token string) (*domain.ExamDefinition, error) {
	return r.get(ctx, squirrel.Eq{"e.token": token})
}

// GetByID resolves an exam by identifier.
func (r *ExamRepository) GetByID(ctx context.Context, examID string) (*domain.ExamDefinition, error) {
	return r.get(ctx, squirrel.Eq{"e.id": examID})
}

func (r *ExamRepository) get(ctx context.Context, where squirrel.Eq) (*domain.ExamDefinition, error) {
	sql, args, err := r.builder.
		Select(examColumns...).
		From("cbt.exams e").
		LeftJoin("cbt.exam_classes ec ON ec.exam_id = e.id").
		Where(where).
		GroupBy("e.id").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select exam sql: %w", err)
	}

	var exam domain.ExamDefinition
	var durationMinutes int
	var highLimit, cumulativeLimit, missedFactor *int
	var heartbeatSecs, graceSecs *int

	if err := r.pool.QueryRow(ctx, sql, args...).Scan(
		&exam.ID,
		&exam.Title,
		&exam.Token,
		&durationMinutes,
		&exam.Shuffle,
		&exam.Active,
		&exam.AllowRetakes,
		&highLimit,
		&cumulativeLimit,
		&heartbeatSecs,
		&missedFactor,
		&graceSecs,
		&exam.EligibleClasses,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan exam: %w", err)
	}

	exam.Duration = time.Duration(durationMinutes) * time.Minute
	exam.Policy = r.policy(highLimit, cumulativeLimit, heartbeatSecs, missedFactor, graceSecs)

	return &exam, nil
}

// policy overlays exam-specific thresholds on the configured defaults.
func (r *ExamRepository) policy(highLimit, cumulativeLimit, heartbeatSecs, missedFactor, graceSecs *int) domain.IntegrityPolicy {
	policy := r.defaults
	if highLimit != nil && *highLimit > 0 {
		policy.HighSeverityLimit = *highLimit
	}
	if cumulativeLimit != nil && *cumulativeLimit > 0 {
		policy.CumulativeLimit = *cumulativeLimit
	}
	if heartbeatSecs != nil && *heartbeatSecs > 0 {
		policy.HeartbeatInterval = time.Duration(*heartbeatSecs) * time.Second
	}
	if missedFactor != nil && *missedFactor > 0 {
		policy.MissedHeartbeatFactor = *missedFactor
	}
	if graceSecs != nil && *graceSecs > 0 {
		policy.GracePeriod = time.Duration(*graceSecs) * time.Second
	}
	return policy
}

var _ port.ExamRepository = (*ExamRepository)(nil)
