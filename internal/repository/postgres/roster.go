package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/core/port"
	"github.com/edukita/cbt-session-service/internal/repository"
)

// RosterRepository reads student and class reference data.
type RosterRepository struct {
	pool    pgPool
	builder squirrel.StatementBuilderType
}

// NewRosterRepository constructs a RosterRepository.
func NewRosterRepository(pool pgPool) *RosterRepository {
	return &RosterRepository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// GetStudent returns a student with class and grade names resolved.
func (r *RosterRepository) GetStudent(ctx context.Context, studentID string) (*domain.Student, error) {
	sql, args, err := r.builder.
		Select("st.id", "st.number", "st.name", "st.class_id", "c.name", "g.name").
		From("cbt.students st").
		Join("cbt.classes c ON c.id = st.class_id").
		Join("cbt.grades g ON g.id = c.grade_id").
		Where(squirrel.Eq{"st.id": studentID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select student sql: %w", err)
	}

	var student domain.Student
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(
		&student.ID,
		&student.Number,
		&student.Name,
		&student.ClassID,
		&student.ClassName,
		&student.GradeName,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan student: %w", err)
	}

	return &student, nil
}

var _ port.RosterRepository = (*RosterRepository)(nil)
