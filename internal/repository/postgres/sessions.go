package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/core/port"
	"github.com/edukita/cbt-session-service/internal/repository"
)

const uniqueViolationCode = "23505"

var sessionColumns = []string{
	"id",
	"exam_id",
	"student_id",
	"state",
	"joined_at",
	"last_heartbeat",
	"finished_at",
	"violations",
	"state_version",
	"ip",
	"user_agent",
}

// SessionRepository implements port.SessionRepository for PostgreSQL. All
// transitions on an existing session go through Mutate, which holds a row
// lock for the duration of the read-modify-write so competing writers of the
// same session serialize at the store.
type SessionRepository struct {
	pool    pgPool
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that
// satisfies pgPool (the pgx pool in production, pgxmock in tests).
func NewSessionRepository(pool pgPool) *SessionRepository {
	return &SessionRepository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Create inserts a fresh attempt row. The partial unique index on
// (exam_id, student_id) over live states turns a concurrent double-join into
// ErrDuplicate instead of a second live row.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	violations, err := marshalViolations(session.Violations)
	if err != nil {
		return err
	}

	sql, args, err := r.builder.Insert("cbt.sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.ExamID,
			session.StudentID,
			string(session.State),
			session.JoinedAt,
			session.LastHeartbeat,
			session.FinishedAt,
			violations,
			session.StateVersion,
			session.IP,
			session.UserAgent,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return repository.ErrDuplicate
		}
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// Get returns a session by identifier.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	sql, args, err := r.builder.
		Select(sessionColumns...).
		From("cbt.sessions").
		Where(squirrel.Eq{"id": sessionID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	session, err := scanSession(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return session, nil
}

// Latest returns the most recent attempt for the (exam, student) pair.
func (r *SessionRepository) Latest(ctx context.Context, examID, studentID string) (*domain.Session, error) {
	sql, args, err := r.builder.
		Select(sessionColumns...).
		From("cbt.sessions").
		Where(squirrel.Eq{"exam_id": examID, "student_id": studentID}).
		OrderBy("joined_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select latest session sql: %w", err)
	}

	session, err := scanSession(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan latest session: %w", err)
	}

	return session, nil
}

// Mutate loads the session under FOR UPDATE, applies fn and persists the
// result in the same transaction. A closure error rolls everything back and
// propagates unchanged, so guard rejections leave the row untouched.
func (r *SessionRepository) Mutate(ctx context.Context, sessionID string, fn port.MutateFunc) (*domain.Session, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin session mutation: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	sql, args, err := r.builder.
		Select(sessionColumns...).
		From("cbt.sessions").
		Where(squirrel.Eq{"id": sessionID}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session for update sql: %w", err)
	}

	session, err := scanSession(tx.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan session for update: %w", err)
	}

	expectedVersion := session.StateVersion
	if err := fn(session); err != nil {
		return nil, err
	}
	session.StateVersion = expectedVersion + 1

	violations, err := marshalViolations(session.Violations)
	if err != nil {
		return nil, err
	}

	updateSQL, updateArgs, err := r.builder.Update("cbt.sessions").
		Set("state", string(session.State)).
		Set("joined_at", session.JoinedAt).
		Set("last_heartbeat", session.LastHeartbeat).
		Set("finished_at", session.FinishedAt).
		Set("violations", violations).
		Set("state_version", session.StateVersion).
		Where(squirrel.Eq{"id": session.ID, "state_version": expectedVersion}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update session sql: %w", err)
	}

	tag, err := tx.Exec(ctx, updateSQL, updateArgs...)
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, repository.ErrStaleState
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit session mutation: %w", err)
	}

	return session, nil
}

// ListExpired returns live sessions whose exam duration has elapsed at the
// reference time. Used by the proactive sweep; the lazy finalization path does
// not depend on it.
func (r *SessionRepository) ListExpired(ctx context.Context, at time.Time, limit int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 100
	}

	sql, args, err := r.builder.
		Select(
			"s.id", "s.exam_id", "s.student_id", "s.state", "s.joined_at",
			"s.last_heartbeat", "s.finished_at", "s.violations",
			"s.state_version", "s.ip", "s.user_agent",
		).
		From("cbt.sessions s").
		Join("cbt.exams e ON e.id = s.exam_id").
		Where(squirrel.Eq{"s.state": []string{string(domain.StateActive), string(domain.StatePenalized)}}).
		Where(squirrel.Expr("s.joined_at + make_interval(mins => e.duration_minutes) <= ?", at)).
		OrderBy("s.joined_at ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list expired sessions sql: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}

	return sessions, nil
}

// ListReport produces the paginated admin report: every student of the exam's
// eligible classes left-joined with their latest attempt. Reads go straight to
// the store, never a cache, so a committed transition is visible to the next
// dashboard refresh.
func (r *SessionRepository) ListReport(ctx context.Context, filter domain.SessionFilter) (*domain.ReportPage, error) {
	filter = filter.Normalize()

	base := r.builder.
		Select(
			"st.id", "st.number", "st.name", "st.class_id", "c.name AS class_name", "g.name AS grade_name",
			"s.id", "s.state", "s.joined_at", "s.finished_at",
			"COALESCE(jsonb_array_length(s.violations), 0)", "s.ip", "s.user_agent",
		).
		From("cbt.students st").
		Join("cbt.classes c ON c.id = st.class_id").
		Join("cbt.grades g ON g.id = c.grade_id").
		Join("cbt.exam_classes ec ON ec.class_id = st.class_id").
		// A retake leaves the prior DONE attempt in place, so (exam, student)
		// is not unique; the report shows only the most recent attempt.
		LeftJoin(`LATERAL (
			SELECT id, state, joined_at, finished_at, violations, ip, user_agent
			FROM cbt.sessions
			WHERE exam_id = ec.exam_id AND student_id = st.id
			ORDER BY joined_at DESC
			LIMIT 1
		) s ON true`).
		Where(squirrel.Eq{"ec.exam_id": filter.ExamID})

	countQuery := r.builder.
		Select("COUNT(*)").
		From("cbt.students st").
		Join("cbt.exam_classes ec ON ec.class_id = st.class_id").
		Where(squirrel.Eq{"ec.exam_id": filter.ExamID})

	if filter.ClassID != "" {
		base = base.Where(squirrel.Eq{"st.class_id": filter.ClassID})
		countQuery = countQuery.Where(squirrel.Eq{"st.class_id": filter.ClassID})
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		base = base.Where(squirrel.Or{
			squirrel.ILike{"st.name": pattern},
			squirrel.ILike{"st.number": pattern},
		})
		countQuery = countQuery.Where(squirrel.Or{
			squirrel.ILike{"st.name": pattern},
			squirrel.ILike{"st.number": pattern},
		})
	}

	countSQL, countArgs, err := countQuery.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build report count sql: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count report rows: %w", err)
	}

	listSQL, listArgs, err := base.
		OrderBy("st.name ASC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset())).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build report sql: %w", err)
	}

	rows, err := r.pool.Query(ctx, listSQL, listArgs...)
	if err != nil {
		return nil, fmt.Errorf("query report rows: %w", err)
	}
	defer rows.Close()

	reportRows := make([]domain.ReportRow, 0, filter.Limit)
	for rows.Next() {
		var row domain.ReportRow
		var state *string
		if err := rows.Scan(
			&row.Student.ID,
			&row.Student.Number,
			&row.Student.Name,
			&row.Student.ClassID,
			&row.Student.ClassName,
			&row.Student.GradeName,
			&row.SessionID,
			&state,
			&row.JoinedAt,
			&row.FinishedAt,
			&row.ViolationCount,
			&row.IP,
			&row.UserAgent,
		); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		if state != nil {
			s := domain.SessionState(*state)
			row.State = &s
		}
		reportRows = append(reportRows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + filter.Limit - 1) / filter.Limit
	}

	return &domain.ReportPage{
		Rows:       reportRows,
		TotalData:  total,
		TotalPages: totalPages,
	}, nil
}

type sessionScanner interface {
	Scan(dest ...any) error
}

func scanSession(row sessionScanner) (*domain.Session, error) {
	var session domain.Session
	var state string
	var violations []byte

	if err := row.Scan(
		&session.ID,
		&session.ExamID,
		&session.StudentID,
		&state,
		&session.JoinedAt,
		&session.LastHeartbeat,
		&session.FinishedAt,
		&violations,
		&session.StateVersion,
		&session.IP,
		&session.UserAgent,
	); err != nil {
		return nil, err
	}

	session.State = domain.SessionState(state)
	if len(violations) > 0 {
		if err := json.Unmarshal(violations, &session.Violations); err != nil {
			return nil, fmt.Errorf("unmarshal violations: %w", err)
		}
	}

	return &session, nil
}

func marshalViolations(violations []domain.Violation) ([]byte, error) {
	if violations == nil {
		violations = []domain.Violation{}
	}
	payload, err := json.Marshal(violations)
	if err != nil {
		return nil, fmt.Errorf("marshal violations: %w", err)
	}
	return payload, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
