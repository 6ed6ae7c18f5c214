package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/edukita/cbt-session-service/internal/core/domain"
)

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Sessions *SessionRepository
	Exams    *ExamRepository
	Roster   *RosterRepository
	Audit    *AuditRepository
	Answers  *AnswerPurger
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool, policyDefaults domain.IntegrityPolicy) *Repositories {
	return &Repositories{
		Sessions: NewSessionRepository(pool),
		Exams:    NewExamRepository(pool, policyDefaults),
		Roster:   NewRosterRepository(pool),
		Audit:    NewAuditRepository(pool),
		Answers:  NewAnswerPurger(pool),
	}
}
