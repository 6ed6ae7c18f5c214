package port

import (
	"context"

	"github.com/edukita/cbt-session-service/internal/core/domain"
)

// ExamRepository reads exam definitions. The authoring subsystem owns the
// data; this service never writes it.
type ExamRepository interface {
	GetByToken(ctx context.Context, token string) (*domain.ExamDefinition, error)
	GetByID(ctx context.Context, examID string) (*domain.ExamDefinition, error)
}

// RosterRepository reads student and class reference data.
type RosterRepository interface {
	GetStudent(ctx context.Context, studentID string) (*domain.Student, error)
}
