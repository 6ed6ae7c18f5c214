package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edukita/cbt-session-service/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// ViolationPayload is one entry of a session's violation log.
type ViolationPayload struct {
	Kind     string    `json:"kind"`
	Severity string    `json:"severity"`
	At       time.Time `json:"at"`
}

// SessionPayload is the API view of an exam session.
type SessionPayload struct {
	ID             string             `json:"id"`
	ExamID         string             `json:"exam_id"`
	State          string             `json:"state"`
	JoinedAt       time.Time          `json:"joined_at"`
	LastHeartbeat  time.Time          `json:"last_heartbeat"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
	ViolationCount int                `json:"violation_count"`
	Violations     []ViolationPayload `json:"violations,omitempty"`
}

func newSessionPayload(session domain.Session) SessionPayload {
	payload := SessionPayload{
		ID:             session.ID,
		ExamID:         session.ExamID,
		State:          string(session.State),
		JoinedAt:       session.JoinedAt,
		LastHeartbeat:  session.LastHeartbeat,
		FinishedAt:     session.FinishedAt,
		ViolationCount: session.ViolationCount(),
	}

	for _, v := range session.Violations {
		payload.Violations = append(payload.Violations, ViolationPayload{
			Kind:     string(v.Kind),
			Severity: v.Kind.Severity().String(),
			At:       v.At,
		})
	}

	return payload
}

// ExamPayload is the read-only exam context returned alongside an admitted
// session.
type ExamPayload struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`
	Shuffle         bool   `json:"shuffle"`
}

func newExamPayload(exam domain.ExamDefinition) ExamPayload {
	return ExamPayload{
		ID:              exam.ID,
		Title:           exam.Title,
		DurationSeconds: int(exam.Duration / time.Second),
		Shuffle:         exam.Shuffle,
	}
}

// JoinRequest carries the exam token a student presents at the admission gate.
type JoinRequest struct {
	Token string `json:"token" binding:"required"`
}

// JoinResponse returns the admitted (or resumed) session with its exam
// context, the fixed submission deadline, and the cadence the client is
// expected to heartbeat at.
type JoinResponse struct {
	Session                  SessionPayload `json:"session"`
	Exam                     ExamPayload    `json:"exam"`
	Deadline                 time.Time      `json:"deadline"`
	HeartbeatIntervalSeconds int            `json:"heartbeat_interval_seconds"`
}

// HeartbeatRequest carries an optional client-side timestamp. Blank means "now".
type HeartbeatRequest struct {
	At *time.Time `json:"at"`
}

// ViolationReportRequest reports one integrity event from the student client.
type ViolationReportRequest struct {
	Kind string     `json:"kind" binding:"required"`
	At   *time.Time `json:"at"`
}

// ViolationReportResponse acknowledges a violation report and tells the client
// whether the session was penalized as a result.
type ViolationReportResponse struct {
	Session   SessionPayload `json:"session"`
	Penalized bool           `json:"penalized"`
}

// ReportRowPayload is one line of the admin exam report. Students who never
// joined render with state "not_joined" and no session fields.
type ReportRowPayload struct {
	StudentID      string     `json:"student_id"`
	Number         string     `json:"number"`
	Name           string     `json:"name"`
	ClassName      string     `json:"class_name"`
	GradeName      string     `json:"grade_name"`
	SessionID      *string    `json:"session_id,omitempty"`
	State          string     `json:"state"`
	JoinedAt       *time.Time `json:"joined_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	ViolationCount int        `json:"violation_count"`
	IP             *string    `json:"ip,omitempty"`
	Browser        *string    `json:"browser,omitempty"`
}

const stateNotJoined = "not_joined"

func newReportRowPayload(row domain.ReportRow) ReportRowPayload {
	payload := ReportRowPayload{
		StudentID:      row.Student.ID,
		Number:         row.Student.Number,
		Name:           row.Student.Name,
		ClassName:      row.Student.ClassName,
		GradeName:      row.Student.GradeName,
		SessionID:      row.SessionID,
		State:          stateNotJoined,
		JoinedAt:       row.JoinedAt,
		FinishedAt:     row.FinishedAt,
		ViolationCount: row.ViolationCount,
		IP:             row.IP,
		Browser:        row.UserAgent,
	}

	if row.State != nil {
		payload.State = string(*row.State)
	}

	return payload
}

// ReportResponse is a paginated admin report slice.
type ReportResponse struct {
	Rows       []ReportRowPayload `json:"rows"`
	Page       int                `json:"page"`
	Limit      int                `json:"limit"`
	TotalData  int                `json:"total_data"`
	TotalPages int                `json:"total_pages"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports per-dependency readiness.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
