package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/transport/http/middleware"
	"github.com/edukita/cbt-session-service/internal/usecase"
)

// StudentHandler exposes the exam-taking endpoints used by the student client.
type StudentHandler struct {
	admission *usecase.AdmissionService
	monitor   *usecase.MonitorService
	reporting *usecase.ReportingService
}

// NewStudentHandler constructs a student handler.
func NewStudentHandler(admission *usecase.AdmissionService, monitor *usecase.MonitorService, reporting *usecase.ReportingService) *StudentHandler {
	return &StudentHandler{admission: admission, monitor: monitor, reporting: reporting}
}

// RegisterRoutes binds student-facing session routes. Join and violation
// routes take their own middleware chains so rate limiters can wrap them.
func (h *StudentHandler) RegisterRoutes(r *gin.RouterGroup, joinMiddlewares, violationMiddlewares []gin.HandlerFunc) {
	if r == nil {
		return
	}

	joinHandlers := append([]gin.HandlerFunc{}, joinMiddlewares...)
	joinHandlers = append(joinHandlers, h.Join)
	r.POST("/sessions/join", joinHandlers...)

	violationHandlers := append([]gin.HandlerFunc{}, violationMiddlewares...)
	violationHandlers = append(violationHandlers, h.ReportViolation)
	r.POST("/sessions/:session_id/violations", violationHandlers...)

	r.POST("/sessions/:session_id/heartbeat", h.Heartbeat)
	r.POST("/sessions/:session_id/submit", h.Submit)
	r.GET("/exams/:exam_id/sessions/me", h.MySession)
}

// Join godoc
// @Summary Join an exam
// @Description Exchanges an exam token for an active session, resuming or finalizing prior attempts as needed.
// @Tags Sessions
// @Security Bearer
// @Accept json
// @Produce json
// @Param request body JoinRequest true "Join request"
// @Success 200 {object} JoinResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/cbt/sessions/join [post]
func (h *StudentHandler) Join(c *gin.Context) {
	if h.admission == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "admission unavailable"))
		return
	}

	studentID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || studentID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "token is required"))
		return
	}

	meta := usecase.ClientMeta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}

	session, exam, err := h.admission.Join(c.Request.Context(), req.Token, studentID, meta)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrInvalidToken, Status: http.StatusNotFound, Message: "exam token is invalid"},
			{Err: usecase.ErrNotEligible, Status: http.StatusForbidden, Message: "not eligible for this exam"},
			{Err: usecase.ErrSessionLocked, Status: http.StatusLocked, Message: "session locked pending review"},
			{Err: usecase.ErrAlreadyCompleted, Status: http.StatusConflict, Message: "exam already completed"},
			{Err: usecase.ErrStoreUnavailable, Status: http.StatusServiceUnavailable, Message: "store unavailable, retry shortly"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to join exam")
		return
	}

	c.JSON(http.StatusOK, JoinResponse{
		Session:                  newSessionPayload(*session),
		Exam:                     newExamPayload(*exam),
		Deadline:                 exam.Deadline(session.JoinedAt),
		HeartbeatIntervalSeconds: int(exam.Policy.HeartbeatInterval / time.Second),
	})
}

// Heartbeat godoc
// @Summary Report a liveness heartbeat
// @Description Records a heartbeat for the session; stale or future timestamps are clamped server-side.
// @Tags Sessions
// @Security Bearer
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param request body HeartbeatRequest false "Heartbeat payload"
// @Success 200 {object} SessionPayload
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/cbt/sessions/{session_id}/heartbeat [post]
func (h *StudentHandler) Heartbeat(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "monitoring unavailable"))
		return
	}

	studentID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || studentID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req HeartbeatRequest
	_ = c.ShouldBindJSON(&req)

	at := time.Time{}
	if req.At != nil {
		at = *req.At
	}

	session, err := h.monitor.ReportHeartbeat(c.Request.Context(), c.Param("session_id"), studentID, at)
	if err != nil {
		respondMonitorError(c, err, "failed to record heartbeat")
		return
	}

	c.JSON(http.StatusOK, newSessionPayload(*session))
}

// ReportViolation godoc
// @Summary Report an integrity violation
// @Description Appends one integrity event to the session log and penalizes the session when thresholds are crossed.
// @Tags Sessions
// @Security Bearer
// @Accept json
// @Produce json
// @Param session_id path string true "Session ID"
// @Param request body ViolationReportRequest true "Violation report"
// @Success 200 {object} ViolationReportResponse
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/cbt/sessions/{session_id}/violations [post]
func (h *StudentHandler) ReportViolation(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "monitoring unavailable"))
		return
	}

	studentID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || studentID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	var req ViolationReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "kind is required"))
		return
	}

	at := time.Time{}
	if req.At != nil {
		at = *req.At
	}

	session, penalized, err := h.monitor.ReportViolation(c.Request.Context(), c.Param("session_id"), studentID, domain.ViolationKind(req.Kind), at)
	if err != nil {
		respondMonitorError(c, err, "failed to record violation")
		return
	}

	c.JSON(http.StatusOK, ViolationReportResponse{
		Session:   newSessionPayload(*session),
		Penalized: penalized,
	})
}

// Submit godoc
// @Summary Submit the exam
// @Description Closes the session. Submissions after the deadline succeed and are recorded as timeouts.
// @Tags Sessions
// @Security Bearer
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} SessionPayload
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/cbt/sessions/{session_id}/submit [post]
func (h *StudentHandler) Submit(c *gin.Context) {
	if h.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "monitoring unavailable"))
		return
	}

	studentID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || studentID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	session, err := h.monitor.Submit(c.Request.Context(), c.Param("session_id"), studentID)
	if err != nil {
		respondMonitorError(c, err, "failed to submit exam")
		return
	}

	c.JSON(http.StatusOK, newSessionPayload(*session))
}

// MySession godoc
// @Summary Fetch the caller's session for an exam
// @Description Returns the student's most recent attempt for the exam, with expired attempts shown as done.
// @Tags Sessions
// @Security Bearer
// @Produce json
// @Param exam_id path string true "Exam ID"
// @Success 200 {object} SessionPayload
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/cbt/exams/{exam_id}/sessions/me [get]
func (h *StudentHandler) MySession(c *gin.Context) {
	if h.reporting == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "reporting unavailable"))
		return
	}

	studentID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || studentID == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	session, err := h.reporting.GetStudentSession(c.Request.Context(), c.Param("exam_id"), studentID)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "no session for this exam"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to load session")
		return
	}

	c.JSON(http.StatusOK, newSessionPayload(*session))
}

func respondMonitorError(c *gin.Context, err error, fallback string) {
	if te, ok := usecase.AsTransitionError(err); ok {
		c.JSON(http.StatusConflict, NewErrorResponse(c, fmt.Sprintf("session is %s", te.Current)))
		return
	}

	cases := []ErrorCase{
		{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"},
		{Err: usecase.ErrNotAuthorized, Status: http.StatusForbidden, Message: "session belongs to another student"},
		{Err: usecase.ErrSessionNotActive, Status: http.StatusConflict, Message: "session is not active"},
		{Err: usecase.ErrInvalidViolation, Status: http.StatusBadRequest, Message: "unknown violation kind"},
		{Err: usecase.ErrStoreUnavailable, Status: http.StatusServiceUnavailable, Message: "store unavailable, retry shortly"},
	}
	RespondWithMappedError(c, err, cases, http.StatusInternalServerError, fallback)
}
