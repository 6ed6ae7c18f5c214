package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/edukita/cbt-session-service/internal/core/domain"
	"github.com/edukita/cbt-session-service/internal/transport/http/middleware"
	"github.com/edukita/cbt-session-service/internal/usecase"
)

// AdminHandler exposes proctoring overrides and the exam report.
type AdminHandler struct {
	overrides *usecase.OverrideService
	reporting *usecase.ReportingService
}

// NewAdminHandler constructs an admin handler.
func NewAdminHandler(overrides *usecase.OverrideService, reporting *usecase.ReportingService) *AdminHandler {
	return &AdminHandler{overrides: overrides, reporting: reporting}
}

// RegisterRoutes binds admin routes to the provided router group.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("/exams/:exam_id/sessions", h.ListSessions)
	r.POST("/sessions/:session_id/finish", h.Finish)
	r.POST("/sessions/:session_id/rejoin", h.Rejoin)
	r.POST("/sessions/:session_id/retake", h.Retake)
}

// ListSessions godoc
// @Summary List exam sessions
// @Description Returns a paginated report of every eligible student for the exam, including those who never joined.
// @Tags Admin
// @Security Bearer
// @Produce json
// @Param exam_id path string true "Exam ID"
// @Param page query int false "Page number (default 1)"
// @Param limit query int false "Page size (default 10, max 100)"
// @Param class_id query string false "Filter by class"
// @Param search query string false "Match against student name or number"
// @Success 200 {object} ReportResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/admin/exams/{exam_id}/sessions [get]
func (h *AdminHandler) ListSessions(c *gin.Context) {
	if h.reporting == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "reporting unavailable"))
		return
	}

	filter := domain.SessionFilter{
		ExamID:  c.Param("exam_id"),
		ClassID: c.Query("class_id"),
		Search:  c.Query("search"),
		Page:    queryInt(c, "page", 1),
		Limit:   queryInt(c, "limit", 10),
	}

	page, err := h.reporting.ListSessions(c.Request.Context(), filter)
	if err != nil {
		cases := []ErrorCase{
			{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "exam not found"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	normalized := filter.Normalize()
	rows := make([]ReportRowPayload, 0, len(page.Rows))
	for _, row := range page.Rows {
		rows = append(rows, newReportRowPayload(row))
	}

	c.JSON(http.StatusOK, ReportResponse{
		Rows:       rows,
		Page:       normalized.Page,
		Limit:      normalized.Limit,
		TotalData:  page.TotalData,
		TotalPages: page.TotalPages,
	})
}

// Finish godoc
// @Summary Force-finish a session
// @Description Closes a live session on the proctor's authority. Expired sessions are recorded as timeouts.
// @Tags Admin
// @Security Bearer
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} SessionPayload
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/admin/sessions/{session_id}/finish [post]
func (h *AdminHandler) Finish(c *gin.Context) {
	h.override(c, func(operator string) (*domain.Session, error) {
		return h.overrides.Finish(c.Request.Context(), c.Param("session_id"), operator)
	})
}

// Rejoin godoc
// @Summary Re-admit a penalized session
// @Description Unlocks a penalized session so the student can continue. The deadline does not move.
// @Tags Admin
// @Security Bearer
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} SessionPayload
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/admin/sessions/{session_id}/rejoin [post]
func (h *AdminHandler) Rejoin(c *gin.Context) {
	h.override(c, func(operator string) (*domain.Session, error) {
		return h.overrides.Rejoin(c.Request.Context(), c.Param("session_id"), operator)
	})
}

// Retake godoc
// @Summary Grant a retake
// @Description Purges the finished attempt's answers and reopens the session as a fresh attempt.
// @Tags Admin
// @Security Bearer
// @Produce json
// @Param session_id path string true "Session ID"
// @Success 200 {object} SessionPayload
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /api/v1/admin/sessions/{session_id}/retake [post]
func (h *AdminHandler) Retake(c *gin.Context) {
	h.override(c, func(operator string) (*domain.Session, error) {
		return h.overrides.Retake(c.Request.Context(), c.Param("session_id"), operator)
	})
}

func (h *AdminHandler) override(c *gin.Context, op func(operator string) (*domain.Session, error)) {
	if h.overrides == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "overrides unavailable"))
		return
	}

	operator, ok := middleware.GetAuthenticatedUserID(c)
	if !ok || operator == "" {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	session, err := op(operator)
	if err != nil {
		if te, ok := usecase.AsTransitionError(err); ok {
			c.JSON(http.StatusConflict, NewErrorResponse(c,
				fmt.Sprintf("%s not allowed: session is %s", te.Requested, te.Current)))
			return
		}

		cases := []ErrorCase{
			{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"},
			{Err: usecase.ErrNotAuthorized, Status: http.StatusForbidden, Message: "operator identity required"},
			{Err: usecase.ErrPurgeFailed, Status: http.StatusBadGateway, Message: "answer purge failed, session unchanged"},
			{Err: usecase.ErrStoreUnavailable, Status: http.StatusServiceUnavailable, Message: "store unavailable, retry shortly"},
		}
		RespondWithMappedError(c, err, cases, http.StatusInternalServerError, "override failed")
		return
	}

	c.JSON(http.StatusOK, newSessionPayload(*session))
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}
