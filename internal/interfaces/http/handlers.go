package http

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/practicehq/crm/internal/history"
	"github.com/practicehq/crm/internal/models"
	"github.com/practicehq/crm/internal/report"
	"github.com/practicehq/crm/internal/repository"
	"github.com/practicehq/crm/internal/workflow"
	"go.uber.org/zap"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	workflowSvc *workflow.Service
	historySvc  *history.Service
	reporter    *report.DurationReporter
	requestRepo *repository.RequestRepository
	userRepo    *repository.UserRepository
	logger      *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	workflowSvc *workflow.Service,
	historySvc *history.Service,
	reporter *report.DurationReporter,
	requestRepo *repository.RequestRepository,
	userRepo *repository.UserRepository,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		workflowSvc: workflowSvc,
		historySvc:  historySvc,
		reporter:    reporter,
		requestRepo: requestRepo,
		userRepo:    userRepo,
		logger:      logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ValidationResponse carries a graph validation result
type ValidationResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// DuplicateRequest carries the new name for a workflow copy
type DuplicateRequest struct {
	Name string `json:"name" binding:"required"`
}

// ExecuteTransitionRequest carries optional notes for a transition
type ExecuteTransitionRequest struct {
	Notes string `json:"notes"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// statusFor maps a service error to an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, workflow.ErrStepNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, workflow.ErrConditionNotMet):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) fail(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(msg, zap.Error(err))
		c.JSON(status, Response{Success: false, Error: msg})
		return
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return id, true
}

// actor resolves the calling user from the X-User-ID header. Authentication
// itself is an external collaborator; this adapter only needs the identity.
func (h *Handlers) actor(c *gin.Context) (*models.User, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "missing X-User-ID header"})
		return nil, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid X-User-ID header"})
		return nil, false
	}
	user, err := h.userRepo.GetByID(id)
	if err != nil {
		h.logger.Error("Failed to resolve actor", zap.Int64("user_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to resolve user"})
		return nil, false
	}
	if user == nil {
		c.JSON(http.StatusUnauthorized, Response{Success: false, Error: "unknown user"})
		return nil, false
	}
	return user, true
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	wf, err := h.workflowSvc.GetGraph(id)
	if err != nil {
		h.fail(c, err, "failed to load workflow")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: wf})
}

// ValidateWorkflow handles POST /api/workflows/:id/validate
func (h *Handlers) ValidateWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	valid, validationErrs, err := h.workflowSvc.ValidateWorkflow(id)
	if err != nil {
		h.fail(c, err, "failed to validate workflow")
		return
	}
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    ValidationResponse{Valid: valid, Errors: validationErrs},
	})
}

// DuplicateWorkflow handles POST /api/workflows/:id/duplicate
func (h *Handlers) DuplicateWorkflow(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req DuplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "name is required"})
		return
	}

	copy, err := h.workflowSvc.DuplicateWorkflow(c.Request.Context(), id, req.Name, &actor.CompanyID, &actor.ID)
	if err != nil {
		h.fail(c, err, "failed to duplicate workflow")
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: copy})
}

// ListTransitions handles GET /api/requests/:id/transitions
func (h *Handlers) ListTransitions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	request, err := h.requestRepo.GetByID(id)
	if err != nil {
		h.fail(c, err, "failed to load request")
		return
	}
	if request == nil {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "request not found"})
		return
	}

	transitions, err := h.workflowSvc.AvailableTransitions(request, actor)
	if err != nil {
		h.fail(c, err, "failed to compute transitions")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: transitions})
}

// ExecuteTransition handles POST /api/requests/:id/transitions/:transitionId
func (h *Handlers) ExecuteTransition(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	transitionID, ok := pathID(c, "transitionId")
	if !ok {
		return
	}
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req ExecuteTransitionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid request body"})
			return
		}
	}

	updated, err := h.workflowSvc.ExecuteTransition(c.Request.Context(), id, transitionID, actor, req.Notes)
	if err != nil {
		h.fail(c, err, "failed to execute transition")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: updated})
}

// GetHistory handles GET /api/requests/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	entries, err := h.historySvc.History(id)
	if err != nil {
		h.fail(c, err, "failed to load history")
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: entries})
}

// GetDurations handles GET /api/requests/:id/durations
func (h *Handlers) GetDurations(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	buckets, err := h.historySvc.StateDurations(id)
	if err != nil {
		h.fail(c, err, "failed to compute durations")
		return
	}

	seconds := make(map[string]float64, len(buckets))
	for state, d := range buckets {
		seconds[state] = d.Seconds()
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: seconds})
}

// StateDurationReport handles GET /api/reports/state-durations.xlsx
func (h *Handlers) StateDurationReport(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	days := 0
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid days parameter"})
			return
		}
		days = parsed
	}

	book, err := h.reporter.Workbook(&actor.CompanyID, days)
	if err != nil {
		h.fail(c, err, "failed to build report")
		return
	}
	defer book.Close()

	var buf bytes.Buffer
	if _, err := book.WriteTo(&buf); err != nil {
		h.logger.Error("Failed to encode report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "failed to encode report"})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="state-durations.xlsx"`)
	c.Data(http.StatusOK,
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		buf.Bytes())
}
