package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/middleware"
	"github.com/noah-isme/coachdesk-api/internal/models"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/response"
)

type transitionService interface {
	Classify(ctx context.Context, trainerID, newPlanID string) (*dto.TransitionPreview, error)
	Process(ctx context.Context, req dto.ProcessTransitionRequest) (*dto.TransitionResult, error)
	ManualReactivate(ctx context.Context, trainerID string, studentIDs []string) (*dto.ManualReactivateResult, error)
	EligibleForReactivation(ctx context.Context, trainerID string, excludeRecentDays int) ([]models.Student, error)
}

// TransitionHandler exposes plan transitions and manual reactivation.
type TransitionHandler struct {
	transitions       transitionService
	excludeRecentDays int
}

// NewTransitionHandler constructs the handler. excludeRecentDays is used when
// the candidates query does not name one.
func NewTransitionHandler(transitions transitionService, excludeRecentDays int) *TransitionHandler {
	return &TransitionHandler{transitions: transitions, excludeRecentDays: excludeRecentDays}
}

// Preview godoc
// @Summary Preview a plan transition
// @Tags Transitions
// @Produce json
// @Param planId query string true "Target plan"
// @Param trainerId query string false "Trainer (admins only)"
// @Success 200 {object} response.Envelope
// @Router /transitions/preview [get]
func (h *TransitionHandler) Preview(c *gin.Context) {
	trainerID, err := trainerScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	planID := strings.TrimSpace(c.Query("planId"))
	if planID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "planId is required"))
		return
	}
	preview, err := h.transitions.Classify(c.Request.Context(), trainerID, planID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil, middleware.ExtractMeta(c))
}

// Process godoc
// @Summary Assign, renew, upgrade or downgrade a trainer's plan
// @Tags Transitions
// @Accept json
// @Produce json
// @Param trainerId path string true "Trainer"
// @Param payload body dto.ProcessTransitionRequest true "Transition payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /admin/trainers/{trainerId}/plan [post]
func (h *TransitionHandler) Process(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ProcessTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	req.TrainerID = c.Param("trainerId")
	req.AuthorizedBy = claims.UserID

	result, err := h.transitions.Process(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Candidates godoc
// @Summary Students eligible for manual reactivation
// @Tags Transitions
// @Produce json
// @Param excludeRecentDays query int false "Skip deactivations newer than this many days"
// @Success 200 {object} response.Envelope
// @Router /students/reactivation-candidates [get]
func (h *TransitionHandler) Candidates(c *gin.Context) {
	trainerID, err := trainerScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	days := h.excludeRecentDays
	if raw := strings.TrimSpace(c.Query("excludeRecentDays")); raw != "" {
		days, err = strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "excludeRecentDays must be an integer"))
			return
		}
	}
	students, err := h.transitions.EligibleForReactivation(c.Request.Context(), trainerID, days)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, nil, map[string]interface{}{"excludeRecentDays": days})
}

// Reactivate godoc
// @Summary Manually reactivate a batch of students
// @Tags Transitions
// @Accept json
// @Produce json
// @Param payload body dto.ManualReactivateRequest true "Students to reactivate"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/reactivate [post]
func (h *TransitionHandler) Reactivate(c *gin.Context) {
	trainerID, err := trainerScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ManualReactivateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	result, err := h.transitions.ManualReactivate(c.Request.Context(), trainerID, req.StudentIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
