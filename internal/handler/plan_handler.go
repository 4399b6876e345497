package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/pkg/response"
)

type planService interface {
	List(ctx context.Context, activeOnly bool) ([]models.Plan, error)
	Get(ctx context.Context, id string) (*models.Plan, error)
	Create(ctx context.Context, req dto.CreatePlanRequest) (*models.Plan, error)
	Deactivate(ctx context.Context, id string) error
}

// PlanHandler exposes the plan catalogue.
type PlanHandler struct {
	plans planService
}

// NewPlanHandler constructs PlanHandler.
func NewPlanHandler(plans planService) *PlanHandler {
	return &PlanHandler{plans: plans}
}

// List godoc
// @Summary List plans
// @Tags Plans
// @Produce json
// @Param all query bool false "Include retired plans (admins only)"
// @Success 200 {object} response.Envelope
// @Router /plans [get]
func (h *PlanHandler) List(c *gin.Context) {
	activeOnly := true
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleAdmin && c.Query("all") == "true" {
		activeOnly = false
	}
	plans, err := h.plans.List(c.Request.Context(), activeOnly)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plans, nil)
}

// Get godoc
// @Summary Get plan
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Router /plans/{id} [get]
func (h *PlanHandler) Get(c *gin.Context) {
	plan, err := h.plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, plan)
}

// Create godoc
// @Summary Create plan
// @Tags Plans
// @Accept json
// @Produce json
// @Param payload body dto.CreatePlanRequest true "Plan payload"
// @Success 201 {object} response.Envelope
// @Router /admin/plans [post]
func (h *PlanHandler) Create(c *gin.Context) {
	var req dto.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	plan, err := h.plans.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, plan)
}

// Deactivate godoc
// @Summary Retire plan
// @Tags Plans
// @Param id path string true "Plan ID"
// @Success 204
// @Router /admin/plans/{id} [delete]
func (h *PlanHandler) Deactivate(c *gin.Context) {
	if err := h.plans.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
