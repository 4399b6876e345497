package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/models"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/response"
)

type unitService interface {
	Issue(ctx context.Context, trainerID, issuedBy string, req dto.IssueUnitsRequest) ([]models.CapacityUnit, error)
	List(ctx context.Context, trainerID string) ([]models.CapacityUnit, error)
	Release(ctx context.Context, unitID, releasedBy string) (*models.CapacityUnit, error)
}

// UnitHandler exposes administrative issuance and release of capacity units.
type UnitHandler struct {
	units unitService
}

// NewUnitHandler constructs UnitHandler.
func NewUnitHandler(units unitService) *UnitHandler {
	return &UnitHandler{units: units}
}

// Issue godoc
// @Summary Issue standalone units
// @Tags Units
// @Accept json
// @Produce json
// @Param trainerId path string true "Trainer"
// @Param payload body dto.IssueUnitsRequest true "Issue payload"
// @Success 201 {object} response.Envelope
// @Router /admin/trainers/{trainerId}/units [post]
func (h *UnitHandler) Issue(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.IssueUnitsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err))
		return
	}
	units, err := h.units.Issue(c.Request.Context(), c.Param("trainerId"), claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, units)
}

// List godoc
// @Summary List a trainer's active units
// @Tags Units
// @Produce json
// @Param trainerId path string true "Trainer"
// @Success 200 {object} response.Envelope
// @Router /admin/trainers/{trainerId}/units [get]
func (h *UnitHandler) List(c *gin.Context) {
	units, err := h.units.List(c.Request.Context(), c.Param("trainerId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, units, nil)
}

// Release godoc
// @Summary Release a bound unit
// @Description The bound student must already be inactive.
// @Tags Units
// @Produce json
// @Param id path string true "Unit ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /admin/units/{id}/release [post]
func (h *UnitHandler) Release(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	unit, err := h.units.Release(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, unit)
}
