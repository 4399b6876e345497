package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/middleware"
	"github.com/noah-isme/coachdesk-api/internal/models"
	"github.com/noah-isme/coachdesk-api/internal/service"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/response"
)

type capacityQueries interface {
	Status(ctx context.Context, trainerID string) (*dto.CapacityStatus, error)
	History(ctx context.Context, filter models.TransitionHistoryFilter) ([]models.TransitionHistoryEntry, *models.Pagination, error)
}

type historyExporter interface {
	Export(ctx context.Context, filter models.TransitionHistoryFilter, format string) (*service.HistoryExport, error)
}

// CapacityHandler serves the capacity dashboard and transition history.
type CapacityHandler struct {
	queries  capacityQueries
	exporter historyExporter
}

// NewCapacityHandler constructs the handler.
func NewCapacityHandler(queries capacityQueries, exporter historyExporter) *CapacityHandler {
	return &CapacityHandler{queries: queries, exporter: exporter}
}

// Status godoc
// @Summary Capacity status
// @Tags Capacity
// @Produce json
// @Param trainerId query string false "Trainer (admins only)"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /capacity [get]
func (h *CapacityHandler) Status(c *gin.Context) {
	trainerID, err := trainerScope(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	status, err := h.queries.Status(c.Request.Context(), trainerID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil, middleware.ExtractMeta(c))
}

// History godoc
// @Summary Transition history
// @Tags Capacity
// @Produce json
// @Param studentId query string false "Student"
// @Param reason query string false "plan_expired | manual_deactivation | plan_changed | token_expired"
// @Param event query string false "deactivated | reactivated"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /transitions/history [get]
func (h *CapacityHandler) History(c *gin.Context) {
	filter, err := historyFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	entries, pagination, err := h.queries.History(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export transition history
// @Tags Capacity
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv | pdf"
// @Success 200 {file} file
// @Router /transitions/history/export [get]
func (h *CapacityHandler) Export(c *gin.Context) {
	if h.exporter == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	filter, err := historyFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	out, err := h.exporter.Export(c.Request.Context(), filter, c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, out.Filename, out.ContentType, out.Body)
}

func historyFilter(c *gin.Context) (models.TransitionHistoryFilter, error) {
	trainerID, err := trainerScope(c)
	if err != nil {
		return models.TransitionHistoryFilter{}, err
	}
	page, size := pageParams(c)
	return models.TransitionHistoryFilter{
		TrainerID: trainerID,
		StudentID: strings.TrimSpace(c.Query("studentId")),
		Reason:    models.TransitionReason(strings.TrimSpace(c.Query("reason"))),
		Event:     models.TransitionEvent(strings.TrimSpace(c.Query("event"))),
		Page:      page,
		PageSize:  size,
	}, nil
}
