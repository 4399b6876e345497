package handler

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coachdesk-api/internal/dto"
	"github.com/noah-isme/coachdesk-api/internal/scheduler"
	appErrors "github.com/noah-isme/coachdesk-api/pkg/errors"
	"github.com/noah-isme/coachdesk-api/pkg/response"
)

type sweepRunner interface {
	RunOnce(ctx context.Context) (*dto.SweepReport, error)
}

// SchedulerHandler lets administrators trigger the expiration sweep.
type SchedulerHandler struct {
	runner sweepRunner
}

// NewSchedulerHandler constructs SchedulerHandler.
func NewSchedulerHandler(runner sweepRunner) *SchedulerHandler {
	return &SchedulerHandler{runner: runner}
}

// Run godoc
// @Summary Run the expiration sweep now
// @Tags Scheduler
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/scheduler/run [post]
func (h *SchedulerHandler) Run(c *gin.Context) {
	report, err := h.runner.RunOnce(c.Request.Context())
	if err != nil {
		if errors.Is(err, scheduler.ErrSweepInProgress) {
			response.Error(c, appErrors.Clone(appErrors.ErrConflict, err.Error()))
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "expiration sweep failed"))
		return
	}
	response.OK(c, report)
}
