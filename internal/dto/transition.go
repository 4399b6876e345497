package dto

import "github.com/noah-isme/coachdesk-api/internal/models"

// TransitionPreview describes what a plan change would do before it happens.
type TransitionPreview struct {
	Type                    models.TransitionType `json:"type"`
	CurrentPlan             *models.Plan          `json:"currentPlan,omitempty"`
	NewPlan                 models.Plan           `json:"newPlan"`
	LimitDelta              int                   `json:"limitDelta"`
	RequiresManualSelection bool                  `json:"requiresManualSelection"`
	AffectedStudents        int                   `json:"affectedStudents"`
	CurrentGrantID          *string               `json:"currentGrantId,omitempty"`
}

// ProcessTransitionRequest assigns, renews, upgrades or downgrades a plan.
type ProcessTransitionRequest struct {
	TrainerID          string  `json:"-" validate:"required"`
	NewPlanID          string  `json:"planId" validate:"required,uuid"`
	AuthorizedBy       string  `json:"-" validate:"required"`
	Reason             *string `json:"reason" validate:"omitempty,max=255"`
	CustomDurationDays *int    `json:"customDurationDays" validate:"omitempty,min=1,max=3650"`
	ExpectedGrantID    *string `json:"expectedGrantId" validate:"omitempty,uuid"`
}

// TransitionResult is returned once a transition has committed.
type TransitionResult struct {
	Type           models.TransitionType `json:"type"`
	Grant          models.PlanGrant      `json:"grant"`
	Plan           models.Plan           `json:"plan"`
	UnitsMinted    int                   `json:"unitsMinted"`
	Reactivated    []string              `json:"reactivated"`
	Deactivated    []string              `json:"deactivated"`
	AvailableSlots int                   `json:"availableSlots"`
}

// ManualReactivateRequest selects students to bring back after a downgrade.
type ManualReactivateRequest struct {
	StudentIDs []string `json:"studentIds" validate:"required,min=1,max=500,dive,required"`
}

// ReactivationError explains why one student in a batch was rejected.
type ReactivationError struct {
	StudentID string `json:"studentId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// ManualReactivateResult reports the outcome of a batch reactivation.
type ManualReactivateResult struct {
	ReactivatedCount int                 `json:"reactivatedCount"`
	Reactivated      []string            `json:"reactivated"`
	Errors           []ReactivationError `json:"errors"`
}
