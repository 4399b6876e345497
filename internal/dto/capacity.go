package dto

import (
	"time"

	"github.com/noah-isme/coachdesk-api/internal/models"
)

// Reason codes attached to an empty ledger.
const (
	CapacityReasonNoActivePlan = "no_active_plan"
	CapacityReasonNoCapacity   = "no_capacity"
)

// CapacityBreakdown itemises how the available count was computed.
type CapacityBreakdown struct {
	PlanLimit       int  `json:"planLimit"`
	PlanUsable      bool `json:"planUsable"`
	PlanBound       int  `json:"planBound"`
	PlanHeadroom    int  `json:"planHeadroom"`
	StandaloneTotal int  `json:"standaloneTotal"`
	StandaloneBound int  `json:"standaloneBound"`
	StandaloneFree  int  `json:"standaloneFree"`
	BoundTotal      int  `json:"boundTotal"`
}

// AvailableSlots is the ledger answer for a trainer.
type AvailableSlots struct {
	Count     int               `json:"count"`
	Breakdown CapacityBreakdown `json:"breakdown"`
	Reason    string            `json:"reason,omitempty"`
}

// CapacityStatus is the dashboard view of a trainer's capacity.
type CapacityStatus struct {
	PlanName       *string                  `json:"planName"`
	PlanID         *string                  `json:"planId,omitempty"`
	GrantExpiresAt *time.Time               `json:"grantExpiresAt,omitempty"`
	GrantStatus    *models.ExpirationStatus `json:"grantStatus,omitempty"`
	Limit          int                      `json:"limit"`
	ActiveStudents int                      `json:"activeStudents"`
	AvailableSlots int                      `json:"availableSlots"`
	PercentUsed    float64                  `json:"percentUsed"`
	Breakdown      CapacityBreakdown        `json:"breakdown"`
	Reason         string                   `json:"reason,omitempty"`
}

// AssignmentResult reports which unit backs an activated student.
type AssignmentResult struct {
	StudentID     string          `json:"studentId"`
	UnitID        string          `json:"unitId"`
	Kind          models.UnitKind `json:"kind"`
	Reused        bool            `json:"reused"`
	AlreadyActive bool            `json:"alreadyActive"`
}

// IssueUnitsRequest issues standalone units after an external purchase.
type IssueUnitsRequest struct {
	Quantity     int     `json:"quantity" validate:"required,min=1,max=100"`
	ValidityDays int     `json:"validityDays" validate:"required,min=1,max=3650"`
	Reason       *string `json:"reason" validate:"omitempty,max=255"`
}

// ReleaseUnitRequest carries an optional note for an administrative release.
type ReleaseUnitRequest struct {
	Reason *string `json:"reason" validate:"omitempty,max=255"`
}

// SweepError describes one grant or unit the sweep could not process.
type SweepError struct {
	Kind    string `json:"kind"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

// SweepReport summarises one expiration sweep.
type SweepReport struct {
	StartedAt           time.Time    `json:"startedAt"`
	FinishedAt          time.Time    `json:"finishedAt"`
	GrantsScanned       int          `json:"grantsScanned"`
	UnitsScanned        int          `json:"unitsScanned"`
	StatusChanges       int          `json:"statusChanges"`
	StudentsDeactivated int          `json:"studentsDeactivated"`
	GrantsExpired       int          `json:"grantsExpired"`
	UnitsExpired        int          `json:"unitsExpired"`
	NotificationsSent   int          `json:"notificationsSent"`
	Errors              []SweepError `json:"errors,omitempty"`
}
