package models

import "time"

// TransitionType classifies a plan change.
type TransitionType string

const (
	TransitionFirstTime TransitionType = "first_time"
	TransitionRenewal   TransitionType = "renewal"
	TransitionUpgrade   TransitionType = "upgrade"
	TransitionDowngrade TransitionType = "downgrade"
)

// TransitionEvent is the direction of a recorded status move.
type TransitionEvent string

const (
	EventDeactivated TransitionEvent = "deactivated"
	EventReactivated TransitionEvent = "reactivated"
)

// TransitionReason explains why a student changed state.
type TransitionReason string

const (
	ReasonPlanExpired        TransitionReason = "plan_expired"
	ReasonManualDeactivation TransitionReason = "manual_deactivation"
	ReasonPlanChanged        TransitionReason = "plan_changed"
	ReasonTokenExpired       TransitionReason = "token_expired"
)

// TransitionRecord is an append-only audit row. Every field is fixed at
// insert time.
type TransitionRecord struct {
	ID               string           `db:"id" json:"id"`
	TrainerID        string           `db:"trainer_id" json:"trainer_id"`
	StudentID        string           `db:"student_id" json:"student_id"`
	GrantID          *string          `db:"grant_id" json:"grant_id,omitempty"`
	CapacityUnitID   *string          `db:"capacity_unit_id" json:"capacity_unit_id,omitempty"`
	Event            TransitionEvent  `db:"event" json:"event"`
	Reason           TransitionReason `db:"reason" json:"reason"`
	TransitionType   *TransitionType  `db:"transition_type" json:"transition_type,omitempty"`
	WasActive        bool             `db:"was_active" json:"was_active"`
	CanBeReactivated bool             `db:"can_be_reactivated" json:"can_be_reactivated"`
	ActivatedAt      *time.Time       `db:"activated_at" json:"activated_at,omitempty"`
	DeactivatedAt    *time.Time       `db:"deactivated_at" json:"deactivated_at,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
}

// TransitionHistoryEntry is a record joined with the student's display name.
type TransitionHistoryEntry struct {
	TransitionRecord
	StudentName string `db:"student_name" json:"student_name"`
}

// TransitionHistoryFilter narrows history listings.
type TransitionHistoryFilter struct {
	TrainerID string
	StudentID string
	Reason    TransitionReason
	Event     TransitionEvent
	Page      int
	PageSize  int
}
