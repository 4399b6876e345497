package models

import "time"

// StudentStatus is the activation state of a student.
type StudentStatus string

const (
	StudentActive   StudentStatus = "active"
	StudentInactive StudentStatus = "inactive"
)

// Student is a trainee managed by a trainer. Status only changes through the
// capacity engine.
type Student struct {
	ID             string        `db:"id" json:"id"`
	TrainerID      string        `db:"trainer_id" json:"trainer_id"`
	FullName       string        `db:"full_name" json:"full_name"`
	Email          *string       `db:"email" json:"email,omitempty"`
	Phone          *string       `db:"phone" json:"phone,omitempty"`
	Status         StudentStatus `db:"status" json:"status"`
	CapacityUnitID *string       `db:"capacity_unit_id" json:"capacity_unit_id,omitempty"`
	ActivatedAt    *time.Time    `db:"activated_at" json:"activated_at,omitempty"`
	DeactivatedAt  *time.Time    `db:"deactivated_at" json:"deactivated_at,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// StudentFilter narrows roster listings.
type StudentFilter struct {
	TrainerID string
	Status    StudentStatus
	Search    string
	Page      int
	PageSize  int
}
