package models

import "time"

// ExpirationStatus is the time-derived state of a grant or unit.
type ExpirationStatus string

const (
	ExpirationActive   ExpirationStatus = "active"
	ExpirationExpiring ExpirationStatus = "expiring"
	ExpirationExpired  ExpirationStatus = "expired"
	ExpirationInactive ExpirationStatus = "inactive"
)

// PlanGrant ties a trainer to a plan for a bounded period. At most one grant
// per trainer has Active set.
type PlanGrant struct {
	ID                string           `db:"id" json:"id"`
	TrainerID         string           `db:"trainer_id" json:"trainer_id"`
	PlanID            string           `db:"plan_id" json:"plan_id"`
	StartsAt          time.Time        `db:"starts_at" json:"starts_at"`
	ExpiresAt         time.Time        `db:"expires_at" json:"expires_at"`
	Active            bool             `db:"active" json:"active"`
	Status            ExpirationStatus `db:"status" json:"status"`
	AuthorizedBy      string           `db:"authorized_by" json:"authorized_by"`
	Reason            *string          `db:"reason" json:"reason,omitempty"`
	WarningNotifiedAt *time.Time       `db:"warning_notified_at" json:"warning_notified_at,omitempty"`
	ExpiredNotifiedAt *time.Time       `db:"expired_notified_at" json:"expired_notified_at,omitempty"`
	SupersededAt      *time.Time       `db:"superseded_at" json:"superseded_at,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
}
