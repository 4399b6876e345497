package models

import "time"

// UnitKind is the persisted discriminator of a capacity unit.
type UnitKind string

const (
	UnitKindPlan       UnitKind = "plan"
	UnitKindStandalone UnitKind = "standalone"
)

// CapacityUnit is one seat a trainer can bind to a student. A bound unit
// stays bound until it expires or an administrator releases it.
type CapacityUnit struct {
	ID                string           `db:"id" json:"id"`
	Kind              UnitKind         `db:"kind" json:"kind"`
	TrainerID         string           `db:"trainer_id" json:"trainer_id"`
	GrantID           *string          `db:"grant_id" json:"grant_id,omitempty"`
	StudentID         *string          `db:"student_id" json:"student_id,omitempty"`
	ExpiresAt         time.Time        `db:"expires_at" json:"expires_at"`
	Active            bool             `db:"active" json:"active"`
	Status            ExpirationStatus `db:"status" json:"status"`
	AssignedAt        *time.Time       `db:"assigned_at" json:"assigned_at,omitempty"`
	IssuedBy          string           `db:"issued_by" json:"issued_by"`
	Reason            *string          `db:"reason" json:"reason,omitempty"`
	ReleasedAt        *time.Time       `db:"released_at" json:"released_at,omitempty"`
	ReleasedBy        *string          `db:"released_by" json:"released_by,omitempty"`
	WarningNotifiedAt *time.Time       `db:"warning_notified_at" json:"warning_notified_at,omitempty"`
	ExpiredNotifiedAt *time.Time       `db:"expired_notified_at" json:"expired_notified_at,omitempty"`
	CreatedAt         time.Time        `db:"created_at" json:"created_at"`
}

// Bound reports whether a student holds the unit.
func (u CapacityUnit) Bound() bool {
	return u.StudentID != nil
}

// BoundTo reports whether the unit is held by studentID.
func (u CapacityUnit) BoundTo(studentID string) bool {
	return u.StudentID != nil && *u.StudentID == studentID
}

// UnitVariant is the closed set of unit shapes. Switches over it are
// expected to handle PlanBoundUnit and StandaloneUnit and nothing else.
type UnitVariant interface {
	unitVariant()
}

// PlanBoundUnit is minted together with a plan grant and dies with it.
type PlanBoundUnit struct {
	GrantID string
}

// StandaloneUnit is issued individually and carries its own expiry.
type StandaloneUnit struct{}

func (PlanBoundUnit) unitVariant()  {}
func (StandaloneUnit) unitVariant() {}

// Variant decodes the persisted kind. It returns nil for rows that violate
// the kind/grant constraint.
func (u CapacityUnit) Variant() UnitVariant {
	switch u.Kind {
	case UnitKindPlan:
		if u.GrantID == nil {
			return nil
		}
		return PlanBoundUnit{GrantID: *u.GrantID}
	case UnitKindStandalone:
		return StandaloneUnit{}
	default:
		return nil
	}
}
