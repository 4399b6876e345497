package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlanCategory separates free tiers from paid ones.
type PlanCategory string

const (
	PlanCategoryFree PlanCategory = "free"
	PlanCategoryPaid PlanCategory = "paid"
)

// Plan is a catalogue entry. Plans are never mutated once created; pricing
// changes produce a new plan.
type Plan struct {
	ID           string          `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	StudentLimit int             `db:"student_limit" json:"student_limit"`
	ValidityDays int             `db:"validity_days" json:"validity_days"`
	Price        decimal.Decimal `db:"price" json:"price"`
	Currency     string          `db:"currency" json:"currency"`
	Category     PlanCategory    `db:"category" json:"category"`
	Active       bool            `db:"active" json:"active"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
