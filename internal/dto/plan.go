package dto

import "github.com/noah-isme/coachdesk-api/internal/models"

// CreatePlanRequest adds a catalogue entry. Price is a decimal string.
type CreatePlanRequest struct {
	Name         string              `json:"name" validate:"required,max=120"`
	StudentLimit int                 `json:"studentLimit" validate:"min=0,max=10000"`
	ValidityDays int                 `json:"validityDays" validate:"required,min=1,max=3650"`
	Price        string              `json:"price" validate:"required,numeric"`
	Currency     string              `json:"currency" validate:"omitempty,len=3,alpha"`
	Category     models.PlanCategory `json:"category" validate:"required,oneof=free paid"`
}
