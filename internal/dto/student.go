package dto

import "github.com/noah-isme/coachdesk-api/internal/models"

// CreateStudentRequest adds a student to the caller's roster.
type CreateStudentRequest struct {
	FullName string  `json:"fullName" validate:"required,max=160"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Phone    *string `json:"phone" validate:"omitempty,max=32"`
	Activate bool    `json:"activate"`
}

// StudentResponse pairs a student with the assignment made for it, if any.
type StudentResponse struct {
	Student    models.Student    `json:"student"`
	Assignment *AssignmentResult `json:"assignment,omitempty"`
}
