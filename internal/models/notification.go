package models

import "time"

// NotificationKind enumerates the hooks the engine fires.
type NotificationKind string

const (
	NotificationWarning     NotificationKind = "warning"
	NotificationExpired     NotificationKind = "expired"
	NotificationReactivated NotificationKind = "reactivated"
)

// Notification is handed to the delivery collaborator. Delivery is best effort.
type Notification struct {
	ID        string                 `json:"id"`
	TrainerID string                 `json:"trainer_id"`
	StudentID *string                `json:"student_id,omitempty"`
	Kind      NotificationKind       `json:"kind"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
