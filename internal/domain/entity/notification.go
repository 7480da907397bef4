package entity

import "time"

// Notification status constants
const (
	NotificationStatusSent   = "SENT"
	NotificationStatusFailed = "FAILED"
)

// NotificationRecord is the delivery outcome of one message to one recipient
type NotificationRecord struct {
	ID           int64     `json:"id"`
	InstanceID   string    `json:"instance_id"`
	NodeID       string    `json:"node_id,omitempty"`
	Intent       string    `json:"intent"`
	RecipientID  string    `json:"recipient_id"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
