package entity

import "time"

// History action types
const (
	ActionInstanceStarted   = "INSTANCE_STARTED"
	ActionNodeStatusChanged = "NODE_STATUS_CHANGED"
	ActionApprovalDecision  = "APPROVAL_DECISION"
	ActionAutoApproval      = "AUTO_APPROVAL"
	ActionReminderSent      = "REMINDER_SENT"
	ActionPayment           = "PAYMENT"
	ActionInstanceCompleted = "INSTANCE_COMPLETED"
	ActionInstanceFailed    = "INSTANCE_FAILED"
)

// ApprovalHistory represents the audit trail of a workflow instance
type ApprovalHistory struct {
	ID             int64     `json:"id"`
	InstanceID     string    `json:"instance_id"`
	NodeID         string    `json:"node_id,omitempty"`
	ActorID        string    `json:"actor_id,omitempty"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	ActionType     string    `json:"action_type"`
	ActionData     string    `json:"action_data,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
