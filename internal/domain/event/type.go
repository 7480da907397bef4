package event

// Type identifies the type of domain event
type Type string

const (
	TypeInstanceStarted       Type = "instance.started"
	TypeInstanceCompleted     Type = "instance.completed"
	TypeInstanceFailed        Type = "instance.failed"
	TypeNodeStatusChanged     Type = "node.status_changed"
	TypeApprovalRequested     Type = "approval.requested"
	TypeApprovalResolved      Type = "approval.resolved"
	TypeReminderSent          Type = "reminder.sent"
	TypePaymentProcessed      Type = "payment.processed"
	TypeNotificationDelivered Type = "notification.delivered"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeInstanceStarted,
		TypeInstanceCompleted,
		TypeInstanceFailed,
		TypeNodeStatusChanged,
		TypeApprovalRequested,
		TypeApprovalResolved,
		TypeReminderSent,
		TypePaymentProcessed,
		TypeNotificationDelivered:
		return true
	default:
		return false
	}
}
