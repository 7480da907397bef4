package port

import (
	"context"

	"github.com/garyjia/payment-approval/internal/domain/entity"
)

// Intent is the purpose of a notification
type Intent string

const (
	IntentApprovalRequest Intent = "approval_request"
	IntentStatusUpdate    Intent = "status_update"
	IntentReminder        Intent = "reminder"
	IntentFinalStatus     Intent = "final_status"
)

// Notification is a rendered message ready for delivery
type Notification struct {
	Intent     Intent
	InstanceID string
	NodeID     string
	Subject    string
	Body       string
}

// NotificationSender delivers one notification to one recipient. The engine
// only observes success or failure.
type NotificationSender interface {
	Send(ctx context.Context, recipient *entity.User, n Notification) error
}

// PaymentProcessor moves funds for an approved payment request. A nil error
// with Success=false is a declined payment.
type PaymentProcessor interface {
	Process(ctx context.Context, req *entity.PaymentRequest) (*entity.PaymentResult, error)
}
