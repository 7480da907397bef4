package entity

import "time"

// Payment request status constants
const (
	PaymentStatusSubmitted     = "SUBMITTED"
	PaymentStatusInApproval    = "IN_APPROVAL"
	PaymentStatusApproved      = "APPROVED"
	PaymentStatusRejected      = "REJECTED"
	PaymentStatusPaid          = "PAID"
	PaymentStatusPaymentFailed = "PAYMENT_FAILED"
)

// PaymentRequest is the live record a workflow instance is approving
type PaymentRequest struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	RequesterID string    `json:"requester_id"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PaymentResult is the outcome reported by a payment processor
type PaymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
}
