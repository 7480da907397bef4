package entity

import (
	"time"

	"github.com/garyjia/payment-approval/internal/domain/workflow"
)

// Node results recorded on NodeState.Result
const (
	ResultApproved      = "approved"
	ResultRejected      = "rejected"
	ResultMatched       = "matched"
	ResultUnmatched     = "unmatched"
	ResultPaid          = "paid"
	ResultPaymentFailed = "payment_failed"
	ResultNotified      = "notified"
)

// WorkflowInstance is one execution of a workflow graph against one payment request
type WorkflowInstance struct {
	ID               string                `json:"id"`
	GraphID          string                `json:"graph_id,omitempty"`
	GraphRef         string                `json:"graph_ref"`
	PaymentRequestID string                `json:"payment_request_id"`
	OrgID            string                `json:"org_id"`
	Status           workflow.State        `json:"status"`
	NodeStates       map[string]*NodeState `json:"node_states"`
	ActiveNodeIDs    []string              `json:"active_node_ids"`
	Metadata         InstanceMetadata      `json:"metadata"`
	FailureReason    string                `json:"failure_reason,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
	CompletedAt      *time.Time            `json:"completed_at,omitempty"`
}

// NodeState is the per-instance state of one graph node
type NodeState struct {
	Status        workflow.State `json:"status"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	DecidedBy     string         `json:"decided_by,omitempty"`
	Comments      string         `json:"comments,omitempty"`
	Result        string         `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	Assignees     []string       `json:"assignees,omitempty"`
	RemindersSent int            `json:"reminders_sent,omitempty"`
}

// InstanceMetadata is a snapshot of the payment request and its parties taken
// when the instance starts. Later edits to the live records do not affect it.
type InstanceMetadata struct {
	RequesterID      string   `json:"requester_id"`
	RequesterName    string   `json:"requester_name"`
	OrganizationName string   `json:"organization_name"`
	AdminIDs         []string `json:"admin_ids,omitempty"`
	Amount           float64  `json:"amount"`
	Currency         string   `json:"currency"`
	Category         string   `json:"category"`
	Description      string   `json:"description,omitempty"`
}

// PaymentSnapshot is the view of a payment request used for routing decisions
type PaymentSnapshot struct {
	Amount      float64
	Currency    string
	Category    string
	OrgID       string
	RequesterID string
}

// IsTerminal returns true once the instance has completed or failed
func (i *WorkflowInstance) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// Node returns the state of the given node, nil if the graph has no such node
func (i *WorkflowInstance) Node(nodeID string) *NodeState {
	return i.NodeStates[nodeID]
}

// IsActive returns true if the node is currently running
func (i *WorkflowInstance) IsActive(nodeID string) bool {
	for _, id := range i.ActiveNodeIDs {
		if id == nodeID {
			return true
		}
	}
	return false
}

// SetActive adds or removes a node from the active set
func (i *WorkflowInstance) SetActive(nodeID string, active bool) {
	if active {
		if !i.IsActive(nodeID) {
			i.ActiveNodeIDs = append(i.ActiveNodeIDs, nodeID)
		}
		return
	}
	for idx, id := range i.ActiveNodeIDs {
		if id == nodeID {
			i.ActiveNodeIDs = append(i.ActiveNodeIDs[:idx], i.ActiveNodeIDs[idx+1:]...)
			return
		}
	}
}

// Snapshot returns the routing view of the payment request
func (i *WorkflowInstance) Snapshot() PaymentSnapshot {
	return PaymentSnapshot{
		Amount:      i.Metadata.Amount,
		Currency:    i.Metadata.Currency,
		Category:    i.Metadata.Category,
		OrgID:       i.OrgID,
		RequesterID: i.Metadata.RequesterID,
	}
}

// Clone returns a deep copy that shares no mutable state with i
func (i *WorkflowInstance) Clone() *WorkflowInstance {
	if i == nil {
		return nil
	}
	c := *i
	c.NodeStates = make(map[string]*NodeState, len(i.NodeStates))
	for id, ns := range i.NodeStates {
		c.NodeStates[id] = ns.Clone()
	}
	c.ActiveNodeIDs = append([]string(nil), i.ActiveNodeIDs...)
	c.Metadata.AdminIDs = append([]string(nil), i.Metadata.AdminIDs...)
	c.CompletedAt = cloneTime(i.CompletedAt)
	return &c
}

// Clone returns a deep copy of the node state
func (n *NodeState) Clone() *NodeState {
	if n == nil {
		return nil
	}
	c := *n
	c.StartedAt = cloneTime(n.StartedAt)
	c.CompletedAt = cloneTime(n.CompletedAt)
	c.Assignees = append([]string(nil), n.Assignees...)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// InstanceFilter narrows instance listings. Empty fields match everything.
type InstanceFilter struct {
	OrgID            string
	Status           workflow.State
	PaymentRequestID string
	Limit            int
}
