package graph

import "time"

// DefaultTimeoutHours applies to approval nodes that do not declare a timeout
const DefaultTimeoutHours = 24.0

// NodeData is the kind-specific payload of a node. The set of variants is
// closed: only the types in this file implement it.
type NodeData interface {
	Kind() Kind
	nodeData()
}

// ApproverType selects how an approval node finds its approvers
type ApproverType string

const (
	ApproverRole ApproverType = "role"
	ApproverUser ApproverType = "user"
)

// ApproverSpec names either a role within the organization or a single user
type ApproverSpec struct {
	Type  ApproverType `json:"type"`
	Value string       `json:"value"`
}

// Predicate fields and operators understood by the condition evaluator
const (
	FieldAmount   = "amount"
	FieldCategory = "category"

	OpGT  = "gt"
	OpGTE = "gte"
	OpLT  = "lt"
	OpLTE = "lte"
	OpEQ  = "eq"
	OpNEQ = "neq"
	OpIn  = "in"
)

// Predicate is the routing condition of a condition node. Expression, when
// set, takes precedence over Field/Operator.
type Predicate struct {
	Field      string  `json:"field,omitempty"`
	Operator   string  `json:"operator,omitempty"`
	Threshold  float64 `json:"threshold,omitempty"`
	Value      string  `json:"value,omitempty"`
	Expression string  `json:"expression,omitempty"`
}

// ScopeType selects who receives a notify node's message
type ScopeType string

const (
	ScopeRequester    ScopeType = "requester"
	ScopeApprovers    ScopeType = "approvers"
	ScopeAdmins       ScopeType = "admins"
	ScopeStakeholders ScopeType = "stakeholders"
	ScopeRole         ScopeType = "role"
	ScopeUser         ScopeType = "user"
)

// RecipientScope describes the recipients of a notify node. The zero value
// means stakeholders.
type RecipientScope struct {
	Type  ScopeType `json:"type,omitempty"`
	Value string    `json:"value,omitempty"`
}

// Effective returns the scope type with the default applied
func (s RecipientScope) Effective() ScopeType {
	if s.Type == "" {
		return ScopeStakeholders
	}
	return s.Type
}

// StartData is the entry point of a graph
type StartData struct{}

// ApprovalData gates traversal on a human decision
type ApprovalData struct {
	Approver             ApproverSpec `json:"approverSpec"`
	TimeoutHours         *float64     `json:"timeoutHours,omitempty"`
	AutoApproveOnTimeout bool         `json:"autoApproveOnTimeout"`
	IsPaymentTrigger     bool         `json:"isPaymentTrigger"`
	MessageTemplate      string       `json:"messageTemplate,omitempty"`
}

// Timeout returns the declared timeout, DefaultTimeoutHours when absent.
// Negative values are clamped to zero.
func (d ApprovalData) Timeout() time.Duration {
	hours := DefaultTimeoutHours
	if d.TimeoutHours != nil {
		hours = *d.TimeoutHours
	}
	if hours < 0 {
		hours = 0
	}
	return time.Duration(hours * float64(time.Hour))
}

// ConditionData routes traversal along the matched or unmatched edge
type ConditionData struct {
	Predicate *Predicate `json:"predicate,omitempty"`
}

// NotifyData sends a message and completes immediately
type NotifyData struct {
	MessageTemplate string         `json:"messageTemplate,omitempty"`
	Scope           RecipientScope `json:"scope"`
}

// PaymentData invokes the payment processor
type PaymentData struct{}

// EndData completes the instance
type EndData struct{}

func (StartData) Kind() Kind     { return KindStart }
func (ApprovalData) Kind() Kind  { return KindApproval }
func (ConditionData) Kind() Kind { return KindCondition }
func (NotifyData) Kind() Kind    { return KindNotify }
func (PaymentData) Kind() Kind   { return KindPayment }
func (EndData) Kind() Kind       { return KindEnd }

func (StartData) nodeData()     {}
func (ApprovalData) nodeData()  {}
func (ConditionData) nodeData() {}
func (NotifyData) nodeData()    {}
func (PaymentData) nodeData()   {}
func (EndData) nodeData()       {}

// Hours is a convenience for building ApprovalData literals
func Hours(h float64) *float64 {
	return &h
}
