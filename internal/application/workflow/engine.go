package workflow

import (
	"context"

	"github.com/garyjia/payment-approval/internal/application/notify"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/graph"
)

// WorkflowEngine drives payment requests through workflow graphs
type WorkflowEngine interface {
	// StartWorkflow validates the graph, creates an instance and runs it until
	// it reaches an approval gate or a terminal state
	StartWorkflow(ctx context.Context, g *graph.Graph, req *entity.PaymentRequest, requester *entity.User, org *entity.Organization) (*entity.WorkflowInstance, error)

	// ProcessApprovalDecision resolves a running approval node at most once
	ProcessApprovalDecision(ctx context.Context, instanceID, nodeID string, approved bool, decidedBy, comments string) (*entity.WorkflowInstance, error)

	// GetInstance returns a read-only snapshot of an instance
	GetInstance(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error)

	// ListInstances returns snapshots of the instances matching filter
	ListInstances(ctx context.Context, filter entity.InstanceFilter) ([]*entity.WorkflowInstance, error)

	// RecoverTimers re-arms persisted timers of running approval nodes and
	// returns how many were armed
	RecoverTimers(ctx context.Context) (int, error)
}

// ApproverResolver resolves approver specs and user ids into users
type ApproverResolver interface {
	Resolve(ctx context.Context, spec graph.ApproverSpec, orgID string) ([]*entity.User, error)
	ResolveIDs(ctx context.Context, ids []string) ([]*entity.User, error)
}

// ConditionEvaluator decides which branch a condition node takes
type ConditionEvaluator interface {
	Evaluate(p *graph.Predicate, snap entity.PaymentSnapshot) (bool, error)
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// Notifier fans a notification out to recipients without failing the caller
type Notifier interface {
	Dispatch(ctx context.Context, n port.Notification, recipients []*entity.User) notify.DeliveryReport
}
