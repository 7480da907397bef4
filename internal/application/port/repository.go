package port

import (
	"context"

	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/graph"
)

// Repositories return (nil, nil) when a record does not exist.

// InstanceRepository persists workflow instances as whole documents
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	Save(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*entity.WorkflowInstance, error)
	List(ctx context.Context, filter entity.InstanceFilter) ([]*entity.WorkflowInstance, error)
}

// GraphRepository stores workflow graph definitions
type GraphRepository interface {
	Save(ctx context.Context, g *graph.Graph) error
	GetByID(ctx context.Context, id string) (*graph.Graph, error)
	// SaveRevision stores the definition an instance runs against. A ref that
	// is already stored is never overwritten.
	SaveRevision(ctx context.Context, ref string, g *graph.Graph) error
	GetRevision(ctx context.Context, ref string) (*graph.Graph, error)
}

// PaymentRequestRepository defines persistence operations for PaymentRequest
type PaymentRequestRepository interface {
	Create(ctx context.Context, req *entity.PaymentRequest) error
	GetByID(ctx context.Context, id string) (*entity.PaymentRequest, error)
	UpdateStatus(ctx context.Context, id string, status string) error
}

// UserDirectory is the identity collaborator used to resolve approvers and recipients
type UserDirectory interface {
	Upsert(ctx context.Context, user *entity.User) error
	GetByID(ctx context.Context, id string) (*entity.User, error)
	ListByRole(ctx context.Context, orgID, role string) ([]*entity.User, error)
}

// OrganizationRepository defines persistence operations for Organization
type OrganizationRepository interface {
	Upsert(ctx context.Context, org *entity.Organization) error
	GetByID(ctx context.Context, id string) (*entity.Organization, error)
}

// HistoryRepository defines persistence operations for ApprovalHistory
type HistoryRepository interface {
	Create(ctx context.Context, history *entity.ApprovalHistory) error
	GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.ApprovalHistory, error)
}

// NotificationRepository records notification delivery outcomes
type NotificationRepository interface {
	Create(ctx context.Context, record *entity.NotificationRecord) error
	GetByInstanceID(ctx context.Context, instanceID string) ([]*entity.NotificationRecord, error)
}

// TimerRepository keeps armed timers so they survive a restart
type TimerRepository interface {
	Upsert(ctx context.Context, timer *entity.TimerRecord) error
	Delete(ctx context.Context, instanceID, nodeID string) error
	List(ctx context.Context) ([]*entity.TimerRecord, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
