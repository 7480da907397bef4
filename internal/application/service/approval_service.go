package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/application/workflow"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/graph"
	"github.com/garyjia/payment-approval/pkg/utils"
)

var (
	// ErrInvalidInput is returned when a request is missing required fields
	ErrInvalidInput = errors.New("invalid input")

	// ErrPaymentRequestNotFound is returned when no payment request has the given id
	ErrPaymentRequestNotFound = errors.New("payment request not found")

	// ErrRequestNotSubmitted is returned when a payment request already entered approval
	ErrRequestNotSubmitted = errors.New("payment request is not awaiting approval")

	// ErrRequesterNotFound is returned when the requester is unknown or inactive
	ErrRequesterNotFound = errors.New("requester not found")
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HistoryExporter renders an instance and its audit trail as a document
type HistoryExporter interface {
	Export(inst *entity.WorkflowInstance, history []*entity.ApprovalHistory, notifications []*entity.NotificationRecord) ([]byte, error)
}

// ApprovalService is the entry point for callers outside the engine: it
// loads the people and records a workflow needs and hands them to the engine
type ApprovalService interface {
	RegisterOrganization(ctx context.Context, org *entity.Organization) (*entity.Organization, error)
	RegisterUser(ctx context.Context, user *entity.User) (*entity.User, error)
	CreatePaymentRequest(ctx context.Context, req *entity.PaymentRequest) (*entity.PaymentRequest, error)
	GetPaymentRequest(ctx context.Context, id string) (*entity.PaymentRequest, error)
	SaveGraph(ctx context.Context, g *graph.Graph) (*graph.Graph, error)
	StartForPaymentRequest(ctx context.Context, g *graph.Graph, paymentRequestID string) (*entity.WorkflowInstance, error)
	StartWithStoredGraph(ctx context.Context, graphID, paymentRequestID string) (*entity.WorkflowInstance, error)
	Decide(ctx context.Context, instanceID, nodeID string, approved bool, decidedBy, comments string) (*entity.WorkflowInstance, error)
	GetInstance(ctx context.Context, id string) (*entity.WorkflowInstance, error)
	ListInstances(ctx context.Context, filter entity.InstanceFilter) ([]*entity.WorkflowInstance, error)
	History(ctx context.Context, instanceID string) ([]*entity.ApprovalHistory, error)
	Notifications(ctx context.Context, instanceID string) ([]*entity.NotificationRecord, error)
	ExportHistory(ctx context.Context, instanceID string) ([]byte, error)
}

// Deps are the collaborators of the approval service
type Deps struct {
	Engine          workflow.WorkflowEngine
	PaymentRequests port.PaymentRequestRepository
	Users           port.UserDirectory
	Organizations   port.OrganizationRepository
	Graphs          port.GraphRepository
	History         port.HistoryRepository
	Notifications   port.NotificationRepository
	Exporter        HistoryExporter
}

type approvalServiceImpl struct {
	engine      workflow.WorkflowEngine
	requestRepo port.PaymentRequestRepository
	users       port.UserDirectory
	orgRepo     port.OrganizationRepository
	graphRepo   port.GraphRepository
	historyRepo port.HistoryRepository
	notifyRepo  port.NotificationRepository
	exporter    HistoryExporter
	logger      Logger
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(deps Deps, logger Logger) ApprovalService {
	return &approvalServiceImpl{
		engine:      deps.Engine,
		requestRepo: deps.PaymentRequests,
		users:       deps.Users,
		orgRepo:     deps.Organizations,
		graphRepo:   deps.Graphs,
		historyRepo: deps.History,
		notifyRepo:  deps.Notifications,
		exporter:    deps.Exporter,
		logger:      logger,
	}
}

// RegisterOrganization creates or replaces an organization
func (s *approvalServiceImpl) RegisterOrganization(ctx context.Context, org *entity.Organization) (*entity.Organization, error) {
	if org == nil || strings.TrimSpace(org.ID) == "" || strings.TrimSpace(org.Name) == "" {
		return nil, fmt.Errorf("%w: organization id and name are required", ErrInvalidInput)
	}
	stored := *org
	stored.AdminUserIDs = append([]string(nil), org.AdminUserIDs...)
	if err := s.orgRepo.Upsert(ctx, &stored); err != nil {
		s.logger.Error("Failed to save organization", "error", err, "org_id", org.ID)
		return nil, fmt.Errorf("save organization: %w", err)
	}
	s.logger.Info("Organization registered", "org_id", stored.ID, "admins", len(stored.AdminUserIDs))
	return &stored, nil
}

// RegisterUser creates or replaces a user of an existing organization
func (s *approvalServiceImpl) RegisterUser(ctx context.Context, user *entity.User) (*entity.User, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" || strings.TrimSpace(user.OrgID) == "" {
		return nil, fmt.Errorf("%w: user id and org_id are required", ErrInvalidInput)
	}
	org, err := s.orgRepo.GetByID(ctx, user.OrgID)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	if org == nil {
		return nil, fmt.Errorf("%w: unknown organization %s", ErrInvalidInput, user.OrgID)
	}

	if user.Email != "" {
		if err := utils.ValidateEmail(user.Email); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	stored := *user
	if err := s.users.Upsert(ctx, &stored); err != nil {
		s.logger.Error("Failed to save user", "error", err, "user_id", user.ID)
		return nil, fmt.Errorf("save user: %w", err)
	}
	s.logger.Info("User registered", "user_id", stored.ID, "org_id", stored.OrgID, "role", stored.Role)
	return &stored, nil
}

// CreatePaymentRequest stores a new payment request in SUBMITTED state
func (s *approvalServiceImpl) CreatePaymentRequest(ctx context.Context, req *entity.PaymentRequest) (*entity.PaymentRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: payment request is required", ErrInvalidInput)
	}
	if req.OrgID == "" || req.RequesterID == "" {
		return nil, fmt.Errorf("%w: org_id and requester_id are required", ErrInvalidInput)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}

	requester, err := s.users.GetByID(ctx, req.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("get requester: %w", err)
	}
	if requester == nil || !requester.Active || requester.OrgID != req.OrgID {
		return nil, fmt.Errorf("%w: %s", ErrRequesterNotFound, req.RequesterID)
	}

	now := time.Now()
	created := *req
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	created.Currency = strings.ToUpper(strings.TrimSpace(created.Currency))
	if err := utils.ValidateCurrency(created.Currency); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	created.Description = utils.SanitizeString(created.Description)
	created.Status = entity.PaymentStatusSubmitted
	created.CreatedAt = now
	created.UpdatedAt = now

	if err := s.requestRepo.Create(ctx, &created); err != nil {
		s.logger.Error("Failed to create payment request", "error", err, "requester_id", req.RequesterID)
		return nil, fmt.Errorf("create payment request: %w", err)
	}

	s.logger.Info("Payment request created",
		"id", created.ID,
		"org_id", created.OrgID,
		"amount", created.Amount,
		"currency", created.Currency,
	)
	return &created, nil
}

// GetPaymentRequest retrieves a payment request by ID
func (s *approvalServiceImpl) GetPaymentRequest(ctx context.Context, id string) (*entity.PaymentRequest, error) {
	req, err := s.requestRepo.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get payment request", "error", err, "id", id)
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: %s", ErrPaymentRequestNotFound, id)
	}
	return req, nil
}

// SaveGraph validates and stores a graph definition for later use
func (s *approvalServiceImpl) SaveGraph(ctx context.Context, g *graph.Graph) (*graph.Graph, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if s.graphRepo == nil {
		return nil, fmt.Errorf("%w: graph storage is not configured", ErrInvalidInput)
	}

	stored := *g
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if err := s.graphRepo.Save(ctx, &stored); err != nil {
		s.logger.Error("Failed to save graph", "error", err, "graph_id", stored.ID)
		return nil, fmt.Errorf("save graph: %w", err)
	}

	s.logger.Info("Graph saved", "graph_id", stored.ID, "nodes", len(stored.Nodes), "edges", len(stored.Edges))
	return &stored, nil
}

// StartForPaymentRequest starts the graph for a submitted payment request
func (s *approvalServiceImpl) StartForPaymentRequest(ctx context.Context, g *graph.Graph, paymentRequestID string) (*entity.WorkflowInstance, error) {
	req, err := s.GetPaymentRequest(ctx, paymentRequestID)
	if err != nil {
		return nil, err
	}
	if req.Status != entity.PaymentStatusSubmitted {
		return nil, fmt.Errorf("%w: %s is %s", ErrRequestNotSubmitted, req.ID, req.Status)
	}

	requester, err := s.users.GetByID(ctx, req.RequesterID)
	if err != nil {
		return nil, fmt.Errorf("get requester: %w", err)
	}
	org, err := s.orgRepo.GetByID(ctx, req.OrgID)
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}

	inst, err := s.engine.StartWorkflow(ctx, g, req, requester, org)
	if err != nil {
		s.logger.Error("Failed to start workflow", "error", err, "payment_request_id", paymentRequestID)
		return nil, err
	}

	s.logger.Info("Workflow started for payment request",
		"instance_id", inst.ID,
		"payment_request_id", paymentRequestID,
		"status", inst.Status,
	)
	return inst, nil
}

// StartWithStoredGraph starts a graph previously stored with SaveGraph
func (s *approvalServiceImpl) StartWithStoredGraph(ctx context.Context, graphID, paymentRequestID string) (*entity.WorkflowInstance, error) {
	if s.graphRepo == nil {
		return nil, fmt.Errorf("%w: graph storage is not configured", ErrInvalidInput)
	}
	g, err := s.graphRepo.GetByID(ctx, graphID)
	if err != nil {
		return nil, fmt.Errorf("get graph: %w", err)
	}
	if g == nil {
		return nil, fmt.Errorf("%w: %s", workflow.ErrGraphNotFound, graphID)
	}
	return s.StartForPaymentRequest(ctx, g, paymentRequestID)
}

// Decide records an approver's decision
func (s *approvalServiceImpl) Decide(ctx context.Context, instanceID, nodeID string, approved bool, decidedBy, comments string) (*entity.WorkflowInstance, error) {
	if strings.TrimSpace(decidedBy) == "" {
		return nil, fmt.Errorf("%w: decided_by is required", ErrInvalidInput)
	}

	inst, err := s.engine.ProcessApprovalDecision(ctx, instanceID, nodeID, approved, decidedBy, utils.SanitizeString(comments))
	if err != nil {
		if errors.Is(err, workflow.ErrNodeAlreadyResolved) {
			s.logger.Info("Decision arrived after the node was resolved", "instance_id", instanceID, "node_id", nodeID, "decided_by", decidedBy)
		} else {
			s.logger.Error("Failed to process decision", "error", err, "instance_id", instanceID, "node_id", nodeID)
		}
		return nil, err
	}

	s.logger.Info("Decision processed",
		"instance_id", instanceID,
		"node_id", nodeID,
		"approved", approved,
		"decided_by", decidedBy,
		"status", inst.Status,
	)
	return inst, nil
}

// GetInstance retrieves an instance by ID
func (s *approvalServiceImpl) GetInstance(ctx context.Context, id string) (*entity.WorkflowInstance, error) {
	inst, err := s.engine.GetInstance(ctx, id)
	if err != nil {
		if !errors.Is(err, workflow.ErrInstanceNotFound) {
			s.logger.Error("Failed to get instance", "error", err, "id", id)
		}
		return nil, err
	}
	return inst, nil
}

// ListInstances retrieves instances matching filter
func (s *approvalServiceImpl) ListInstances(ctx context.Context, filter entity.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	instances, err := s.engine.ListInstances(ctx, filter)
	if err != nil {
		s.logger.Error("Failed to list instances", "error", err, "org_id", filter.OrgID, "status", filter.Status)
		return nil, err
	}
	return instances, nil
}

// History returns the audit trail of an instance, oldest first
func (s *approvalServiceImpl) History(ctx context.Context, instanceID string) ([]*entity.ApprovalHistory, error) {
	if _, err := s.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	rows, err := s.historyRepo.GetByInstanceID(ctx, instanceID)
	if err != nil {
		s.logger.Error("Failed to get history", "error", err, "instance_id", instanceID)
		return nil, err
	}
	return rows, nil
}

// Notifications returns the delivery outcomes recorded for an instance
func (s *approvalServiceImpl) Notifications(ctx context.Context, instanceID string) ([]*entity.NotificationRecord, error) {
	if _, err := s.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	if s.notifyRepo == nil {
		return nil, nil
	}
	records, err := s.notifyRepo.GetByInstanceID(ctx, instanceID)
	if err != nil {
		s.logger.Error("Failed to get notifications", "error", err, "instance_id", instanceID)
		return nil, err
	}
	return records, nil
}

// ExportHistory renders the instance, its history and its notifications as a spreadsheet
func (s *approvalServiceImpl) ExportHistory(ctx context.Context, instanceID string) ([]byte, error) {
	if s.exporter == nil {
		return nil, fmt.Errorf("%w: export is not configured", ErrInvalidInput)
	}
	inst, err := s.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	rows, err := s.History(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	records, err := s.Notifications(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	data, err := s.exporter.Export(inst, rows, records)
	if err != nil {
		s.logger.Error("Failed to export history", "error", err, "instance_id", instanceID)
		return nil, fmt.Errorf("export history: %w", err)
	}
	return data, nil
}
