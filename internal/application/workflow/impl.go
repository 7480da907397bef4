package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/payment-approval/internal/application/dispatcher"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/application/scheduler"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
	"github.com/garyjia/payment-approval/internal/domain/graph"
	domainwf "github.com/garyjia/payment-approval/internal/domain/workflow"
	"github.com/garyjia/payment-approval/pkg/clock"
)

// DefaultSystemActor is recorded as decider of automatic resolutions
const DefaultSystemActor = "system"

// graphRevisionSpace namespaces the name-based UUIDs used as graph revision refs
var graphRevisionSpace = uuid.MustParse("8f3a2c71-5d4e-4b9a-a6c2-1e7d90b4f35c")

// Deps are the collaborators of the engine
type Deps struct {
	Instances       port.InstanceRepository
	PaymentRequests port.PaymentRequestRepository
	History         port.HistoryRepository
	TxManager       port.TransactionManager
	Resolver        ApproverResolver
	Notifier        Notifier
	Payments        port.PaymentProcessor
	Conditions      ConditionEvaluator
	Scheduler       *scheduler.Scheduler
	Clock           clock.Clock
}

// engineImpl is the concrete implementation of WorkflowEngine
type engineImpl struct {
	instanceRepo port.InstanceRepository
	requestRepo  port.PaymentRequestRepository
	historyRepo  port.HistoryRepository
	graphRepo    port.GraphRepository
	timerRepo    port.TimerRepository
	txManager    port.TransactionManager
	resolver     ApproverResolver
	notifier     Notifier
	payments     port.PaymentProcessor
	conditions   ConditionEvaluator
	scheduler    *scheduler.Scheduler
	clock        clock.Clock
	dispatcher   dispatcher.Dispatcher
	logger       Logger

	systemActor     string
	defaultReminder time.Duration

	locks *keyedMutex

	// Frozen graph revisions by ref
	mu     sync.RWMutex
	graphs map[string]*graph.Graph
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithLogger sets the engine logger
func WithLogger(l Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = l
	}
}

// WithGraphRepository persists graphs so instances can be resumed after a restart
func WithGraphRepository(repo port.GraphRepository) EngineOption {
	return func(e *engineImpl) {
		e.graphRepo = repo
	}
}

// WithTimerRepository enables RecoverTimers
func WithTimerRepository(repo port.TimerRepository) EngineOption {
	return func(e *engineImpl) {
		e.timerRepo = repo
	}
}

// WithSystemActor sets the decider recorded for automatic resolutions
func WithSystemActor(actor string) EngineOption {
	return func(e *engineImpl) {
		if actor != "" {
			e.systemActor = actor
		}
	}
}

// WithDefaultReminderInterval sets the reminder interval used when an approval
// node declares a zero timeout without auto-approval
func WithDefaultReminderInterval(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		if d > 0 {
			e.defaultReminder = d
		}
	}
}

// NewEngine creates a new workflow engine and registers it as the scheduler's timer handler
func NewEngine(deps Deps, opts ...EngineOption) WorkflowEngine {
	e := &engineImpl{
		instanceRepo:    deps.Instances,
		requestRepo:     deps.PaymentRequests,
		historyRepo:     deps.History,
		txManager:       deps.TxManager,
		resolver:        deps.Resolver,
		notifier:        deps.Notifier,
		payments:        deps.Payments,
		conditions:      deps.Conditions,
		scheduler:       deps.Scheduler,
		clock:           deps.Clock,
		logger:          nopLogger{},
		systemActor:     DefaultSystemActor,
		defaultReminder: time.Duration(graph.DefaultTimeoutHours * float64(time.Hour)),
		locks:           newKeyedMutex(),
		graphs:          make(map[string]*graph.Graph),
	}
	if e.clock == nil {
		e.clock = clock.NewReal()
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.scheduler == nil {
		e.scheduler = scheduler.New(e.clock)
	}
	e.scheduler.SetHandler(e.onTimer)
	return e
}

// StartWorkflow validates the graph, creates an instance and runs it
func (e *engineImpl) StartWorkflow(ctx context.Context, g *graph.Graph, req *entity.PaymentRequest, requester *entity.User, org *entity.Organization) (*entity.WorkflowInstance, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if req == nil || req.ID == "" {
		return nil, ErrInvalidRequest
	}

	frozen, ref, err := e.freezeGraph(g)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	inst := &entity.WorkflowInstance{
		ID:               uuid.NewString(),
		GraphID:          frozen.ID,
		GraphRef:         ref,
		PaymentRequestID: req.ID,
		OrgID:            req.OrgID,
		Status:           domainwf.StateRunning,
		NodeStates:       make(map[string]*entity.NodeState, len(frozen.Nodes)),
		ActiveNodeIDs:    []string{},
		Metadata:         snapshotMetadata(req, requester, org),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, n := range frozen.Nodes {
		inst.NodeStates[n.ID] = &entity.NodeState{Status: domainwf.StatePending}
	}

	unlock := e.locks.Lock(inst.ID)
	defer unlock()

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if e.graphRepo != nil {
			if err := e.graphRepo.SaveRevision(txCtx, ref, frozen); err != nil {
				return fmt.Errorf("failed to save graph revision: %w", err)
			}
		}
		if err := e.instanceRepo.Create(txCtx, inst); err != nil {
			return fmt.Errorf("failed to create instance: %w", err)
		}
		if err := e.historyRepo.Create(txCtx, &entity.ApprovalHistory{
			InstanceID: inst.ID,
			ActorID:    inst.Metadata.RequesterID,
			NewStatus:  inst.Status.String(),
			ActionType: entity.ActionInstanceStarted,
			ActionData: ref,
			Timestamp:  now,
		}); err != nil {
			return fmt.Errorf("failed to create history record: %w", err)
		}
		if err := e.requestRepo.UpdateStatus(txCtx, req.ID, entity.PaymentStatusInApproval); err != nil {
			return fmt.Errorf("failed to update payment request status: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.cacheGraph(ref, frozen)

	e.logger.Info("Workflow started",
		"instance_id", inst.ID,
		"graph_id", frozen.ID,
		"graph_ref", ref,
		"payment_request_id", req.ID,
	)
	e.emit(ctx, event.NewEvent(event.TypeInstanceStarted, inst.ID, "", map[string]interface{}{
		"graph_id":           frozen.ID,
		"graph_ref":          ref,
		"payment_request_id": req.ID,
		"org_id":             req.OrgID,
	}))

	start, _ := frozen.StartNode()
	r := &run{g: frozen, inst: inst}
	if err := e.execute(ctx, r, start.ID); err != nil {
		return nil, err
	}
	return inst.Clone(), nil
}

// ProcessApprovalDecision applies a human decision to a running approval node
func (e *engineImpl) ProcessApprovalDecision(ctx context.Context, instanceID, nodeID string, approved bool, decidedBy, comments string) (*entity.WorkflowInstance, error) {
	unlock := e.locks.Lock(instanceID)
	defer unlock()

	inst, err := e.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	if inst == nil {
		return nil, ErrInstanceNotFound
	}

	g, err := e.loadGraph(ctx, inst.GraphRef)
	if err != nil {
		return nil, err
	}

	node, ok := g.Node(nodeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	data, ok := node.Data.(graph.ApprovalData)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNodeNotApproval, nodeID, node.Kind())
	}

	ns := inst.Node(nodeID)
	if ns == nil {
		return nil, fmt.Errorf("%w: %s has no state", ErrNodeNotFound, nodeID)
	}
	if ns.Status.IsTerminal() {
		e.logger.Info("Late decision on resolved node",
			"instance_id", instanceID,
			"node_id", nodeID,
			"status", ns.Status,
			"decided_by", decidedBy,
		)
		return nil, fmt.Errorf("%w: %s is %s", ErrNodeAlreadyResolved, nodeID, ns.Status)
	}
	if inst.IsTerminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrInstanceTerminal, instanceID, inst.Status)
	}
	if !domainwf.Resolvable(ns.Status) {
		return nil, fmt.Errorf("%w: %s is %s", ErrNodeNotActive, nodeID, ns.Status)
	}

	r := &run{g: g, inst: inst}
	if err := e.resolveApproval(ctx, r, node, data, decision{
		approved: approved,
		actor:    decidedBy,
		comments: comments,
		action:   entity.ActionApprovalDecision,
	}); err != nil {
		return nil, err
	}
	return inst.Clone(), nil
}

// GetInstance returns a deep copy of the instance
func (e *engineImpl) GetInstance(ctx context.Context, instanceID string) (*entity.WorkflowInstance, error) {
	inst, err := e.instanceRepo.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance: %w", err)
	}
	if inst == nil {
		return nil, ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

// ListInstances returns deep copies of the matching instances
func (e *engineImpl) ListInstances(ctx context.Context, filter entity.InstanceFilter) ([]*entity.WorkflowInstance, error) {
	instances, err := e.instanceRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	out := make([]*entity.WorkflowInstance, len(instances))
	for i, inst := range instances {
		out[i] = inst.Clone()
	}
	return out, nil
}

// freezeGraph takes a private copy of g and derives its revision ref from the
// definition, so identical definitions share a ref and any change yields a new
// one. Instances only ever see the frozen copy.
func (e *engineImpl) freezeGraph(g *graph.Graph) (*graph.Graph, string, error) {
	def, err := json.Marshal(g)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode graph: %w", err)
	}
	var frozen graph.Graph
	if err := json.Unmarshal(def, &frozen); err != nil {
		return nil, "", fmt.Errorf("failed to copy graph: %w", err)
	}
	return &frozen, uuid.NewSHA1(graphRevisionSpace, def).String(), nil
}

func (e *engineImpl) cacheGraph(ref string, g *graph.Graph) {
	e.mu.Lock()
	e.graphs[ref] = g
	e.mu.Unlock()
}

func (e *engineImpl) loadGraph(ctx context.Context, ref string) (*graph.Graph, error) {
	e.mu.RLock()
	g, ok := e.graphs[ref]
	e.mu.RUnlock()
	if ok {
		return g, nil
	}

	if e.graphRepo == nil {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, ref)
	}
	g, err := e.graphRepo.GetRevision(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load graph %s: %w", ref, err)
	}
	if g == nil {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, ref)
	}

	e.cacheGraph(ref, g)
	return g, nil
}

func snapshotMetadata(req *entity.PaymentRequest, requester *entity.User, org *entity.Organization) entity.InstanceMetadata {
	md := entity.InstanceMetadata{
		RequesterID: req.RequesterID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Category:    req.Category,
		Description: req.Description,
	}
	if requester != nil {
		if md.RequesterID == "" {
			md.RequesterID = requester.ID
		}
		md.RequesterName = requester.Name
	}
	if org != nil {
		md.OrganizationName = org.Name
		md.AdminIDs = append([]string(nil), org.AdminUserIDs...)
	}
	return md
}

func (e *engineImpl) emit(ctx context.Context, evt *event.Event) {
	if e.dispatcher == nil {
		return
	}
	evt.Timestamp = e.clock.Now()
	e.dispatcher.DispatchAsync(context.WithoutCancel(ctx), evt)
}
