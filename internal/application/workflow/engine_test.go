package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/payment-approval/internal/application/approver"
	"github.com/garyjia/payment-approval/internal/application/condition"
	"github.com/garyjia/payment-approval/internal/application/notify"
	"github.com/garyjia/payment-approval/internal/application/port"
	"github.com/garyjia/payment-approval/internal/application/scheduler"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
	"github.com/garyjia/payment-approval/internal/domain/graph"
	domainwf "github.com/garyjia/payment-approval/internal/domain/workflow"
	"github.com/garyjia/payment-approval/pkg/clock"
)

var testStart = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

var (
	requester = &entity.User{ID: "req", OrgID: "org-1", Name: "Rita Requester", Role: "EMPLOYEE", Active: true}
	finance1  = &entity.User{ID: "fin1", OrgID: "org-1", Name: "Fiona", Role: "FINANCE", Active: true}
	finance2  = &entity.User{ID: "fin2", OrgID: "org-1", Name: "Felix", Role: "FINANCE", Active: true}
	admin     = &entity.User{ID: "admin", OrgID: "org-1", Name: "Ada Admin", Role: "ADMIN", Active: true}
	org       = &entity.Organization{ID: "org-1", Name: "Acme", AdminUserIDs: []string{"admin"}}
)

// harness wires the engine to in-memory repositories, a manual clock and the
// real scheduler, notification adapter, condition evaluator and resolver
type harness struct {
	t         *testing.T
	clock     *clock.Manual
	engine    WorkflowEngine
	scheduler *scheduler.Scheduler
	instances *mockInstanceRepo
	graphs    *mockGraphRepo
	requests  *mockRequestRepo
	history   *mockHistoryRepo
	timers    *mockTimerRepo
	tx        *mockTxManager
	directory *mockDirectory
	sender    *mockSender
	payments  *mockPayments
	events    *mockDispatcher
	seq       int
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:         t,
		clock:     clock.NewManual(testStart),
		instances: newMockInstanceRepo(),
		graphs:    newMockGraphRepo(),
		requests:  newMockRequestRepo(),
		history:   &mockHistoryRepo{},
		timers:    newMockTimerRepo(),
		tx:        &mockTxManager{},
		directory: newMockDirectory(requester, finance1, finance2, admin),
		sender:    &mockSender{},
		payments:  &mockPayments{},
		events:    &mockDispatcher{},
	}
	h.boot()
	t.Cleanup(func() { h.scheduler.Stop() })
	return h
}

// boot builds a fresh scheduler and engine over the same repositories, the
// way a process restart would
func (h *harness) boot() {
	h.scheduler = scheduler.New(h.clock, scheduler.WithStore(h.timers))
	h.engine = NewEngine(Deps{
		Instances:       h.instances,
		PaymentRequests: h.requests,
		History:         h.history,
		TxManager:       h.tx,
		Resolver:        approver.NewResolver(h.directory),
		Notifier:        notify.NewAdapter(h.sender, notify.WithClock(h.clock)),
		Payments:        h.payments,
		Conditions:      condition.NewEvaluator(),
		Scheduler:       h.scheduler,
		Clock:           h.clock,
	},
		WithDispatcher(h.events),
		WithGraphRepository(h.graphs),
		WithTimerRepository(h.timers),
	)
}

func (h *harness) request(amount float64) *entity.PaymentRequest {
	h.seq++
	req := &entity.PaymentRequest{
		ID:          fmt.Sprintf("pr-%d", h.seq),
		OrgID:       "org-1",
		RequesterID: "req",
		Amount:      amount,
		Currency:    "USD",
		Category:    "travel",
		Description: "Conference trip",
		Status:      entity.PaymentStatusSubmitted,
	}
	require.NoError(h.t, h.requests.Create(context.Background(), req))
	return req
}

func (h *harness) start(g *graph.Graph, amount float64) *entity.WorkflowInstance {
	inst, err := h.engine.StartWorkflow(context.Background(), g, h.request(amount), requester, org)
	require.NoError(h.t, err)
	require.NotNil(h.t, inst)
	return inst
}

func (h *harness) get(id string) *entity.WorkflowInstance {
	inst, err := h.engine.GetInstance(context.Background(), id)
	require.NoError(h.t, err)
	return inst
}

func (h *harness) decide(instanceID, nodeID string, approved bool, by string) (*entity.WorkflowInstance, error) {
	return h.engine.ProcessApprovalDecision(context.Background(), instanceID, nodeID, approved, by, "looks fine")
}

func financeApproval() graph.ApprovalData {
	return graph.ApprovalData{Approver: graph.ApproverSpec{Type: graph.ApproverRole, Value: "FINANCE"}}
}

// paymentFlow is Start -> Approval -> Payment -> End
func paymentFlow(approval graph.ApprovalData) *graph.Graph {
	return &graph.Graph{
		ID:   "payment-flow",
		Name: "Standard payment",
		Nodes: []graph.Node{
			{ID: "start", Data: graph.StartData{}},
			{ID: "approve", Label: "Finance approval", Data: approval},
			{ID: "pay", Data: graph.PaymentData{}},
			{ID: "end", Data: graph.EndData{}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "approve"},
			{ID: "e2", Source: "approve", Target: "pay"},
			{ID: "e3", Source: "pay", Target: "end"},
		},
	}
}

// thresholdFlow routes amounts above 1000 to an approval and everything
// else to a notification for the requester
func thresholdFlow() *graph.Graph {
	return &graph.Graph{
		ID: "threshold-flow",
		Nodes: []graph.Node{
			{ID: "start", Data: graph.StartData{}},
			{ID: "check", Data: graph.ConditionData{Predicate: &graph.Predicate{
				Field: graph.FieldAmount, Operator: graph.OpGT, Threshold: 1000,
			}}},
			{ID: "approve", Data: financeApproval()},
			{ID: "end", Data: graph.EndData{}},
			{ID: "inform", Data: graph.NotifyData{Scope: graph.RecipientScope{Type: graph.ScopeRequester}}},
			{ID: "done", Data: graph.EndData{}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "check"},
			{ID: "e2", Source: "check", Target: "approve", Branch: graph.BranchMatched},
			{ID: "e3", Source: "approve", Target: "end"},
			{ID: "e4", Source: "check", Target: "inform", Branch: graph.BranchUnmatched},
			{ID: "e5", Source: "inform", Target: "done"},
		},
	}
}

func nodeStatus(t *testing.T, inst *entity.WorkflowInstance, nodeID string) domainwf.State {
	t.Helper()
	ns := inst.Node(nodeID)
	require.NotNil(t, ns, "node %s has no state", nodeID)
	return ns.Status
}

func TestStartWorkflow_RunsUntilApprovalGate(t *testing.T) {
	h := newHarness(t)

	inst := h.start(paymentFlow(financeApproval()), 1500)

	assert.Equal(t, domainwf.StateRunning, inst.Status)
	assert.Equal(t, domainwf.StateCompleted, nodeStatus(t, inst, "start"))
	assert.Equal(t, domainwf.StateRunning, nodeStatus(t, inst, "approve"))
	assert.Equal(t, domainwf.StatePending, nodeStatus(t, inst, "pay"))
	assert.Equal(t, domainwf.StatePending, nodeStatus(t, inst, "end"))
	assert.Equal(t, []string{"approve"}, inst.ActiveNodeIDs)
	assert.Equal(t, []string{"fin1", "fin2"}, inst.Node("approve").Assignees)
	assert.Equal(t, "payment-flow", inst.GraphID)
	assert.NotEmpty(t, inst.GraphRef)
	assert.Equal(t, "Rita Requester", inst.Metadata.RequesterName)
	assert.Equal(t, []string{"admin"}, inst.Metadata.AdminIDs)

	assert.Equal(t, entity.PaymentStatusInApproval, h.requests.status(inst.PaymentRequestID))
	assert.Equal(t, []string{"fin1", "fin2"}, h.sender.recipients(port.IntentApprovalRequest))

	kind, armed := h.scheduler.Armed(scheduler.Key{InstanceID: inst.ID, NodeID: "approve"})
	assert.True(t, armed)
	assert.Equal(t, entity.TimerReminder, kind)
	assert.Equal(t, 1, h.timers.count())

	rows, err := h.history.GetByInstanceID(context.Background(), inst.ID)
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, entity.ActionInstanceStarted, rows[0].ActionType)

	stored, err := h.graphs.GetRevision(context.Background(), inst.GraphRef)
	require.NoError(t, err)
	assert.NotNil(t, stored)

	started := h.events.ofType(event.TypeInstanceStarted)
	require.Len(t, started, 1)
	assert.Equal(t, inst.ID, started[0].CorrelationID)
	assert.Len(t, h.events.ofType(event.TypeApprovalRequested), 1)
}

func TestStartWorkflow_NoStartNode(t *testing.T) {
	h := newHarness(t)
	g := &graph.Graph{
		Nodes: []graph.Node{
			{ID: "approve", Data: financeApproval()},
			{ID: "end", Data: graph.EndData{}},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "approve", Target: "end"}},
	}

	inst, err := h.engine.StartWorkflow(context.Background(), g, h.request(100), requester, org)

	assert.ErrorIs(t, err, ErrNoStartNode)
	assert.Nil(t, inst)
	assert.Equal(t, 0, h.instances.count())
	assert.Empty(t, h.sender.recipients(port.IntentApprovalRequest))
	assert.Equal(t, entity.PaymentStatusSubmitted, h.requests.status("pr-1"))
}

func TestStartWorkflow_InvalidInput(t *testing.T) {
	h := newHarness(t)

	t.Run("invalid graph", func(t *testing.T) {
		g := paymentFlow(financeApproval())
		g.Edges = append(g.Edges, graph.Edge{ID: "loop", Source: "pay", Target: "approve"})
		_, err := h.engine.StartWorkflow(context.Background(), g, h.request(100), requester, org)
		assert.ErrorIs(t, err, ErrInvalidGraph)
	})

	t.Run("missing request", func(t *testing.T) {
		_, err := h.engine.StartWorkflow(context.Background(), paymentFlow(financeApproval()), nil, requester, org)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("persistence failure", func(t *testing.T) {
		h.tx.commitErr = errors.New("database is locked")
		defer func() { h.tx.commitErr = nil }()
		_, err := h.engine.StartWorkflow(context.Background(), paymentFlow(financeApproval()), h.request(100), requester, org)
		assert.Error(t, err)
	})

	assert.Equal(t, 0, h.instances.count())
}

func TestEndToEnd_Approve(t *testing.T) {
	h := newHarness(t)
	inst := h.start(paymentFlow(financeApproval()), 1500)

	got, err := h.decide(inst.ID, "approve", true, "fin1")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Empty(t, got.ActiveNodeIDs)
	for _, id := range []string{"start", "approve", "pay", "end"} {
		assert.Equal(t, domainwf.StateCompleted, nodeStatus(t, got, id), id)
	}
	assert.Equal(t, "fin1", got.Node("approve").DecidedBy)
	assert.Equal(t, "looks fine", got.Node("approve").Comments)
	assert.Equal(t, entity.ResultApproved, got.Node("approve").Result)
	assert.Equal(t, entity.ResultPaid, got.Node("pay").Result)

	assert.Equal(t, 1, h.payments.count())
	assert.Equal(t, entity.PaymentStatusPaid, h.requests.status(inst.PaymentRequestID))
	assert.Equal(t, []string{entity.PaymentStatusInApproval, entity.PaymentStatusPaid}, h.requests.history())

	assert.Equal(t, 0, h.scheduler.Len())
	assert.Equal(t, 0, h.timers.count())

	assert.Equal(t, []string{"admin", "fin1", "fin2", "req"}, h.sender.recipients(port.IntentFinalStatus))
	final := h.sender.byIntent(port.IntentFinalStatus)
	require.NotEmpty(t, final)
	assert.Contains(t, final[0].Body, "has been processed")

	assert.Len(t, h.events.ofType(event.TypeApprovalResolved), 1)
	assert.Len(t, h.events.ofType(event.TypePaymentProcessed), 1)
	assert.Len(t, h.events.ofType(event.TypeInstanceCompleted), 1)

	// The stored document matches what was returned
	assert.Equal(t, got.Status, h.get(inst.ID).Status)
}

func TestEndToEnd_Reject(t *testing.T) {
	h := newHarness(t)
	inst := h.start(paymentFlow(financeApproval()), 1500)

	got, err := h.decide(inst.ID, "approve", false, "fin2")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateFailed, got.Status)
	assert.Equal(t, domainwf.StateFailed, nodeStatus(t, got, "approve"))
	assert.Equal(t, entity.ResultRejected, got.Node("approve").Result)
	assert.Equal(t, "fin2", got.Node("approve").DecidedBy)
	assert.Equal(t, domainwf.StatePending, nodeStatus(t, got, "pay"))
	assert.Equal(t, domainwf.StatePending, nodeStatus(t, got, "end"))
	assert.Contains(t, got.FailureReason, "rejected")

	assert.Equal(t, 0, h.payments.count())
	assert.Equal(t, entity.PaymentStatusRejected, h.requests.status(inst.PaymentRequestID))
	assert.NotContains(t, h.requests.history(), entity.PaymentStatusPaid)
	assert.Equal(t, 0, h.scheduler.Len())

	assert.Equal(t, []string{"admin", "fin1", "fin2", "req"}, h.sender.recipients(port.IntentFinalStatus))
	final := h.sender.byIntent(port.IntentFinalStatus)
	require.NotEmpty(t, final)
	assert.Contains(t, final[0].Body, "has been rejected")
	assert.Contains(t, final[0].Body, "Decided by fin2")

	// Nothing moves after rejection
	h.clock.Advance(48 * time.Hour)
	after := h.get(inst.ID)
	assert.Equal(t, domainwf.StatePending, nodeStatus(t, after, "pay"))
	assert.Equal(t, 0, h.payments.count())
	assert.Empty(t, h.sender.recipients(port.IntentReminder))
}

func TestProcessApprovalDecision_SecondDecisionRejected(t *testing.T) {
	h := newHarness(t)
	inst := h.start(paymentFlow(financeApproval()), 1500)

	_, err := h.decide(inst.ID, "approve", true, "fin1")
	require.NoError(t, err)

	_, err = h.decide(inst.ID, "approve", false, "fin2")
	assert.ErrorIs(t, err, ErrNodeAlreadyResolved)

	got := h.get(inst.ID)
	assert.Equal(t, "fin1", got.Node("approve").DecidedBy)
	assert.Equal(t, domainwf.StateCompleted, got.Status)
	assert.Equal(t, 1, h.payments.count())
	assert.Equal(t, 1, h.history.countAction(inst.ID, entity.ActionApprovalDecision))
}

func TestProcessApprovalDecision_ErrorPrecedence(t *testing.T) {
	h := newHarness(t)
	running := h.start(&graph.Graph{
		ID: "two-step",
		Nodes: []graph.Node{
			{ID: "start", Data: graph.StartData{}},
			{ID: "manager", Data: graph.ApprovalData{Approver: graph.ApproverSpec{Type: graph.ApproverUser, Value: "admin"}}},
			{ID: "finance", Data: financeApproval()},
			{ID: "end", Data: graph.EndData{}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "manager"},
			{ID: "e2", Source: "manager", Target: "finance"},
			{ID: "e3", Source: "finance", Target: "end"},
		},
	}, 1500)
	finished := h.start(thresholdFlow(), 500)
	require.Equal(t, domainwf.StateCompleted, finished.Status)

	tests := []struct {
		name     string
		instance string
		node     string
		want     error
	}{
		{"unknown instance", "missing", "manager", ErrInstanceNotFound},
		{"unknown node", running.ID, "missing", ErrNodeNotFound},
		{"not an approval node", running.ID, "start", ErrNodeNotApproval},
		{"not yet active", running.ID, "finance", ErrNodeNotActive},
		{"pending node of finished instance", finished.ID, "approve", ErrInstanceTerminal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := h.decide(tt.instance, tt.node, true, "admin")
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, inst)
		})
	}

	got := h.get(running.ID)
	assert.Equal(t, domainwf.StateRunning, nodeStatus(t, got, "manager"))
	assert.Equal(t, domainwf.StatePending, nodeStatus(t, got, "finance"))
}

func TestConditionRouting(t *testing.T) {
	t.Run("below threshold takes unmatched branch", func(t *testing.T) {
		h := newHarness(t)
		inst := h.start(thresholdFlow(), 500)

		assert.Equal(t, domainwf.StateCompleted, inst.Status)
		assert.Equal(t, entity.ResultUnmatched, inst.Node("check").Result)
		assert.Equal(t, domainwf.StatePending, nodeStatus(t, inst, "approve"))
		assert.Equal(t, domainwf.StatePending, nodeStatus(t, inst, "end"))
		assert.Equal(t, domainwf.StateCompleted, nodeStatus(t, inst, "inform"))
		assert.Equal(t, domainwf.StateCompleted, nodeStatus(t, inst, "done"))
		assert.Equal(t, []string{"req"}, h.sender.recipients(port.IntentStatusUpdate))
		assert.Empty(t, h.sender.recipients(port.IntentApprovalRequest))
		assert.Equal(t, entity.PaymentStatusApproved, h.requests.status(inst.PaymentRequestID))
	})

	t.Run("above threshold takes matched branch", func(t *testing.T) {
		h := newHarness(t)
		inst := h.start(thresholdFlow(), 1500)

		assert.Equal(t, domainwf.StateRunning, inst.Status)
		assert.Equal(t, entity.ResultMatched, inst.Node("check").Result)
		assert.Equal(t, domainwf.StateRunning, nodeStatus(t, inst, "approve"))
		assert.Equal(t, domainwf.StatePending, nodeStatus(t, inst, "inform"))
		assert.Equal(t, domainwf.StatePending, nodeStatus(t, inst, "done"))
		assert.Empty(t, h.sender.recipients(port.IntentStatusUpdate))
	})

	t.Run("expression predicate", func(t *testing.T) {
		h := newHarness(t)
		g := thresholdFlow()
		g.Nodes[1].Data = graph.ConditionData{Predicate: &graph.Predicate{Expression: `category == "travel" && amount >= 200`}}
		inst := h.start(g, 250)

		assert.Equal(t, entity.ResultMatched, inst.Node("check").Result)
		assert.Equal(t, domainwf.StateRunning, nodeStatus(t, inst, "approve"))
	})

	t.Run("broken expression fails the instance", func(t *testing.T) {
		h := newHarness(t)
		g := thresholdFlow()
		g.Nodes[1].Data = graph.ConditionData{Predicate: &graph.Predicate{Expression: `amount >`}}
		inst := h.start(g, 250)

		assert.Equal(t, domainwf.StateFailed, inst.Status)
		assert.Equal(t, domainwf.StateFailed, nodeStatus(t, inst, "check"))
		assert.NotEmpty(t, inst.Node("check").Error)
	})
}

func TestRejectionHaltsTraversal(t *testing.T) {
	h := newHarness(t)
	inst := h.start(thresholdFlow(), 5000)

	got, err := h.decide(inst.ID, "approve", false, "fin1")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateFailed, got.Status)
	assert.Equal(t, domainwf.StatePending, nodeStatus(t, got, "end"))
	assert.Equal(t, domainwf.StatePending, nodeStatus(t, got, "inform"))
	assert.Equal(t, domainwf.StatePending, nodeStatus(t, got, "done"))
	assert.Empty(t, h.sender.recipients(port.IntentStatusUpdate))
}

func TestDeadEndFailsInstance(t *testing.T) {
	h := newHarness(t)
	g := thresholdFlow()
	g.Nodes = g.Nodes[:5]
	g.Edges = g.Edges[:4]

	inst := h.start(g, 500)

	assert.Equal(t, domainwf.StateFailed, inst.Status)
	assert.Equal(t, domainwf.StateCompleted, nodeStatus(t, inst, "inform"))
	assert.Contains(t, inst.FailureReason, ErrDeadEnd.Error())
	assert.Len(t, h.events.ofType(event.TypeInstanceFailed), 1)
}

func TestApprovalWithoutApproversFailsInstance(t *testing.T) {
	h := newHarness(t)
	inst := h.start(paymentFlow(graph.ApprovalData{
		Approver: graph.ApproverSpec{Type: graph.ApproverRole, Value: "AUDITOR"},
	}), 1500)

	assert.Equal(t, domainwf.StateFailed, inst.Status)
	assert.Equal(t, domainwf.StateFailed, nodeStatus(t, inst, "approve"))
	assert.Contains(t, inst.Node("approve").Error, ErrNoApprovers.Error())
	assert.Equal(t, domainwf.StatePending, nodeStatus(t, inst, "pay"))
	assert.Equal(t, 0, h.scheduler.Len())
	assert.Equal(t, []string{"admin", "req"}, h.sender.recipients(port.IntentFinalStatus))
}

func TestPaymentFailure(t *testing.T) {
	h := newHarness(t)
	h.payments.decline = true
	inst := h.start(paymentFlow(financeApproval()), 1500)

	got, err := h.decide(inst.ID, "approve", true, "fin1")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateFailed, got.Status)
	assert.Equal(t, domainwf.StateCompleted, nodeStatus(t, got, "approve"))
	assert.Equal(t, domainwf.StateFailed, nodeStatus(t, got, "pay"))
	assert.Equal(t, entity.ResultPaymentFailed, got.Node("pay").Result)
	assert.Contains(t, got.FailureReason, "insufficient funds")
	assert.Equal(t, domainwf.StatePending, nodeStatus(t, got, "end"))
	assert.Equal(t, entity.PaymentStatusPaymentFailed, h.requests.status(inst.PaymentRequestID))
	assert.Equal(t, 1, h.payments.count())
}

func TestPaymentTriggerApproval(t *testing.T) {
	h := newHarness(t)
	data := financeApproval()
	data.IsPaymentTrigger = true
	g := &graph.Graph{
		ID: "trigger-flow",
		Nodes: []graph.Node{
			{ID: "start", Data: graph.StartData{}},
			{ID: "approve", Data: data},
			{ID: "pay", Data: graph.PaymentData{}},
			{ID: "end", Data: graph.EndData{}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "approve"},
			{ID: "e2", Source: "approve", Target: "pay"},
			{ID: "e3", Source: "pay", Target: "end"},
		},
	}
	inst := h.start(g, 1500)

	got, err := h.decide(inst.ID, "approve", true, "fin2")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateCompleted, got.Status)
	assert.Equal(t, entity.ResultPaid, got.Node("approve").Result)
	assert.Equal(t, domainwf.StateCompleted, nodeStatus(t, got, "pay"))
	// The payment node sees the earlier payment and does not charge again
	assert.Equal(t, 1, h.payments.count())
	assert.Equal(t, entity.PaymentStatusPaid, h.requests.status(inst.PaymentRequestID))
}

func TestAutoApproveOnTimeout(t *testing.T) {
	t.Run("zero timeout", func(t *testing.T) {
		h := newHarness(t)
		data := financeApproval()
		data.TimeoutHours = graph.Hours(0)
		data.AutoApproveOnTimeout = true
		inst := h.start(paymentFlow(data), 1500)
		require.Equal(t, domainwf.StateRunning, nodeStatus(t, inst, "approve"))

		h.clock.Advance(0)

		got := h.get(inst.ID)
		assert.Equal(t, domainwf.StateCompleted, got.Status)
		assert.Equal(t, DefaultSystemActor, got.Node("approve").DecidedBy)
		assert.Equal(t, 1, h.payments.count())
		assert.Equal(t, 1, h.history.countAction(inst.ID, entity.ActionAutoApproval))

		_, err := h.decide(inst.ID, "approve", false, "fin1")
		assert.ErrorIs(t, err, ErrNodeAlreadyResolved)
		assert.Equal(t, 1, h.payments.count())
	})

	t.Run("fires only after the timeout", func(t *testing.T) {
		h := newHarness(t)
		data := financeApproval()
		data.TimeoutHours = graph.Hours(2)
		data.AutoApproveOnTimeout = true
		inst := h.start(paymentFlow(data), 1500)

		h.clock.Advance(time.Hour)
		assert.Equal(t, domainwf.StateRunning, h.get(inst.ID).Status)

		h.clock.Advance(time.Hour)
		got := h.get(inst.ID)
		assert.Equal(t, domainwf.StateCompleted, got.Status)
		assert.True(t, testStart.Add(2*time.Hour).Equal(*got.Node("approve").CompletedAt))
	})

	t.Run("human decision cancels the timer", func(t *testing.T) {
		h := newHarness(t)
		data := financeApproval()
		data.TimeoutHours = graph.Hours(1)
		data.AutoApproveOnTimeout = true
		inst := h.start(paymentFlow(data), 1500)

		_, err := h.decide(inst.ID, "approve", false, "fin1")
		require.NoError(t, err)
		h.clock.Advance(2 * time.Hour)

		got := h.get(inst.ID)
		assert.Equal(t, domainwf.StateFailed, got.Status)
		assert.Equal(t, "fin1", got.Node("approve").DecidedBy)
		assert.Equal(t, 0, h.history.countAction(inst.ID, entity.ActionAutoApproval))
		assert.Equal(t, 0, h.payments.count())
	})
}

// A timer and a human decision racing for the same node: exactly one wins
func TestTimerAndDecisionRace(t *testing.T) {
	data := financeApproval()
	data.TimeoutHours = graph.Hours(0)
	data.AutoApproveOnTimeout = true

	humanWins, timerWins := 0, 0
	for i := 0; i < 1000; i++ {
		h := newHarness(t)
		inst := h.start(paymentFlow(data), 1500)

		var (
			wg       sync.WaitGroup
			decision error
		)
		ready := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-ready
			h.clock.Advance(0)
		}()
		go func() {
			defer wg.Done()
			<-ready
			_, decision = h.decide(inst.ID, "approve", true, "fin1")
		}()
		close(ready)
		wg.Wait()

		got := h.get(inst.ID)
		require.Equal(t, domainwf.StateCompleted, got.Status, "iteration %d", i)
		require.Equal(t, 1, h.history.countAction(inst.ID, entity.ActionApprovalDecision, entity.ActionAutoApproval), "iteration %d", i)
		require.Equal(t, 1, h.payments.count(), "iteration %d", i)

		if decision == nil {
			humanWins++
			require.Equal(t, "fin1", got.Node("approve").DecidedBy, "iteration %d", i)
		} else {
			timerWins++
			require.ErrorIs(t, decision, ErrNodeAlreadyResolved, "iteration %d", i)
			require.Equal(t, DefaultSystemActor, got.Node("approve").DecidedBy, "iteration %d", i)
		}
		h.scheduler.Stop()
	}
	assert.Equal(t, 1000, humanWins+timerWins)
}

func TestReminders(t *testing.T) {
	h := newHarness(t)
	data := financeApproval()
	data.TimeoutHours = graph.Hours(1)
	inst := h.start(paymentFlow(data), 1500)

	h.clock.Advance(time.Hour)
	h.clock.Advance(time.Hour)

	got := h.get(inst.ID)
	assert.Equal(t, domainwf.StateRunning, got.Status)
	assert.Equal(t, domainwf.StateRunning, nodeStatus(t, got, "approve"))
	assert.Empty(t, got.Node("approve").DecidedBy)
	assert.Equal(t, 2, got.Node("approve").RemindersSent)

	reminders := h.sender.byIntent(port.IntentReminder)
	require.Len(t, reminders, 4)
	assert.Equal(t, []string{"fin1", "fin1", "fin2", "fin2"}, h.sender.recipients(port.IntentReminder))
	assert.Contains(t, reminders[3].Subject, "Reminder #2")
	assert.Contains(t, reminders[3].Body, "2h0m0s")
	assert.Equal(t, 2, h.history.countAction(inst.ID, entity.ActionReminderSent))
	assert.Len(t, h.events.ofType(event.TypeReminderSent), 2)

	_, armed := h.scheduler.Armed(scheduler.Key{InstanceID: inst.ID, NodeID: "approve"})
	assert.True(t, armed, "reminder re-armed")

	_, err := h.decide(inst.ID, "approve", true, "fin2")
	require.NoError(t, err)
	h.clock.Advance(5 * time.Hour)
	assert.Len(t, h.sender.byIntent(port.IntentReminder), 4)
}

func TestReminders_ZeroTimeoutUsesDefaultInterval(t *testing.T) {
	h := newHarness(t)
	data := financeApproval()
	data.TimeoutHours = graph.Hours(0)
	inst := h.start(paymentFlow(data), 1500)

	h.clock.Advance(time.Hour)
	assert.Empty(t, h.sender.byIntent(port.IntentReminder))

	h.clock.Advance(23 * time.Hour)
	assert.Len(t, h.sender.byIntent(port.IntentReminder), 2)
	assert.Equal(t, 1, h.get(inst.ID).Node("approve").RemindersSent)
}

func TestParallelApprovals_FirstToFinishSkipsTheOther(t *testing.T) {
	h := newHarness(t)
	g := &graph.Graph{
		ID: "parallel",
		Nodes: []graph.Node{
			{ID: "start", Data: graph.StartData{}},
			{ID: "a1", Data: graph.ApprovalData{Approver: graph.ApproverSpec{Type: graph.ApproverUser, Value: "fin1"}}},
			{ID: "a2", Data: graph.ApprovalData{Approver: graph.ApproverSpec{Type: graph.ApproverUser, Value: "fin2"}}},
			{ID: "end", Data: graph.EndData{}},
		},
		Edges: []graph.Edge{
			{ID: "e1", Source: "start", Target: "a1"},
			{ID: "e2", Source: "start", Target: "a2"},
			{ID: "e3", Source: "a1", Target: "end"},
			{ID: "e4", Source: "a2", Target: "end"},
		},
	}
	inst := h.start(g, 1500)
	assert.ElementsMatch(t, []string{"a1", "a2"}, inst.ActiveNodeIDs)
	assert.Equal(t, 2, h.scheduler.Len())

	got, err := h.decide(inst.ID, "a1", true, "fin1")
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateCompleted, got.Status)
	assert.Equal(t, domainwf.StateSkipped, nodeStatus(t, got, "a2"))
	assert.Empty(t, got.ActiveNodeIDs)
	assert.Equal(t, 0, h.scheduler.Len())

	_, err = h.decide(inst.ID, "a2", false, "fin2")
	assert.ErrorIs(t, err, ErrNodeAlreadyResolved)
	assert.Equal(t, domainwf.StateCompleted, h.get(inst.ID).Status)
}

// Every node transition recorded in history follows the lifecycle and
// continues from the previous state of that node
func TestNodeTransitionsAreMonotonic(t *testing.T) {
	allowed := map[[2]string]bool{
		{"PENDING", "RUNNING"}:   true,
		{"RUNNING", "COMPLETED"}: true,
		{"RUNNING", "FAILED"}:    true,
		{"RUNNING", "SKIPPED"}:   true,
	}

	h := newHarness(t)
	approved := h.start(paymentFlow(financeApproval()), 1500)
	_, err := h.decide(approved.ID, "approve", true, "fin1")
	require.NoError(t, err)
	rejected := h.start(thresholdFlow(), 1500)
	_, err = h.decide(rejected.ID, "approve", false, "fin1")
	require.NoError(t, err)
	routed := h.start(thresholdFlow(), 10)

	for _, id := range []string{approved.ID, rejected.ID, routed.ID} {
		rows, err := h.history.GetByInstanceID(context.Background(), id)
		require.NoError(t, err)

		last := map[string]string{}
		for _, row := range rows {
			if row.NodeID == "" || row.ActionType == entity.ActionReminderSent {
				continue
			}
			assert.True(t, allowed[[2]string{row.PreviousStatus, row.NewStatus}],
				"node %s moved %s -> %s", row.NodeID, row.PreviousStatus, row.NewStatus)
			prev, seen := last[row.NodeID]
			if !seen {
				prev = "PENDING"
			}
			assert.Equal(t, prev, row.PreviousStatus, "node %s", row.NodeID)
			last[row.NodeID] = row.NewStatus
		}

		inst := h.get(id)
		for nodeID, state := range last {
			assert.Equal(t, state, nodeStatus(t, inst, nodeID).String(), "node %s", nodeID)
		}
	}
}

func TestRecoverTimers(t *testing.T) {
	h := newHarness(t)
	data := financeApproval()
	data.TimeoutHours = graph.Hours(2)
	inst := h.start(paymentFlow(data), 1500)
	require.Equal(t, 1, h.timers.count())

	require.NoError(t, h.timers.Upsert(context.Background(), &entity.TimerRecord{
		InstanceID: "gone", NodeID: "approve", Kind: entity.TimerReminder, FireAt: testStart,
	}))

	// Restart: the old process stops, a new one boots over the same stores
	h.scheduler.Stop()
	h.clock.Advance(time.Hour)
	h.boot()

	n, err := h.engine.RecoverTimers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, h.timers.count(), "stale record deleted")

	kind, armed := h.scheduler.Armed(scheduler.Key{InstanceID: inst.ID, NodeID: "approve"})
	assert.True(t, armed)
	assert.Equal(t, entity.TimerReminder, kind)

	n, err = h.engine.RecoverTimers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "already armed timers are left alone")

	// The recovered timer keeps its original deadline
	h.clock.Advance(59 * time.Minute)
	assert.Empty(t, h.sender.byIntent(port.IntentReminder))
	h.clock.Advance(time.Minute)
	assert.Len(t, h.sender.byIntent(port.IntentReminder), 2)

	// Decisions work against the graph loaded from the repository
	got, err := h.decide(inst.ID, "approve", true, "fin1")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCompleted, got.Status)
}

func TestGetInstance_ReturnsCopy(t *testing.T) {
	h := newHarness(t)
	inst := h.start(paymentFlow(financeApproval()), 1500)

	snapshot := h.get(inst.ID)
	snapshot.Status = domainwf.StateFailed
	snapshot.Node("approve").Status = domainwf.StateCompleted

	again := h.get(inst.ID)
	assert.Equal(t, domainwf.StateRunning, again.Status)
	assert.Equal(t, domainwf.StateRunning, nodeStatus(t, again, "approve"))

	_, err := h.engine.GetInstance(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrInstanceNotFound)
}

func TestListInstances(t *testing.T) {
	h := newHarness(t)
	running := h.start(paymentFlow(financeApproval()), 1500)
	h.start(thresholdFlow(), 100)

	all, err := h.engine.ListInstances(context.Background(), entity.InstanceFilter{OrgID: "org-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := h.engine.ListInstances(context.Background(), entity.InstanceFilter{Status: domainwf.StateRunning})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, running.ID, open[0].ID)
}

func TestNotificationFailureDoesNotBlock(t *testing.T) {
	h := newHarness(t)
	h.sender.fail = map[string]bool{"fin1": true}
	inst := h.start(paymentFlow(financeApproval()), 1500)

	assert.Equal(t, []string{"fin2"}, h.sender.recipients(port.IntentApprovalRequest))
	assert.Equal(t, domainwf.StateRunning, nodeStatus(t, inst, "approve"))

	got, err := h.decide(inst.ID, "approve", true, "fin2")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateCompleted, got.Status)
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("inst-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 0, k.size())

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())
	unlockA()
	unlockB()
	assert.Equal(t, 0, k.size())
}

func TestGraphRevisions(t *testing.T) {
	t.Run("same id with a new definition does not touch running instances", func(t *testing.T) {
		h := newHarness(t)
		first := h.start(paymentFlow(financeApproval()), 1500)

		redefined := paymentFlow(financeApproval())
		redefined.Nodes[1].ID = "approve2"
		redefined.Edges[0].Target = "approve2"
		redefined.Edges[1].Source = "approve2"
		second := h.start(redefined, 1500)

		assert.Equal(t, first.GraphID, second.GraphID)
		assert.NotEqual(t, first.GraphRef, second.GraphRef)
		assert.Equal(t, 2, h.graphs.revisionCount())

		got, err := h.decide(first.ID, "approve", true, "fin1")
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateCompleted, got.Status)

		got, err = h.decide(second.ID, "approve2", true, "fin2")
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateCompleted, got.Status)
	})

	t.Run("changes to the caller's graph after start are not seen", func(t *testing.T) {
		h := newHarness(t)
		g := paymentFlow(financeApproval())
		inst := h.start(g, 1500)

		g.Edges = g.Edges[:1]
		g.Nodes[2].Data = graph.EndData{}

		got, err := h.decide(inst.ID, "approve", true, "fin1")
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateCompleted, got.Status)
		assert.Equal(t, entity.ResultPaid, got.Node("pay").Result)
		assert.Equal(t, 1, h.payments.count())
	})

	t.Run("identical definitions share a revision", func(t *testing.T) {
		h := newHarness(t)
		a := h.start(paymentFlow(financeApproval()), 100)
		b := h.start(paymentFlow(financeApproval()), 200)

		assert.Equal(t, a.GraphRef, b.GraphRef)
		assert.Equal(t, 1, h.graphs.revisionCount())
	})

	t.Run("restarted engine reads the stored revision", func(t *testing.T) {
		h := newHarness(t)
		inst := h.start(paymentFlow(financeApproval()), 1500)

		redefined := paymentFlow(financeApproval())
		redefined.Nodes = redefined.Nodes[:1]
		require.NoError(t, h.graphs.Save(context.Background(), redefined))

		h.scheduler.Stop()
		h.boot()

		got, err := h.decide(inst.ID, "approve", true, "fin1")
		require.NoError(t, err)
		assert.Equal(t, domainwf.StateCompleted, got.Status)
	})
}

func TestFailedCommitKeepsApprovalTimer(t *testing.T) {
	setup := func(t *testing.T) (*harness, *entity.WorkflowInstance, scheduler.Key) {
		h := newHarness(t)
		data := financeApproval()
		data.TimeoutHours = graph.Hours(1)
		data.AutoApproveOnTimeout = true
		inst := h.start(paymentFlow(data), 1500)
		return h, inst, scheduler.Key{InstanceID: inst.ID, NodeID: "approve"}
	}

	t.Run("human decision", func(t *testing.T) {
		h, inst, key := setup(t)

		h.tx.commitErr = errors.New("disk full")
		_, err := h.decide(inst.ID, "approve", true, "fin1")
		require.Error(t, err)
		h.tx.commitErr = nil

		assert.Equal(t, domainwf.StateRunning, nodeStatus(t, h.get(inst.ID), "approve"))
		kind, armed := h.scheduler.Armed(key)
		assert.True(t, armed)
		assert.Equal(t, entity.TimerAutoApprove, kind)
		assert.Equal(t, 1, h.timers.count())

		h.clock.Advance(time.Hour)

		got := h.get(inst.ID)
		assert.Equal(t, domainwf.StateCompleted, got.Status)
		assert.Equal(t, DefaultSystemActor, got.Node("approve").DecidedBy)
		assert.Equal(t, 0, h.timers.count())
	})

	t.Run("timer firing", func(t *testing.T) {
		h, inst, key := setup(t)

		h.tx.commitErr = errors.New("disk full")
		h.clock.Advance(time.Hour)
		h.tx.commitErr = nil

		assert.Equal(t, domainwf.StateRunning, nodeStatus(t, h.get(inst.ID), "approve"))
		_, armed := h.scheduler.Armed(key)
		assert.True(t, armed)
		assert.Equal(t, 1, h.timers.count())
		assert.Equal(t, 0, h.payments.count())

		h.clock.Advance(TimerRetryDelay)

		got := h.get(inst.ID)
		assert.Equal(t, domainwf.StateCompleted, got.Status)
		assert.Equal(t, 1, h.history.countAction(inst.ID, entity.ActionAutoApproval))
		assert.Equal(t, 1, h.payments.count())
		assert.Equal(t, 0, h.timers.count())
	})
}
