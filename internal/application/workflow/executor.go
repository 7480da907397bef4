package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/payment-approval/internal/application/notify"
	"github.com/garyjia/payment-approval/internal/application/scheduler"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
	"github.com/garyjia/payment-approval/internal/domain/graph"
	domainwf "github.com/garyjia/payment-approval/internal/domain/workflow"
)

// execute activates a node and performs its kind-specific action. A node
// that is no longer pending (a join reached a second time) is left alone.
// Only persistence failures are returned; node failures fail the instance.
func (e *engineImpl) execute(ctx context.Context, r *run, nodeID string) error {
	if r.inst.IsTerminal() {
		return nil
	}

	node, ok := r.g.Node(nodeID)
	if !ok {
		return e.failInstance(ctx, r, nodeID, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID), "", finalNotice{})
	}

	ns := r.inst.Node(nodeID)
	if ns == nil || ns.Status != domainwf.StatePending {
		e.logger.Info("Node already activated",
			"instance_id", r.inst.ID,
			"node_id", nodeID,
		)
		return nil
	}

	if err := e.transitionNode(ctx, r, nodeID, domainwf.TriggerActivate, nodeUpdate{}); err != nil {
		return err
	}

	switch data := node.Data.(type) {
	case graph.StartData:
		if err := e.completeNode(ctx, r, nodeID, nodeUpdate{}); err != nil {
			return err
		}
		return e.advance(ctx, r, nodeID, graph.BranchNone)

	case graph.ApprovalData:
		return e.executeApproval(ctx, r, node, data)

	case graph.ConditionData:
		return e.executeCondition(ctx, r, node, data)

	case graph.NotifyData:
		return e.executeNotify(ctx, r, node, data)

	case graph.PaymentData:
		return e.executePayment(ctx, r, node)

	case graph.EndData:
		if err := e.completeNode(ctx, r, nodeID, nodeUpdate{}); err != nil {
			return err
		}
		return e.completeInstance(ctx, r, nodeID)

	default:
		return e.failNode(ctx, r, nodeID, fmt.Errorf("%w: node %s has unsupported data %T", ErrInvalidGraph, nodeID, node.Data), nodeUpdate{}, "", finalNotice{})
	}
}

func (e *engineImpl) completeNode(ctx context.Context, r *run, nodeID string, u nodeUpdate) error {
	return e.transitionNode(ctx, r, nodeID, domainwf.TriggerComplete, u)
}

// advance executes the targets of the node's outgoing edges. For condition
// nodes only edges of the taken branch are followed.
func (e *engineImpl) advance(ctx context.Context, r *run, fromID string, branch graph.Branch) error {
	if r.inst.IsTerminal() {
		return nil
	}

	var targets []string
	for _, edge := range r.g.Outgoing(fromID) {
		if branch != graph.BranchNone && edge.Branch != branch {
			continue
		}
		targets = append(targets, edge.Target)
	}

	if len(targets) == 0 {
		return e.failInstance(ctx, r, fromID, fmt.Errorf("%w: node %s (%s) has no outgoing edges", ErrDeadEnd, fromID, nodeKind(r.g, fromID)), "", finalNotice{})
	}

	for _, target := range targets {
		if r.inst.IsTerminal() {
			return nil
		}
		if err := e.execute(ctx, r, target); err != nil {
			return err
		}
	}
	return nil
}

func (e *engineImpl) executeApproval(ctx context.Context, r *run, node graph.Node, data graph.ApprovalData) error {
	users, err := e.resolver.Resolve(ctx, data.Approver, r.inst.OrgID)
	if err != nil {
		return e.failNode(ctx, r, node.ID, fmt.Errorf("failed to resolve approvers: %w", err), nodeUpdate{}, "", finalNotice{})
	}
	if len(users) == 0 {
		return e.failNode(ctx, r, node.ID, fmt.Errorf("%w: %s %q", ErrNoApprovers, data.Approver.Type, data.Approver.Value), nodeUpdate{}, "", finalNotice{})
	}

	ns := r.inst.Node(node.ID)
	ns.Assignees = userIDs(users)
	r.inst.UpdatedAt = e.clock.Now()
	if err := e.persist(ctx, r.inst, ""); err != nil {
		return err
	}

	e.notifier.Dispatch(ctx, notify.ApprovalRequest(data.MessageTemplate, e.templateData(r, node)), users)
	e.emit(ctx, event.NewEvent(event.TypeApprovalRequested, r.inst.ID, node.ID, map[string]interface{}{
		"assignees": ns.Assignees,
	}))

	e.armApprovalTimer(ctx, r.inst.ID, node.ID, data)
	return nil
}

func (e *engineImpl) executeCondition(ctx context.Context, r *run, node graph.Node, data graph.ConditionData) error {
	matched, err := e.conditions.Evaluate(data.Predicate, r.inst.Snapshot())
	if err != nil {
		return e.failNode(ctx, r, node.ID, fmt.Errorf("%w: condition %s: %v", ErrInvalidGraph, node.ID, err), nodeUpdate{}, "", finalNotice{})
	}

	branch, result := graph.BranchUnmatched, entity.ResultUnmatched
	if matched {
		branch, result = graph.BranchMatched, entity.ResultMatched
	}
	if err := e.completeNode(ctx, r, node.ID, nodeUpdate{
		data:  result,
		apply: func(ns *entity.NodeState) { ns.Result = result },
	}); err != nil {
		return err
	}
	return e.advance(ctx, r, node.ID, branch)
}

func (e *engineImpl) executeNotify(ctx context.Context, r *run, node graph.Node, data graph.NotifyData) error {
	recipients, err := e.recipients(ctx, r, data.Scope)
	if err != nil {
		// Delivery is best effort, an unresolvable scope must not block the graph
		e.logger.Error("Failed to resolve notification recipients",
			"instance_id", r.inst.ID,
			"node_id", node.ID,
			"error", err,
		)
	}

	report := e.notifier.Dispatch(ctx, notify.StatusUpdate(data.MessageTemplate, e.templateData(r, node)), recipients)
	if err := e.completeNode(ctx, r, node.ID, nodeUpdate{
		data: fmt.Sprintf("sent=%d failed=%d", len(report.Sent), len(report.Failed)),
		apply: func(ns *entity.NodeState) {
			ns.Result = entity.ResultNotified
			ns.Assignees = report.Sent
		},
	}); err != nil {
		return err
	}
	return e.advance(ctx, r, node.ID, graph.BranchNone)
}

func (e *engineImpl) executePayment(ctx context.Context, r *run, node graph.Node) error {
	if paid(r.inst) {
		e.logger.Info("Payment already processed, not charging twice",
			"instance_id", r.inst.ID,
			"node_id", node.ID,
		)
		if err := e.completeNode(ctx, r, node.ID, nodeUpdate{
			apply: func(ns *entity.NodeState) { ns.Result = entity.ResultPaid },
		}); err != nil {
			return err
		}
		return e.advance(ctx, r, node.ID, graph.BranchNone)
	}

	result, err := e.pay(ctx, r, node.ID)
	if err != nil {
		return e.failNode(ctx, r, node.ID, err, nodeUpdate{
			action: entity.ActionPayment,
			apply:  func(ns *entity.NodeState) { ns.Result = entity.ResultPaymentFailed },
		}, entity.PaymentStatusPaymentFailed, finalNotice{})
	}

	if err := e.completeNode(ctx, r, node.ID, nodeUpdate{
		action:        entity.ActionPayment,
		data:          result.TransactionID,
		requestStatus: entity.PaymentStatusPaid,
		apply:         func(ns *entity.NodeState) { ns.Result = entity.ResultPaid },
	}); err != nil {
		return err
	}
	return e.advance(ctx, r, node.ID, graph.BranchNone)
}

// decision is a resolution of an approval node, human or automatic
type decision struct {
	approved bool
	actor    string
	comments string
	action   string
}

// resolveApproval settles a running approval node. The node's timer is
// cancelled only once the resolution is committed, so a failed write leaves
// the node running with its timer armed. A timer that fires in between waits
// on the instance lock and is dropped as superseded.
func (e *engineImpl) resolveApproval(ctx context.Context, r *run, node graph.Node, data graph.ApprovalData, d decision) error {
	settled := func() {
		e.scheduler.Cancel(ctx, scheduler.Key{InstanceID: r.inst.ID, NodeID: node.ID})
	}

	record := func(result string) func(ns *entity.NodeState) {
		return func(ns *entity.NodeState) {
			ns.DecidedBy = d.actor
			ns.Comments = d.comments
			ns.Result = result
		}
	}
	resolved := func(approved bool) {
		e.emit(ctx, event.NewEvent(event.TypeApprovalResolved, r.inst.ID, node.ID, map[string]interface{}{
			"approved":   approved,
			"decided_by": d.actor,
			"automatic":  d.action == entity.ActionAutoApproval,
		}))
		e.logger.Info("Approval resolved",
			"instance_id", r.inst.ID,
			"node_id", node.ID,
			"approved", approved,
			"decided_by", d.actor,
		)
	}

	if !d.approved {
		if err := e.transitionNode(ctx, r, node.ID, domainwf.TriggerFail, nodeUpdate{
			actor:  d.actor,
			action: d.action,
			data:   d.comments,
			apply:  record(entity.ResultRejected),
		}); err != nil {
			return err
		}
		settled()
		resolved(false)
		return e.failInstance(ctx, r, node.ID, fmt.Errorf("%w by %s at %s", ErrRejected, d.actor, node.ID), entity.PaymentStatusRejected, finalNotice{
			status:    "rejected",
			decidedBy: d.actor,
			comments:  d.comments,
		})
	}

	if data.IsPaymentTrigger && !paid(r.inst) {
		result, err := e.pay(ctx, r, node.ID)
		if err != nil {
			if ferr := e.failNode(ctx, r, node.ID, err, nodeUpdate{
				actor:  d.actor,
				action: d.action,
				data:   d.comments,
				apply:  record(entity.ResultPaymentFailed),
			}, entity.PaymentStatusPaymentFailed, finalNotice{decidedBy: d.actor}); ferr != nil {
				return ferr
			}
			settled()
			resolved(true)
			return nil
		}
		if err := e.completeNode(ctx, r, node.ID, nodeUpdate{
			actor:         d.actor,
			action:        d.action,
			data:          result.TransactionID,
			requestStatus: entity.PaymentStatusPaid,
			apply:         record(entity.ResultPaid),
		}); err != nil {
			return err
		}
		settled()
		resolved(true)
		return e.advance(ctx, r, node.ID, graph.BranchNone)
	}

	if err := e.completeNode(ctx, r, node.ID, nodeUpdate{
		actor:  d.actor,
		action: d.action,
		data:   d.comments,
		apply:  record(entity.ResultApproved),
	}); err != nil {
		return err
	}
	settled()
	resolved(true)
	return e.advance(ctx, r, node.ID, graph.BranchNone)
}

// completeInstance finishes the instance after an end node and announces it
func (e *engineImpl) completeInstance(ctx context.Context, r *run, endID string) error {
	status := entity.PaymentStatusApproved
	if paid(r.inst) {
		status = ""
	}
	if err := e.finishInstance(ctx, r, domainwf.TriggerComplete, nil, status); err != nil {
		return err
	}
	e.notifyStakeholders(ctx, r, finalNotice{status: "processed", nodeID: endID})
	return nil
}

// pay invokes the payment processor. Declines are returned as ErrPaymentFailed.
func (e *engineImpl) pay(ctx context.Context, r *run, nodeID string) (*entity.PaymentResult, error) {
	req, err := e.requestRepo.GetByID(ctx, r.inst.PaymentRequestID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load payment request: %v", ErrPaymentFailed, err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: payment request %s not found", ErrPaymentFailed, r.inst.PaymentRequestID)
	}

	result, err := e.payments.Process(ctx, req)
	switch {
	case err != nil:
		err = fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	case result == nil || !result.Success:
		msg := "declined"
		if result != nil && result.Message != "" {
			msg = result.Message
		}
		err = fmt.Errorf("%w: %s", ErrPaymentFailed, msg)
	}

	payload := map[string]interface{}{
		"success": err == nil,
		"amount":  req.Amount,
	}
	if err != nil {
		payload["error"] = err.Error()
	} else {
		payload["transaction_id"] = result.TransactionID
	}
	e.emit(ctx, event.NewEvent(event.TypePaymentProcessed, r.inst.ID, nodeID, payload))

	if err != nil {
		return nil, err
	}
	return result, nil
}

func paid(inst *entity.WorkflowInstance) bool {
	for _, ns := range inst.NodeStates {
		if ns.Status == domainwf.StateCompleted && ns.Result == entity.ResultPaid {
			return true
		}
	}
	return false
}

func userIDs(users []*entity.User) []string {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}
