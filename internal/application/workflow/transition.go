package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
	"github.com/garyjia/payment-approval/internal/domain/graph"
	domainwf "github.com/garyjia/payment-approval/internal/domain/workflow"
)

// run is the working state of one engine operation on one instance. It is
// only touched while the instance lock is held.
type run struct {
	g    *graph.Graph
	inst *entity.WorkflowInstance
}

// nodeUpdate describes the side data of a node transition
type nodeUpdate struct {
	actor         string
	action        string
	data          string
	requestStatus string
	apply         func(ns *entity.NodeState)
}

// transitionNode moves a node along its lifecycle and persists the instance
// together with a history row in one transaction
func (e *engineImpl) transitionNode(ctx context.Context, r *run, nodeID string, trigger domainwf.Trigger, u nodeUpdate) error {
	ns := r.inst.Node(nodeID)
	if ns == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	prev := ns.Status
	next, err := domainwf.NextNodeState(prev, trigger)
	if err != nil {
		return fmt.Errorf("node %s: %w", nodeID, err)
	}

	now := e.clock.Now()
	ns.Status = next
	switch next {
	case domainwf.StateRunning:
		ns.StartedAt = &now
		r.inst.SetActive(nodeID, true)
	case domainwf.StateCompleted, domainwf.StateFailed, domainwf.StateSkipped:
		ns.CompletedAt = &now
		r.inst.SetActive(nodeID, false)
	}
	if u.apply != nil {
		u.apply(ns)
	}
	r.inst.UpdatedAt = now

	action := u.action
	if action == "" {
		action = entity.ActionNodeStatusChanged
	}
	history := &entity.ApprovalHistory{
		InstanceID:     r.inst.ID,
		NodeID:         nodeID,
		ActorID:        u.actor,
		PreviousStatus: prev.String(),
		NewStatus:      next.String(),
		ActionType:     action,
		ActionData:     u.data,
		Timestamp:      now,
	}
	if err := e.persist(ctx, r.inst, u.requestStatus, history); err != nil {
		return err
	}

	e.emit(ctx, event.NewEvent(event.TypeNodeStatusChanged, r.inst.ID, nodeID, map[string]interface{}{
		"previous_status": prev.String(),
		"new_status":      next.String(),
		"trigger":         trigger.String(),
		"kind":            string(nodeKind(r.g, nodeID)),
	}))
	return nil
}

// persist saves the instance document, its history rows and an optional
// payment request status change in one transaction
func (e *engineImpl) persist(ctx context.Context, inst *entity.WorkflowInstance, requestStatus string, rows ...*entity.ApprovalHistory) error {
	return e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.instanceRepo.Save(txCtx, inst); err != nil {
			return fmt.Errorf("failed to save instance: %w", err)
		}
		for _, row := range rows {
			if err := e.historyRepo.Create(txCtx, row); err != nil {
				return fmt.Errorf("failed to create history record: %w", err)
			}
		}
		if requestStatus != "" {
			if err := e.requestRepo.UpdateStatus(txCtx, inst.PaymentRequestID, requestStatus); err != nil {
				return fmt.Errorf("failed to update payment request status: %w", err)
			}
		}
		return nil
	})
}

// finishInstance moves the instance to a terminal state exactly once. Nodes
// still running on other branches are skipped, pending nodes stay pending,
// and every armed timer of the instance is cancelled.
func (e *engineImpl) finishInstance(ctx context.Context, r *run, trigger domainwf.Trigger, cause error, requestStatus string) error {
	prev := r.inst.Status
	next, err := domainwf.NextInstanceState(prev, trigger)
	if err != nil {
		return fmt.Errorf("instance %s: %w", r.inst.ID, err)
	}

	now := e.clock.Now()
	r.inst.Status = next
	r.inst.UpdatedAt = now
	r.inst.CompletedAt = &now
	if cause != nil {
		r.inst.FailureReason = cause.Error()
	}

	action := entity.ActionInstanceCompleted
	if next == domainwf.StateFailed {
		action = entity.ActionInstanceFailed
	}
	rows := []*entity.ApprovalHistory{{
		InstanceID:     r.inst.ID,
		PreviousStatus: prev.String(),
		NewStatus:      next.String(),
		ActionType:     action,
		ActionData:     r.inst.FailureReason,
		Timestamp:      now,
	}}

	for _, nodeID := range append([]string(nil), r.inst.ActiveNodeIDs...) {
		ns := r.inst.Node(nodeID)
		if ns == nil || ns.Status != domainwf.StateRunning {
			continue
		}
		skipped, err := domainwf.NextNodeState(ns.Status, domainwf.TriggerSkip)
		if err != nil {
			return fmt.Errorf("node %s: %w", nodeID, err)
		}
		ns.Status = skipped
		ns.CompletedAt = &now
		r.inst.SetActive(nodeID, false)
		rows = append(rows, &entity.ApprovalHistory{
			InstanceID:     r.inst.ID,
			NodeID:         nodeID,
			PreviousStatus: domainwf.StateRunning.String(),
			NewStatus:      skipped.String(),
			ActionType:     entity.ActionNodeStatusChanged,
			Timestamp:      now,
		})
	}

	if err := e.persist(ctx, r.inst, requestStatus, rows...); err != nil {
		return err
	}
	e.cancelTimers(ctx, r)

	evtType := event.TypeInstanceCompleted
	if next == domainwf.StateFailed {
		evtType = event.TypeInstanceFailed
	}
	e.emit(ctx, event.NewEvent(evtType, r.inst.ID, "", map[string]interface{}{
		"reason":   r.inst.FailureReason,
		"duration": now.Sub(r.inst.CreatedAt).Seconds(),
	}))
	e.logger.Info("Workflow finished",
		"instance_id", r.inst.ID,
		"status", next,
		"reason", r.inst.FailureReason,
	)
	return nil
}

// failInstance fails the instance and tells the stakeholders why
func (e *engineImpl) failInstance(ctx context.Context, r *run, nodeID string, cause error, requestStatus string, final finalNotice) error {
	if r.inst.IsTerminal() {
		return nil
	}
	e.logger.Error("Workflow failed",
		"instance_id", r.inst.ID,
		"node_id", nodeID,
		"error", cause,
	)
	if err := e.finishInstance(ctx, r, domainwf.TriggerFail, cause, requestStatus); err != nil {
		return err
	}
	final.nodeID = nodeID
	if final.status == "" {
		final.status = "failed"
	}
	final.reason = cause.Error()
	e.notifyStakeholders(ctx, r, final)
	return nil
}

// failNode fails a running node and then the whole instance
func (e *engineImpl) failNode(ctx context.Context, r *run, nodeID string, cause error, u nodeUpdate, requestStatus string, final finalNotice) error {
	prevApply := u.apply
	u.apply = func(ns *entity.NodeState) {
		ns.Error = cause.Error()
		if prevApply != nil {
			prevApply(ns)
		}
	}
	if err := e.transitionNode(ctx, r, nodeID, domainwf.TriggerFail, u); err != nil {
		return err
	}
	return e.failInstance(ctx, r, nodeID, cause, requestStatus, final)
}

func nodeKind(g *graph.Graph, nodeID string) graph.Kind {
	n, _ := g.Node(nodeID)
	return n.Kind()
}
