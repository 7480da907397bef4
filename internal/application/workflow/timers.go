package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/payment-approval/internal/application/notify"
	"github.com/garyjia/payment-approval/internal/application/scheduler"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/event"
	"github.com/garyjia/payment-approval/internal/domain/graph"
	domainwf "github.com/garyjia/payment-approval/internal/domain/workflow"
)

// TimerRetryDelay is how long a timer whose handling failed waits before it
// fires again
const TimerRetryDelay = time.Minute

// timerPolicy returns the timer kind and delay for an approval node: a single
// auto-approve after the timeout, or a repeating reminder at the timeout
// interval. A zero reminder interval falls back to the default.
func (e *engineImpl) timerPolicy(data graph.ApprovalData) (string, time.Duration) {
	if data.AutoApproveOnTimeout {
		return entity.TimerAutoApprove, data.Timeout()
	}
	interval := data.Timeout()
	if interval <= 0 {
		interval = e.defaultReminder
	}
	return entity.TimerReminder, interval
}

func (e *engineImpl) armApprovalTimer(ctx context.Context, instanceID, nodeID string, data graph.ApprovalData) {
	kind, delay := e.timerPolicy(data)
	e.scheduler.Arm(ctx, scheduler.Key{InstanceID: instanceID, NodeID: nodeID}, kind, delay)
}

// cancelTimers cancels the timers of every approval node of the instance
func (e *engineImpl) cancelTimers(ctx context.Context, r *run) {
	for _, n := range r.g.NodesOfKind(graph.KindApproval) {
		e.scheduler.Cancel(ctx, scheduler.Key{InstanceID: r.inst.ID, NodeID: n.ID})
	}
}

// onTimer handles a fired timer. Timers that lost a race with a decision,
// or hit a node that is no longer running, are logged no-ops.
func (e *engineImpl) onTimer(ctx context.Context, key scheduler.Key, kind string, generation uint64) {
	unlock := e.locks.Lock(key.InstanceID)
	defer unlock()

	if !e.scheduler.Current(key, generation) {
		e.logger.Info("Timer superseded before it could run",
			"instance_id", key.InstanceID,
			"node_id", key.NodeID,
			"kind", kind,
		)
		return
	}

	if err := e.handleTimer(ctx, key, kind); err != nil {
		e.logger.Error("Timer handling failed",
			"instance_id", key.InstanceID,
			"node_id", key.NodeID,
			"kind", kind,
			"error", err,
		)
		// A fired timer stays registered until the node settles; re-arm it
		// so the node is not left without one.
		if e.scheduler.Current(key, generation) {
			e.scheduler.Arm(ctx, key, kind, TimerRetryDelay)
		}
	}
}

func (e *engineImpl) handleTimer(ctx context.Context, key scheduler.Key, kind string) error {
	inst, err := e.instanceRepo.GetByID(ctx, key.InstanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance: %w", err)
	}
	var ns *entity.NodeState
	if inst != nil {
		ns = inst.Node(key.NodeID)
	}
	if inst == nil || inst.IsTerminal() || ns == nil || !domainwf.Resolvable(ns.Status) {
		e.scheduler.Cancel(ctx, key)
		e.logger.Info("Timer fired for a node that is no longer running",
			"instance_id", key.InstanceID,
			"node_id", key.NodeID,
			"kind", kind,
		)
		return nil
	}

	g, err := e.loadGraph(ctx, inst.GraphRef)
	if err != nil {
		return err
	}
	node, ok := g.Node(key.NodeID)
	if !ok {
		e.scheduler.Cancel(ctx, key)
		return fmt.Errorf("%w: %s", ErrNodeNotFound, key.NodeID)
	}
	data, ok := node.Data.(graph.ApprovalData)
	if !ok {
		e.scheduler.Cancel(ctx, key)
		return fmt.Errorf("%w: %s", ErrNodeNotApproval, key.NodeID)
	}

	r := &run{g: g, inst: inst}
	switch kind {
	case entity.TimerAutoApprove:
		return e.resolveApproval(ctx, r, node, data, decision{
			approved: true,
			actor:    e.systemActor,
			comments: "approved automatically after timeout",
			action:   entity.ActionAutoApproval,
		})
	case entity.TimerReminder:
		return e.remind(ctx, r, node, data)
	default:
		e.scheduler.Cancel(ctx, key)
		return fmt.Errorf("unknown timer kind %q", kind)
	}
}

// remind re-sends the approval request to the node's assignees and re-arms
// the reminder at the same interval
func (e *engineImpl) remind(ctx context.Context, r *run, node graph.Node, data graph.ApprovalData) error {
	ns := r.inst.Node(node.ID)
	now := e.clock.Now()
	ns.RemindersSent++
	r.inst.UpdatedAt = now

	history := &entity.ApprovalHistory{
		InstanceID:     r.inst.ID,
		NodeID:         node.ID,
		ActorID:        e.systemActor,
		PreviousStatus: ns.Status.String(),
		NewStatus:      ns.Status.String(),
		ActionType:     entity.ActionReminderSent,
		ActionData:     fmt.Sprintf("reminder %d", ns.RemindersSent),
		Timestamp:      now,
	}
	if err := e.persist(ctx, r.inst, "", history); err != nil {
		return err
	}

	users, err := e.resolver.ResolveIDs(ctx, ns.Assignees)
	if err != nil {
		e.logger.Error("Failed to resolve reminder recipients",
			"instance_id", r.inst.ID,
			"node_id", node.ID,
			"error", err,
		)
	}

	td := e.templateData(r, node)
	td.Reminder = ns.RemindersSent
	if ns.StartedAt != nil {
		td.Waiting = now.Sub(*ns.StartedAt)
	}
	e.notifier.Dispatch(ctx, notify.Reminder(data.MessageTemplate, td), users)
	e.emit(ctx, event.NewEvent(event.TypeReminderSent, r.inst.ID, node.ID, map[string]interface{}{
		"reminder": ns.RemindersSent,
	}))

	e.armApprovalTimer(ctx, r.inst.ID, node.ID, data)
	return nil
}

// RecoverTimers re-arms persisted timers after a restart. Records whose node
// is no longer running are deleted; timers already armed in this process are
// left alone.
func (e *engineImpl) RecoverTimers(ctx context.Context) (int, error) {
	if e.timerRepo == nil {
		return 0, nil
	}
	records, err := e.timerRepo.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list timers: %w", err)
	}

	armed := 0
	for _, rec := range records {
		ok, err := e.recoverTimer(ctx, rec)
		if err != nil {
			e.logger.Error("Failed to recover timer",
				"instance_id", rec.InstanceID,
				"node_id", rec.NodeID,
				"error", err,
			)
			continue
		}
		if ok {
			armed++
		}
	}
	if armed > 0 {
		e.logger.Info("Timers recovered", "count", armed)
	}
	return armed, nil
}

func (e *engineImpl) recoverTimer(ctx context.Context, rec *entity.TimerRecord) (bool, error) {
	key := scheduler.Key{InstanceID: rec.InstanceID, NodeID: rec.NodeID}

	unlock := e.locks.Lock(rec.InstanceID)
	defer unlock()

	if _, armed := e.scheduler.Armed(key); armed {
		return false, nil
	}

	inst, err := e.instanceRepo.GetByID(ctx, rec.InstanceID)
	if err != nil {
		return false, fmt.Errorf("failed to load instance: %w", err)
	}
	if inst == nil || inst.IsTerminal() {
		return false, e.timerRepo.Delete(ctx, rec.InstanceID, rec.NodeID)
	}
	if ns := inst.Node(rec.NodeID); ns == nil || !domainwf.Resolvable(ns.Status) {
		return false, e.timerRepo.Delete(ctx, rec.InstanceID, rec.NodeID)
	}
	if _, err := e.loadGraph(ctx, inst.GraphRef); err != nil {
		return false, err
	}

	delay := rec.FireAt.Sub(e.clock.Now())
	if delay < 0 {
		delay = 0
	}
	e.scheduler.Arm(ctx, key, rec.Kind, delay)
	return true, nil
}
