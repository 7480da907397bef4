package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/payment-approval/internal/application/notify"
	"github.com/garyjia/payment-approval/internal/domain/entity"
	"github.com/garyjia/payment-approval/internal/domain/graph"
)

// finalNotice is the content of a final-status notification
type finalNotice struct {
	status    string
	nodeID    string
	decidedBy string
	comments  string
	reason    string
}

// approverIDs returns everyone an approval request was sent to so far
func approverIDs(r *run) []string {
	var ids []string
	for _, n := range r.g.NodesOfKind(graph.KindApproval) {
		if ns := r.inst.Node(n.ID); ns != nil {
			ids = append(ids, ns.Assignees...)
		}
	}
	return ids
}

// stakeholderIDs are the requester, the approvers and the organization admins
func stakeholderIDs(r *run) []string {
	ids := []string{r.inst.Metadata.RequesterID}
	ids = append(ids, approverIDs(r)...)
	return append(ids, r.inst.Metadata.AdminIDs...)
}

// recipients resolves a notify node scope into users
func (e *engineImpl) recipients(ctx context.Context, r *run, scope graph.RecipientScope) ([]*entity.User, error) {
	switch scope.Effective() {
	case graph.ScopeRequester:
		return e.resolver.ResolveIDs(ctx, []string{r.inst.Metadata.RequesterID})
	case graph.ScopeApprovers:
		return e.resolver.ResolveIDs(ctx, approverIDs(r))
	case graph.ScopeAdmins:
		return e.resolver.ResolveIDs(ctx, r.inst.Metadata.AdminIDs)
	case graph.ScopeStakeholders:
		return e.resolver.ResolveIDs(ctx, stakeholderIDs(r))
	case graph.ScopeRole:
		return e.resolver.Resolve(ctx, graph.ApproverSpec{Type: graph.ApproverRole, Value: scope.Value}, r.inst.OrgID)
	case graph.ScopeUser:
		return e.resolver.Resolve(ctx, graph.ApproverSpec{Type: graph.ApproverUser, Value: scope.Value}, r.inst.OrgID)
	default:
		return nil, fmt.Errorf("unknown recipient scope %q", scope.Type)
	}
}

// notifyStakeholders sends the final status of the instance to every stakeholder
func (e *engineImpl) notifyStakeholders(ctx context.Context, r *run, final finalNotice) {
	users, err := e.resolver.ResolveIDs(ctx, stakeholderIDs(r))
	if err != nil {
		e.logger.Error("Failed to resolve stakeholders",
			"instance_id", r.inst.ID,
			"error", err,
		)
		return
	}

	data := e.templateData(r, graph.Node{ID: final.nodeID})
	data.Status = final.status
	data.DecidedBy = final.decidedBy
	data.Comments = final.comments
	data.Reason = final.reason
	e.notifier.Dispatch(ctx, notify.FinalStatus(data), users)
}

func (e *engineImpl) templateData(r *run, node graph.Node) notify.TemplateData {
	label := node.Label
	if label == "" {
		label = node.ID
	}
	md := r.inst.Metadata
	return notify.TemplateData{
		InstanceID:       r.inst.ID,
		NodeID:           node.ID,
		NodeLabel:        label,
		RequesterName:    md.RequesterName,
		OrganizationName: md.OrganizationName,
		Amount:           md.Amount,
		Currency:         md.Currency,
		Category:         md.Category,
		Description:      md.Description,
		Status:           r.inst.Status.String(),
	}
}
