package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/garyjia/payment-approval/internal/domain/workflow"
)

func TestWorkflowInstance_CloneIsDeep(t *testing.T) {
	now := time.Now()
	inst := &WorkflowInstance{
		ID:     "i1",
		Status: workflow.StateRunning,
		NodeStates: map[string]*NodeState{
			"a": {Status: workflow.StateRunning, StartedAt: &now, Assignees: []string{"u1"}},
		},
		ActiveNodeIDs: []string{"a"},
		Metadata:      InstanceMetadata{AdminIDs: []string{"admin"}},
	}

	c := inst.Clone()
	c.NodeStates["a"].Status = workflow.StateCompleted
	c.NodeStates["a"].Assignees[0] = "u2"
	*c.NodeStates["a"].StartedAt = now.Add(time.Hour)
	c.SetActive("a", false)
	c.Metadata.AdminIDs[0] = "other"

	assert.Equal(t, workflow.StateRunning, inst.NodeStates["a"].Status)
	assert.Equal(t, "u1", inst.NodeStates["a"].Assignees[0])
	assert.Equal(t, now, *inst.NodeStates["a"].StartedAt)
	assert.Equal(t, []string{"a"}, inst.ActiveNodeIDs)
	assert.Equal(t, "admin", inst.Metadata.AdminIDs[0])
}

func TestWorkflowInstance_ActiveSet(t *testing.T) {
	inst := &WorkflowInstance{}
	inst.SetActive("a", true)
	inst.SetActive("b", true)
	inst.SetActive("a", true)
	assert.Equal(t, []string{"a", "b"}, inst.ActiveNodeIDs)

	inst.SetActive("a", false)
	assert.False(t, inst.IsActive("a"))
	assert.True(t, inst.IsActive("b"))
}

func TestWorkflowInstance_IsTerminal(t *testing.T) {
	assert.False(t, (&WorkflowInstance{Status: workflow.StateRunning}).IsTerminal())
	assert.True(t, (&WorkflowInstance{Status: workflow.StateCompleted}).IsTerminal())
	assert.True(t, (&WorkflowInstance{Status: workflow.StateFailed}).IsTerminal())
}

func TestWorkflowInstance_Snapshot(t *testing.T) {
	inst := &WorkflowInstance{
		OrgID:    "org",
		Metadata: InstanceMetadata{RequesterID: "r", Amount: 12.5, Currency: "USD", Category: "travel"},
	}
	assert.Equal(t, PaymentSnapshot{Amount: 12.5, Currency: "USD", Category: "travel", OrgID: "org", RequesterID: "r"}, inst.Snapshot())
}
