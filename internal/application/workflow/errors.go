package workflow

import (
	"errors"

	"github.com/garyjia/payment-approval/internal/domain/graph"
)

var (
	// ErrNoStartNode is returned by StartWorkflow when the graph has no start node
	ErrNoStartNode = graph.ErrNoStartNode

	// ErrInvalidGraph is returned by StartWorkflow when the graph is malformed
	ErrInvalidGraph = graph.ErrInvalidGraph

	// ErrInvalidRequest is returned when StartWorkflow is called without a payment request
	ErrInvalidRequest = errors.New("invalid payment request")

	// ErrGraphNotFound is returned when an instance references an unknown graph
	ErrGraphNotFound = errors.New("workflow graph not found")

	// ErrInstanceNotFound is returned when no instance has the given id
	ErrInstanceNotFound = errors.New("workflow instance not found")

	// ErrNodeNotFound is returned when the graph has no node with the given id
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeNotApproval is returned when a decision targets a non-approval node
	ErrNodeNotApproval = errors.New("node is not an approval node")

	// ErrNodeAlreadyResolved is returned when a decision targets a node that is
	// already completed, failed or skipped
	ErrNodeAlreadyResolved = errors.New("node already resolved")

	// ErrNodeNotActive is returned when a decision targets a node that has not started
	ErrNodeNotActive = errors.New("node is not awaiting a decision")

	// ErrInstanceTerminal is returned when a completed or failed instance would be mutated
	ErrInstanceTerminal = errors.New("workflow instance is terminal")

	// ErrNoApprovers fails an approval node whose approver spec resolves to nobody
	ErrNoApprovers = errors.New("approver spec resolved to no users")

	// ErrDeadEnd fails an instance that reaches a non-end node with nowhere to go
	ErrDeadEnd = errors.New("reached a dead end")

	// ErrPaymentFailed fails an instance whose payment was declined or errored
	ErrPaymentFailed = errors.New("payment failed")

	// ErrRejected fails an instance whose approval node was rejected
	ErrRejected = errors.New("approval rejected")
)
