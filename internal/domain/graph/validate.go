package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrNoStartNode is returned when a graph has no start node
	ErrNoStartNode = errors.New("graph has no start node")

	// ErrInvalidGraph is returned when a graph violates a structural invariant
	ErrInvalidGraph = errors.New("invalid workflow graph")
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraph, fmt.Sprintf(format, args...))
}

// Validate checks the structural invariants of the graph. A graph without a
// start node yields ErrNoStartNode; every other violation wraps ErrInvalidGraph.
func (g *Graph) Validate() error {
	if g == nil {
		return ErrNoStartNode
	}

	nodes := make(map[string]Node, len(g.Nodes))
	var starts, ends []string
	for _, n := range g.Nodes {
		if n.ID == "" {
			return invalid("node with empty id")
		}
		if _, dup := nodes[n.ID]; dup {
			return invalid("duplicate node id %q", n.ID)
		}
		if n.Data == nil {
			return invalid("node %q has no kind", n.ID)
		}
		nodes[n.ID] = n

		switch n.Kind() {
		case KindStart:
			starts = append(starts, n.ID)
		case KindEnd:
			ends = append(ends, n.ID)
		}
	}

	if len(starts) == 0 {
		return ErrNoStartNode
	}
	if len(starts) > 1 {
		return invalid("multiple start nodes %v", starts)
	}
	if len(ends) == 0 {
		return invalid("graph has no end node")
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		if e.ID == "" {
			return invalid("edge %s->%s has empty id", e.Source, e.Target)
		}
		if edgeIDs[e.ID] {
			return invalid("duplicate edge id %q", e.ID)
		}
		edgeIDs[e.ID] = true

		src, ok := nodes[e.Source]
		if !ok {
			return invalid("edge %q references unknown source %q", e.ID, e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return invalid("edge %q references unknown target %q", e.ID, e.Target)
		}
		if e.Branch != BranchNone && src.Kind() != KindCondition {
			return invalid("edge %q has branch %q but source %q is not a condition", e.ID, e.Branch, e.Source)
		}
	}

	if len(g.Incoming(starts[0])) > 0 {
		return invalid("start node %q has incoming edges", starts[0])
	}
	for _, id := range ends {
		if len(g.Outgoing(id)) > 0 {
			return invalid("end node %q has outgoing edges", id)
		}
	}

	for _, n := range g.Nodes {
		if err := validateNode(g, n); err != nil {
			return err
		}
	}

	if err := g.checkReachable(starts[0]); err != nil {
		return err
	}
	return g.checkAcyclic()
}

func validateNode(g *Graph, n Node) error {
	switch d := n.Data.(type) {
	case ApprovalData:
		switch d.Approver.Type {
		case ApproverRole, ApproverUser:
		default:
			return invalid("approval node %q has unknown approver type %q", n.ID, d.Approver.Type)
		}
		if d.Approver.Value == "" {
			return invalid("approval node %q has empty approver value", n.ID)
		}
		if d.TimeoutHours != nil && *d.TimeoutHours < 0 {
			return invalid("approval node %q has negative timeout", n.ID)
		}
	case ConditionData:
		var matched, unmatched int
		out := g.Outgoing(n.ID)
		for _, e := range out {
			switch e.Branch {
			case BranchMatched:
				matched++
			case BranchUnmatched:
				unmatched++
			}
		}
		if len(out) != 2 || matched != 1 || unmatched != 1 {
			return invalid("condition node %q needs exactly one matched and one unmatched edge", n.ID)
		}
	case NotifyData:
		switch d.Scope.Effective() {
		case ScopeRequester, ScopeApprovers, ScopeAdmins, ScopeStakeholders:
		case ScopeRole, ScopeUser:
			if d.Scope.Value == "" {
				return invalid("notify node %q scope %q needs a value", n.ID, d.Scope.Type)
			}
		default:
			return invalid("notify node %q has unknown scope %q", n.ID, d.Scope.Type)
		}
	case StartData, PaymentData, EndData:
	default:
		return invalid("node %q has unsupported data %T", n.ID, n.Data)
	}
	return nil
}

func (g *Graph) checkReachable(start string) error {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.Outgoing(id) {
			if !seen[e.Target] {
				seen[e.Target] = true
				queue = append(queue, e.Target)
			}
		}
	}
	for _, n := range g.Nodes {
		if !seen[n.ID] {
			return invalid("node %q is not reachable from start", n.ID)
		}
	}
	return nil
}

// Node states only move forward, so a node can run at most once per
// instance and a cycle could never be traversed.
func (g *Graph) checkAcyclic() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.Nodes))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = grey
		for _, e := range g.Outgoing(id) {
			switch color[e.Target] {
			case grey:
				return invalid("cycle through edge %q", e.ID)
			case white:
				if err := visit(e.Target); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, n := range g.Nodes {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
