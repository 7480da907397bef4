package graph

// Kind identifies the behaviour of a node
type Kind string

// Node kinds
const (
	KindStart     Kind = "start"
	KindApproval  Kind = "approval"
	KindCondition Kind = "condition"
	KindNotify    Kind = "notify"
	KindPayment   Kind = "payment"
	KindEnd       Kind = "end"
)

// IsValid returns true if k is a known node kind
func (k Kind) IsValid() bool {
	switch k {
	case KindStart, KindApproval, KindCondition, KindNotify, KindPayment, KindEnd:
		return true
	}
	return false
}

// Branch labels the outgoing edges of a condition node
type Branch string

const (
	BranchNone      Branch = ""
	BranchMatched   Branch = "matched"
	BranchUnmatched Branch = "unmatched"
)

// Graph is an immutable workflow definition. It is shared by every instance
// started from it and must not be modified after StartWorkflow.
type Graph struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is one step of a workflow graph. Its kind is carried by Data.
type Node struct {
	ID    string
	Label string
	Data  NodeData
}

// Kind returns the node kind, or "" when the node has no data
func (n Node) Kind() Kind {
	if n.Data == nil {
		return ""
	}
	return n.Data.Kind()
}

// Edge is a directed transition between two nodes
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Branch Branch `json:"branch,omitempty"`
}

// Node returns the node with the given id
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// StartNode returns the first start node of the graph
func (g *Graph) StartNode() (Node, bool) {
	for _, n := range g.Nodes {
		if n.Kind() == KindStart {
			return n, true
		}
	}
	return Node{}, false
}

// Outgoing returns the edges leaving the node, in declaration order
func (g *Graph) Outgoing(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns the edges entering the node, in declaration order
func (g *Graph) Incoming(id string) []Edge {
	var in []Edge
	for _, e := range g.Edges {
		if e.Target == id {
			in = append(in, e)
		}
	}
	return in
}

// NodesOfKind returns every node of the given kind
func (g *Graph) NodesOfKind(kind Kind) []Node {
	var nodes []Node
	for _, n := range g.Nodes {
		if n.Kind() == kind {
			nodes = append(nodes, n)
		}
	}
	return nodes
}
