package workflow

// State represents a lifecycle state of a workflow node or instance
type State string

// Node lifecycle states
const (
	StatePending   State = "PENDING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateSkipped   State = "SKIPPED"
)

var validStates = map[State]bool{
	StatePending:   true,
	StateRunning:   true,
	StateCompleted: true,
	StateFailed:    true,
	StateSkipped:   true,
}

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateFailed:    true,
	StateSkipped:   true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// IsResolved returns true if the node has reached a decision outcome
func (s State) IsResolved() bool {
	return s == StateCompleted || s == StateFailed
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}
