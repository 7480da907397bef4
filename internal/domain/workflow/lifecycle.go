package workflow

// nodeLifecycle: PENDING -> RUNNING -> {COMPLETED | FAILED | SKIPPED}.
// SKIPPED marks a running node abandoned because its instance finished on
// another path.
var nodeLifecycle = NewLifecycle("node").
	Permit(StatePending, TriggerActivate, StateRunning).
	Permit(StateRunning, TriggerComplete, StateCompleted).
	Permit(StateRunning, TriggerFail, StateFailed).
	Permit(StateRunning, TriggerSkip, StateSkipped)

// instanceLifecycle: RUNNING -> {COMPLETED | FAILED}, exactly once.
var instanceLifecycle = NewLifecycle("instance").
	Permit(StateRunning, TriggerComplete, StateCompleted).
	Permit(StateRunning, TriggerFail, StateFailed)

// NextNodeState returns the state a node moves to when trigger fires from "from"
func NextNodeState(from State, trigger Trigger) (State, error) {
	return nodeLifecycle.Next(from, trigger)
}

// NextInstanceState returns the state an instance moves to when trigger fires from "from"
func NextInstanceState(from State, trigger Trigger) (State, error) {
	return instanceLifecycle.Next(from, trigger)
}

// Resolvable reports whether a node in state s can still be decided
func Resolvable(s State) bool {
	return nodeLifecycle.Allows(s, TriggerComplete)
}
