package workflow

import "fmt"

// Lifecycle is a static transition table. It is built once at package
// initialisation and only read afterwards, so it is safe for concurrent use.
type Lifecycle struct {
	name  string
	edges map[State]map[Trigger]State
}

// NewLifecycle creates an empty lifecycle. name appears in transition errors.
func NewLifecycle(name string) *Lifecycle {
	return &Lifecycle{
		name:  name,
		edges: make(map[State]map[Trigger]State),
	}
}

// Permit allows trigger to move from one state to another. It panics on
// unknown states or a trigger permitted twice from the same state, since
// lifecycles are fixed at compile time.
func (l *Lifecycle) Permit(from State, trigger Trigger, to State) *Lifecycle {
	if !from.IsValid() || !to.IsValid() {
		panic(fmt.Sprintf("%s lifecycle: invalid transition %s -> %s", l.name, from, to))
	}
	out, ok := l.edges[from]
	if !ok {
		out = make(map[Trigger]State)
		l.edges[from] = out
	}
	if prev, dup := out[trigger]; dup {
		panic(fmt.Sprintf("%s lifecycle: %s already permitted from %s (to %s)", l.name, trigger, from, prev))
	}
	out[trigger] = to
	return l
}

// Next returns the state trigger leads to from "from"
func (l *Lifecycle) Next(from State, trigger Trigger) (State, error) {
	if !from.IsValid() {
		return from, fmt.Errorf("%w: %s", ErrInvalidState, from)
	}
	to, ok := l.edges[from][trigger]
	if !ok {
		return from, fmt.Errorf("%w: %s %s from %s", ErrInvalidTransition, l.name, trigger, from)
	}
	return to, nil
}

// Allows reports whether trigger can fire from "from"
func (l *Lifecycle) Allows(from State, trigger Trigger) bool {
	_, ok := l.edges[from][trigger]
	return ok
}
