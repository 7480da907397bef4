package workflow

import (
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, false},
		{StateRunning, false},
		{StateCompleted, true},
		{StateFailed, true},
		{StateSkipped, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsResolved(t *testing.T) {
	if StateSkipped.IsResolved() {
		t.Error("SKIPPED should not count as a resolved decision")
	}
	if !StateCompleted.IsResolved() || !StateFailed.IsResolved() {
		t.Error("COMPLETED and FAILED should count as resolved")
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"valid state", StatePending, true},
		{"valid state", StateSkipped, true},
		{"invalid state", State("INVALID"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLifecycle_PermitPanicsOnInvalidState(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() should panic on invalid state")
		}
	}()

	NewLifecycle("test").Permit(State("INVALID"), TriggerActivate, StateRunning)
}

func TestLifecycle_PermitPanicsOnDuplicateTrigger(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Permit() should panic when a trigger is permitted twice from one state")
		}
	}()

	NewLifecycle("test").
		Permit(StateRunning, TriggerComplete, StateCompleted).
		Permit(StateRunning, TriggerComplete, StateFailed)
}

func TestLifecycle_Allows(t *testing.T) {
	l := NewLifecycle("test").Permit(StatePending, TriggerActivate, StateRunning)

	if !l.Allows(StatePending, TriggerActivate) {
		t.Error("PENDING --ACTIVATE--> should be allowed")
	}
	if l.Allows(StatePending, TriggerComplete) {
		t.Error("PENDING --COMPLETE--> should not be allowed")
	}
	if l.Allows(StateRunning, TriggerActivate) {
		t.Error("RUNNING has no configured triggers")
	}
}

func TestNextNodeState(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		trigger Trigger
		want    State
		wantErr error
	}{
		{"activate pending", StatePending, TriggerActivate, StateRunning, nil},
		{"skip running", StateRunning, TriggerSkip, StateSkipped, nil},
		{"complete running", StateRunning, TriggerComplete, StateCompleted, nil},
		{"fail running", StateRunning, TriggerFail, StateFailed, nil},
		{"complete pending", StatePending, TriggerComplete, StatePending, ErrInvalidTransition},
		{"skip pending", StatePending, TriggerSkip, StatePending, ErrInvalidTransition},
		{"reopen completed", StateCompleted, TriggerActivate, StateCompleted, ErrInvalidTransition},
		{"fail completed", StateCompleted, TriggerFail, StateCompleted, ErrInvalidTransition},
		{"complete failed", StateFailed, TriggerComplete, StateFailed, ErrInvalidTransition},
		{"activate skipped", StateSkipped, TriggerActivate, StateSkipped, ErrInvalidTransition},
		{"invalid source", State("BOGUS"), TriggerActivate, State("BOGUS"), ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextNodeState(tt.from, tt.trigger)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NextNodeState() error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("NextNodeState() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NextNodeState() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextInstanceState(t *testing.T) {
	if got, err := NextInstanceState(StateRunning, TriggerComplete); err != nil || got != StateCompleted {
		t.Errorf("RUNNING --COMPLETE--> got (%v, %v), want COMPLETED", got, err)
	}
	if got, err := NextInstanceState(StateRunning, TriggerFail); err != nil || got != StateFailed {
		t.Errorf("RUNNING --FAIL--> got (%v, %v), want FAILED", got, err)
	}

	// An instance leaves RUNNING exactly once.
	for _, from := range []State{StateCompleted, StateFailed} {
		for _, trig := range []Trigger{TriggerComplete, TriggerFail, TriggerActivate} {
			if _, err := NextInstanceState(from, trig); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("NextInstanceState(%v, %v) error = %v, want %v", from, trig, err, ErrInvalidTransition)
			}
		}
	}
}

func TestResolvable(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StatePending, false},
		{StateRunning, true},
		{StateCompleted, false},
		{StateFailed, false},
		{StateSkipped, false},
		{State("BOGUS"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := Resolvable(tt.state); got != tt.want {
				t.Errorf("Resolvable(%v) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestNodeLifecycle_TerminalStatesAreFinal(t *testing.T) {
	triggers := []Trigger{TriggerActivate, TriggerComplete, TriggerFail, TriggerSkip}
	for _, s := range []State{StateCompleted, StateFailed, StateSkipped} {
		for _, trig := range triggers {
			if nodeLifecycle.Allows(s, trig) {
				t.Errorf("%v should not allow %v", s, trig)
			}
		}
	}
}
