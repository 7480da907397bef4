package workflow

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerActivate Trigger = "ACTIVATE"
	TriggerComplete Trigger = "COMPLETE"
	TriggerFail     Trigger = "FAIL"
	TriggerSkip     Trigger = "SKIP"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
