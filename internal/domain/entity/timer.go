package entity

import "time"

// Timer kinds
const (
	TimerReminder    = "reminder"
	TimerAutoApprove = "auto_approve"
)

// TimerRecord is an armed timer, kept so it can be re-armed after a restart
type TimerRecord struct {
	InstanceID string        `json:"instance_id"`
	NodeID     string        `json:"node_id"`
	Kind       string        `json:"kind"`
	FireAt     time.Time     `json:"fire_at"`
	Interval   time.Duration `json:"interval"`
	CreatedAt  time.Time     `json:"created_at"`
}
