package process

import "time"

// NodeStatus is derived from the primary handle on every poll, never stored.
type NodeStatus string

const (
	StatusRunning NodeStatus = "running"
	StatusStopped NodeStatus = "stopped"
)

// Info is a point-in-time view of the supervised node.
type Info struct {
	Status    NodeStatus `json:"status"`
	PID       int        `json:"pid,omitempty"`
	SinkPID   int        `json:"sink_pid,omitempty"`
	StartedAt time.Time  `json:"started_at,omitzero"`
	ExitErr   string     `json:"exit_error,omitempty"`
}

// StopMode tells how a successful Stop ended the node.
type StopMode int

const (
	StopGraceful StopMode = iota + 1
	StopForced
)

func (m StopMode) String() string {
	switch m {
	case StopGraceful:
		return "graceful"
	case StopForced:
		return "forced"
	default:
		return "none"
	}
}
