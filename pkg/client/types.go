package client

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunRequest starts the node. Env is a whitespace-separated KEY=VALUE list,
// Args is appended to the node's configured command line.
type RunRequest struct {
	Env  string `json:"env"`
	Args string `json:"args"`
}

// RPCRequest forwards Method to the node with positional Params.
type RPCRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// NodeStatus represents the status of the supervised node
type NodeStatus struct {
	Status    string    `json:"status"` // running or stopped
	PID       int       `json:"pid,omitempty"`
	SinkPID   int       `json:"sink_pid,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`
	ExitError string    `json:"exit_error,omitempty"`
}

// Running reports whether the daemon saw the node alive.
func (s NodeStatus) Running() bool { return s.Status == "running" }

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Kind       string // e.g. already_running, rpc_transport; empty when unclassified
	Message    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("API error (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}
