package manager

import (
	"encoding/json"

	"github.com/loykin/nodevisor/internal/process"
)

// Command is one request to the actor. Commands carry data only; the actor
// decides what they do. Every Reply channel must be buffered with capacity 1
// so the actor never blocks on a caller that went away.
type Command interface {
	commandName() string
}

// Result pairs a reply value with its error.
type Result[T any] struct {
	Value T
	Err   error
}

// RunCommand starts the node. Env is a whitespace-separated KEY=VALUE list,
// Args is appended to the configured invocation.
type RunCommand struct {
	Env   string
	Args  string
	Reply chan error
}

// StopCommand terminates the node, escalating to SIGKILL after the stop timeout.
type StopCommand struct {
	Reply chan error
}

// QuitCommand ends the actor loop after replying. The node is left as is.
type QuitCommand struct {
	Reply chan error
}

// StatusCommand polls the node.
type StatusCommand struct {
	Reply chan process.Info
}

// LogCommand reads the whole captured log.
type LogCommand struct {
	Reply chan Result[string]
}

// RPCCommand forwards a JSON-RPC call with positional arguments.
type RPCCommand struct {
	Method string
	Args   []json.RawMessage
	Reply  chan Result[json.RawMessage]
}

func (RunCommand) commandName() string    { return "run" }
func (StopCommand) commandName() string   { return "stop" }
func (QuitCommand) commandName() string   { return "quit" }
func (StatusCommand) commandName() string { return "status" }
func (LogCommand) commandName() string    { return "log" }
func (RPCCommand) commandName() string    { return "rpc" }
