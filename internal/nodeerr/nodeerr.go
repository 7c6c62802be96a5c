package nodeerr

import (
	"errors"
	"fmt"
)

// Kind classifies every failure a control command can report.
type Kind int

const (
	KindConfigParse Kind = iota + 1
	KindAlreadyRunning
	KindNotRunning
	KindProcessSpawn
	KindIO
	KindRPCTransport
	KindRPCParse
)

func (k Kind) String() string {
	switch k {
	case KindConfigParse:
		return "config_parse"
	case KindAlreadyRunning:
		return "already_running"
	case KindNotRunning:
		return "not_running"
	case KindProcessSpawn:
		return "process_spawn"
	case KindIO:
		return "io"
	case KindRPCTransport:
		return "rpc_transport"
	case KindRPCParse:
		return "rpc_parse"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by the supervisor core.
// Msg is a human readable description, Err the underlying cause if any.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotRunning) works
// regardless of message or cause.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrConfigParse    = &Error{Kind: KindConfigParse}
	ErrAlreadyRunning = &Error{Kind: KindAlreadyRunning, Msg: "node is already running"}
	ErrNotRunning     = &Error{Kind: KindNotRunning, Msg: "node is not running"}
	ErrProcessSpawn   = &Error{Kind: KindProcessSpawn}
	ErrIO             = &Error{Kind: KindIO}
	ErrRPCTransport   = &Error{Kind: KindRPCTransport}
	ErrRPCParse       = &Error{Kind: KindRPCParse}
)

// ConfigParse reports a malformed env token.
func ConfigParse(token string) error {
	return &Error{Kind: KindConfigParse, Msg: fmt.Sprintf("invalid env token %q: want KEY=VALUE", token)}
}

// FromSpawn converts an os/exec start failure.
func FromSpawn(what string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindProcessSpawn, Msg: "failed to spawn " + what, Err: err}
}

// FromIO converts a filesystem error.
func FromIO(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindIO, Msg: "log file access failed", Err: err}
}

// FromTransport converts an HTTP client error; its text is reported unchanged.
func FromTransport(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindRPCTransport, Err: err}
}

// FromDecode converts a response decoding error.
func FromDecode(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindRPCParse, Msg: "JSON parse failed", Err: err}
}

// KindOf returns the kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
