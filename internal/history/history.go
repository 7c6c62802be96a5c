package history

import (
	"context"
	"errors"
	"io"
	"time"
)

// EventType defines the kind of node lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop" // graceful stop
	EventKill  EventType = "kill" // stop escalated to SIGKILL
)

// Record describes the node at the time of an event.
type Record struct {
	Name    string `json:"name"`
	PID     int    `json:"pid"`
	Args    string `json:"args,omitempty"`
	ExitErr string `json:"exit_error,omitempty"`
}

// Event is exported to external analytics/audit systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi fans an event out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
