// Package history persists bot lifecycle events for later inspection.
// Failures to record an event are logged by callers and never interrupt
// supervision.
package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart       EventType = "start"
	EventStop        EventType = "stop"
	EventCrash       EventType = "crash"
	EventAutoRestart EventType = "auto_restart"
	EventDetect      EventType = "detect"
)

// Event is one lifecycle edge of a tracked bot.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	Profile    string    `json:"profile"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for lifecycle events. Implementations must be safe
// for concurrent use.
type Sink interface {
	EnsureSchema(ctx context.Context) error
	Send(ctx context.Context, e Event) error
	// Recent returns up to limit events for a profile (all profiles when
	// empty), newest first.
	Recent(ctx context.Context, profile string, limit int) ([]Event, error)
	Close() error
}
