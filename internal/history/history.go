package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of module lifecycle event.
type EventType string

const (
	EventStart       EventType = "start"
	EventExit        EventType = "exit"
	EventStop        EventType = "stop"
	EventSpawnFailed EventType = "spawn_failed"
)

// Record is the module state captured with an event.
type Record struct {
	Name     string `json:"name"`
	Origin   string `json:"origin"`
	Path     string `json:"path"`
	PID      int    `json:"pid"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Dispatch sends e to every sink. Sink failures are logged and never
// propagated: history is best-effort.
func Dispatch(ctx context.Context, log *slog.Logger, sinks []Sink, e Event) {
	for _, s := range sinks {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, e); err != nil && log != nil {
			log.Warn("history sink failed", "event", e.Type, "module", e.Record.Name, "error", err)
		}
	}
}
