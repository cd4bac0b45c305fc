// Package stream publishes session lifecycle events to external observers.
//
// Events are informational: the registry and result store remain the source
// of truth, and the orchestrator treats delivery failures as non-fatal.
package stream

import (
	"context"
	"sync"
	"time"

	"goa.design/ticketflow/runtime/session"
)

type (
	// EventType identifies the kind of lifecycle event.
	EventType string

	// Event describes one session status change.
	Event struct {
		// Type is the event kind.
		Type EventType `json:"type"`
		// SessionID identifies the session.
		SessionID session.ID `json:"session_id"`
		// Status is the session status after the change.
		Status session.Status `json:"status"`
		// Route is the classification label, once known.
		Route string `json:"route,omitempty"`
		// Summary is the outcome summary of a terminal session, if any.
		Summary string `json:"summary,omitempty"`
		// Error is the failure reason of a failed session.
		Error string `json:"error,omitempty"`
		// Timestamp records when the change happened.
		Timestamp time.Time `json:"timestamp"`
	}

	// Sink delivers events to a transport. Implementations must be safe for
	// concurrent use.
	Sink interface {
		// Send publishes event.
		Send(ctx context.Context, event Event) error
		// Close releases resources owned by the sink.
		Close(ctx context.Context) error
	}

	// NoopSink discards events.
	NoopSink struct{}

	// Recorder is a Sink that keeps every event in memory. It is intended
	// for tests.
	Recorder struct {
		mu     sync.Mutex
		events []Event
	}
)

const (
	// EventSessionCreated is emitted when a session is registered.
	EventSessionCreated EventType = "session_created"
	// EventSessionStatus is emitted on every non-terminal status change.
	EventSessionStatus EventType = "session_status"
	// EventSessionCompleted is emitted when a session completes.
	EventSessionCompleted EventType = "session_completed"
	// EventSessionFailed is emitted when a session fails.
	EventSessionFailed EventType = "session_failed"
)

// TypeFor returns the event type announcing a move to status.
func TypeFor(status session.Status) EventType {
	switch status {
	case session.StatusCreated:
		return EventSessionCreated
	case session.StatusCompleted:
		return EventSessionCompleted
	case session.StatusFailed:
		return EventSessionFailed
	default:
		return EventSessionStatus
	}
}

// FromRecord builds the event announcing rec's current status.
func FromRecord(rec session.Record, at time.Time) Event {
	ev := Event{
		Type:      TypeFor(rec.Status),
		SessionID: rec.ID,
		Status:    rec.Status,
		Route:     rec.Route,
		Error:     rec.Error,
		Timestamp: at.UTC(),
	}
	if rec.Outcome != nil {
		ev.Summary = rec.Outcome.Summary
	}
	return ev
}

// Send implements Sink.
func (NoopSink) Send(context.Context, Event) error { return nil }

// Close implements Sink.
func (NoopSink) Close(context.Context) error { return nil }

// Send implements Sink.
func (r *Recorder) Send(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Close implements Sink.
func (r *Recorder) Close(context.Context) error { return nil }

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// For returns the recorded events of one session in emission order.
func (r *Recorder) For(id session.ID) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.SessionID == id {
			out = append(out, ev)
		}
	}
	return out
}
