// Package session defines the identity, lifecycle, and registry contract for
// ticket processing sessions.
//
// A session is one ticket's journey through the orchestrator:
//
//	created -> classifying -> executing -> completed
//	   \___________\______________\_____-> failed
//
// Statuses only move forward. Completed and failed are terminal. The registry
// tracks sessions that are alive in this process; durable outcomes live in a
// result.Store, so the registry can be pruned without losing history.
package session

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

type (
	// ID identifies a session. IDs are UUIDv7 strings: their lexicographic
	// order matches creation order and the creation time is embedded in the
	// first 48 bits.
	ID string

	// Status is the lifecycle state of a session.
	Status string

	// Outcome is the structured result produced by a pipeline. Detail is
	// pipeline specific and forwarded verbatim.
	Outcome struct {
		// Success reports whether the pipeline considers the ticket handled.
		Success bool `json:"success"`
		// Summary is a short human readable description of the result.
		Summary string `json:"summary,omitempty"`
		// Detail carries pipeline specific JSON.
		Detail json.RawMessage `json:"detail,omitempty"`
	}

	// Record is the registry view of a session.
	Record struct {
		// ID is the session identifier.
		ID ID
		// Status is the current lifecycle state.
		Status Status
		// Route is the classification label. Empty until classification
		// completes.
		Route string
		// Outcome is set once the session completed.
		Outcome *Outcome
		// Error is set once the session failed.
		Error string
		// CreatedAt records when the session was registered.
		CreatedAt time.Time
		// CompletedAt records when the session reached a terminal status.
		CompletedAt time.Time
	}

	// Transition describes a status change requested of a Registry.
	Transition struct {
		// Status is the target status.
		Status Status
		// Route is required when moving to StatusExecuting.
		Route string
		// Outcome is required when moving to StatusCompleted.
		Outcome *Outcome
		// Error is required when moving to StatusFailed.
		Error string
		// At is the transition time. Zero means now.
		At time.Time
	}

	// Registry tracks live sessions. Implementations must be safe for
	// concurrent use; a single session is only ever advanced by one goroutine.
	Registry interface {
		// Register records a new session in StatusCreated. It returns
		// ErrDuplicateSession if id is already registered.
		Register(ctx context.Context, id ID, createdAt time.Time) error
		// Transition advances a session and returns the updated record. It
		// returns ErrUnknownSession or ErrInvalidTransition.
		Transition(ctx context.Context, id ID, t Transition) (Record, error)
		// Get returns a copy of the session record or ErrUnknownSession.
		Get(ctx context.Context, id ID) (Record, error)
		// ListActive returns the non-terminal sessions ordered by ID.
		ListActive(ctx context.Context) ([]Record, error)
		// List returns every session held by the registry ordered by ID.
		List(ctx context.Context) ([]Record, error)
		// Prune removes terminal sessions that completed before the cutoff
		// and returns how many were removed.
		Prune(ctx context.Context, before time.Time) (int, error)
	}
)

const (
	// StatusCreated indicates the session was registered and not yet started.
	StatusCreated Status = "created"
	// StatusClassifying indicates the ticket is being classified.
	StatusClassifying Status = "classifying"
	// StatusExecuting indicates the routed pipeline is running.
	StatusExecuting Status = "executing"
	// StatusCompleted indicates the pipeline produced a successful outcome.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the session ended without a successful outcome.
	StatusFailed Status = "failed"
)

var (
	// ErrDuplicateSession is returned when registering an ID twice.
	ErrDuplicateSession = errors.New("session already registered")
	// ErrUnknownSession is returned when the registry has no such session.
	ErrUnknownSession = errors.New("session not found")
	// ErrInvalidTransition is returned when a transition does not follow the
	// lifecycle ordering.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrInvalidID is returned by Parse for malformed identifiers.
	ErrInvalidID = errors.New("invalid session id")
)

// Generate returns a new session ID. IDs generated by one process are
// strictly increasing.
func Generate() ID {
	return ID(uuid.Must(uuid.NewV7()).String())
}

// Parse validates s and returns it as an ID in canonical form.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidID, err)
	}
	if u.Version() != 7 {
		return "", fmt.Errorf("%w: version %d", ErrInvalidID, u.Version())
	}
	return ID(u.String()), nil
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// Time returns the creation time embedded in the ID with millisecond
// precision. It returns the zero time if id is malformed.
func (id ID) Time() time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	var b [8]byte
	copy(b[2:], u[:6])
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b[:]))).UTC()
}

// Location returns the storage path of the session under root. It is pure:
// the same root and ID always yield the same path.
func (id ID) Location(root string) string {
	return filepath.Join(root, string(id))
}

// Terminal reports whether s is a final status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusClassifying, StatusExecuting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a session in status from may move to to.
// Failure is reachable from every non-terminal status; every other edge is
// the single next step of the lifecycle.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StatusClassifying:
		return from == StatusCreated
	case StatusExecuting:
		return from == StatusClassifying
	case StatusCompleted:
		return from == StatusExecuting
	case StatusFailed:
		return true
	}
	return false
}

// Validate checks that t is a well-formed transition out of status from.
func (t Transition) Validate(from Status) error {
	if !CanTransition(from, t.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, t.Status)
	}
	switch t.Status {
	case StatusExecuting:
		if t.Route == "" {
			return fmt.Errorf("%w: route is required to start executing", ErrInvalidTransition)
		}
	case StatusCompleted:
		if t.Outcome == nil {
			return fmt.Errorf("%w: outcome is required to complete", ErrInvalidTransition)
		}
		if t.Error != "" {
			return fmt.Errorf("%w: completed session cannot carry an error", ErrInvalidTransition)
		}
	case StatusFailed:
		if t.Error == "" {
			return fmt.Errorf("%w: error is required to fail", ErrInvalidTransition)
		}
		if t.Outcome != nil {
			return fmt.Errorf("%w: failed session cannot carry an outcome", ErrInvalidTransition)
		}
	}
	return nil
}

// Clone returns a deep copy of o.
func (o *Outcome) Clone() *Outcome {
	if o == nil {
		return nil
	}
	out := *o
	if o.Detail != nil {
		out.Detail = append(json.RawMessage(nil), o.Detail...)
	}
	return &out
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.Outcome = r.Outcome.Clone()
	return r
}
