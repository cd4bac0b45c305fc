// Package result defines the durable store of session outcomes.
//
// The store is the system of record: the session registry is a process-local
// cache, so anything a caller needs after a restart must be written here.
// Records are write-once per session.
package result

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"goa.design/ticketflow/runtime/session"
)

type (
	// Record is the durable entry written when a session terminates.
	Record struct {
		// ID is the session identifier.
		ID session.ID `json:"id"`
		// Route is the classification label the session was routed to.
		Route string `json:"route,omitempty"`
		// Status is StatusCompleted or StatusFailed.
		Status session.Status `json:"status"`
		// Outcome is the successful pipeline result. Set for completed
		// sessions only.
		Outcome *session.Outcome `json:"outcome,omitempty"`
		// Partial is the failure outcome reported by the pipeline, kept for
		// diagnostics. Set for failed sessions only.
		Partial *session.Outcome `json:"partial,omitempty"`
		// Error describes why the session failed.
		Error string `json:"error,omitempty"`
		// CreatedAt records when the session was submitted.
		CreatedAt time.Time `json:"created_at"`
		// CompletedAt records when the session terminated.
		CompletedAt time.Time `json:"completed_at"`
	}

	// Summary is the compact listing view of a Record.
	Summary struct {
		ID          session.ID
		Route       string
		Status      session.Status
		Summary     string
		Error       string
		CreatedAt   time.Time
		CompletedAt time.Time
	}

	// Store persists session records. Implementations must be safe for
	// concurrent use.
	Store interface {
		// EnsureLocation creates the durable location for id. It is
		// idempotent.
		EnsureLocation(ctx context.Context, id session.ID) error
		// Write stores rec. It returns ErrAlreadyWritten if a record already
		// exists for rec.ID and a *PersistenceError if the location cannot be
		// written.
		Write(ctx context.Context, rec Record) error
		// Read returns the record for id or ErrNotFound.
		Read(ctx context.Context, id session.ID) (Record, error)
		// List yields a summary of every stored record ordered by ID. The
		// sequence is lazy and may be iterated again to restart from the
		// beginning. Locations without a record are skipped.
		List(ctx context.Context) iter.Seq2[Summary, error]
	}

	// PersistenceError reports a failure to write to or read from durable
	// storage.
	PersistenceError struct {
		// Op is the failed operation ("ensure", "write", "read", "list").
		Op string
		// ID is the session involved, if any.
		ID session.ID
		// Err is the underlying cause.
		Err error
	}
)

var (
	// ErrNotFound is returned when no record exists for a session.
	ErrNotFound = errors.New("result not found")
	// ErrAlreadyWritten is returned when writing a second record for a session.
	ErrAlreadyWritten = errors.New("result already written")
)

// Error implements error.
func (e *PersistenceError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("result store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("result store %s %s: %v", e.Op, e.ID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persistence wraps err in a *PersistenceError. It returns nil when err is
// nil and leaves ErrNotFound and ErrAlreadyWritten unwrapped so callers can
// keep matching them directly.
func Persistence(op string, id session.ID, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyWritten) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, ID: id, Err: err}
}

// Validate checks that rec can be written.
func (rec Record) Validate() error {
	if rec.ID == "" {
		return errors.New("session id is required")
	}
	switch rec.Status {
	case session.StatusCompleted:
		if rec.Outcome == nil {
			return errors.New("completed record requires an outcome")
		}
		if rec.Error != "" || rec.Partial != nil {
			return errors.New("completed record cannot carry failure details")
		}
	case session.StatusFailed:
		if rec.Error == "" {
			return errors.New("failed record requires an error")
		}
		if rec.Outcome != nil {
			return errors.New("failed record cannot carry a successful outcome")
		}
	default:
		return fmt.Errorf("record status must be terminal, got %q", rec.Status)
	}
	return nil
}

// Summarize returns the listing view of rec.
func (rec Record) Summarize() Summary {
	s := Summary{
		ID:          rec.ID,
		Route:       rec.Route,
		Status:      rec.Status,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
	}
	switch {
	case rec.Outcome != nil:
		s.Summary = rec.Outcome.Summary
	case rec.Partial != nil:
		s.Summary = rec.Partial.Summary
	}
	return s
}

// Clone returns a deep copy of rec.
func (rec Record) Clone() Record {
	rec.Outcome = rec.Outcome.Clone()
	rec.Partial = rec.Partial.Clone()
	return rec
}

// Collect drains seq into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Summary, error]) ([]Summary, error) {
	var out []Summary
	for s, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}
