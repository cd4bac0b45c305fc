package orchestrator

import (
	"context"
	"sync"

	"goa.design/ticketflow/runtime/session"
)

// Handle is the in-process future of a running session.
type Handle struct {
	id   session.ID
	done chan struct{}

	mu      sync.Mutex
	outcome *session.Outcome
	err     error
}

func newHandle(id session.ID) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

// ID returns the session identifier.
func (h *Handle) ID() session.ID {
	return h.id
}

// Done is closed once the session is finalized.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the session is finalized or ctx is done. It returns the
// outcome produced by the pipeline, if any, and the session error. A session
// whose outcome could not be persisted returns both.
func (h *Handle) Wait(ctx context.Context) (*session.Outcome, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.outcome.Clone(), h.err
	}
}

func (h *Handle) resolve(out *session.Outcome, err error) {
	h.mu.Lock()
	h.outcome = out
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

func (h *Handle) finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
