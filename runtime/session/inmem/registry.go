// Package inmem provides an in-memory implementation of session.Registry.
//
// The registry is a cache of sessions alive in the current process. Durable
// outcomes are kept by a result.Store, so terminal records may be pruned once
// callers are unlikely to poll them.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"goa.design/ticketflow/runtime/session"
)

type (
	// Registry is an in-memory implementation of session.Registry.
	// It is safe for concurrent use.
	Registry struct {
		mu       sync.RWMutex
		sessions map[session.ID]session.Record
		now      func() time.Time
	}

	// Option configures a Registry.
	Option func(*Registry)
)

// WithClock overrides the clock used for transitions that carry no time.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[session.ID]session.Record),
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register implements session.Registry.
func (r *Registry) Register(_ context.Context, id session.ID, createdAt time.Time) error {
	if id == "" {
		return errors.New("session id is required")
	}
	if createdAt.IsZero() {
		return errors.New("created_at is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("%w: %s", session.ErrDuplicateSession, id)
	}
	r.sessions[id] = session.Record{
		ID:        id,
		Status:    session.StatusCreated,
		CreatedAt: createdAt.UTC(),
	}
	return nil
}

// Transition implements session.Registry.
func (r *Registry) Transition(_ context.Context, id session.ID, t session.Transition) (session.Record, error) {
	if id == "" {
		return session.Record{}, errors.New("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.sessions[id]
	if !ok {
		return session.Record{}, fmt.Errorf("%w: %s", session.ErrUnknownSession, id)
	}
	if err := t.Validate(rec.Status); err != nil {
		return session.Record{}, err
	}
	at := t.At
	if at.IsZero() {
		at = r.now()
	}
	rec.Status = t.Status
	switch t.Status {
	case session.StatusExecuting:
		rec.Route = t.Route
	case session.StatusCompleted:
		rec.Outcome = t.Outcome.Clone()
		rec.CompletedAt = at.UTC()
	case session.StatusFailed:
		rec.Error = t.Error
		rec.CompletedAt = at.UTC()
	}
	r.sessions[id] = rec
	return rec.Clone(), nil
}

// Get implements session.Registry.
func (r *Registry) Get(_ context.Context, id session.ID) (session.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.sessions[id]
	if !ok {
		return session.Record{}, fmt.Errorf("%w: %s", session.ErrUnknownSession, id)
	}
	return rec.Clone(), nil
}

// ListActive implements session.Registry.
func (r *Registry) ListActive(_ context.Context) ([]session.Record, error) {
	return r.collect(func(rec session.Record) bool { return !rec.Status.Terminal() }), nil
}

// List implements session.Registry.
func (r *Registry) List(_ context.Context) ([]session.Record, error) {
	return r.collect(func(session.Record) bool { return true }), nil
}

// Prune implements session.Registry.
func (r *Registry) Prune(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for id, rec := range r.sessions {
		if rec.Status.Terminal() && rec.CompletedAt.Before(before) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of sessions held by the registry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) collect(keep func(session.Record) bool) []session.Record {
	r.mu.RLock()
	out := make([]session.Record, 0, len(r.sessions))
	for _, rec := range r.sessions {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
