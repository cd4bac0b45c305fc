// Package inmem provides an in-memory implementation of result.Store.
//
// It is intended for tests and local development. Production deployments should
// use a durable implementation (for example runtime/result/fs or
// features/result/mongo).
package inmem

import (
	"context"
	"errors"
	"iter"
	"sort"
	"sync"

	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/session"
)

// Store is an in-memory implementation of result.Store.
// It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	locations map[session.ID]struct{}
	records   map[session.ID]result.Record
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		locations: make(map[session.ID]struct{}),
		records:   make(map[session.ID]result.Record),
	}
}

// EnsureLocation implements result.Store.
func (s *Store) EnsureLocation(_ context.Context, id session.ID) error {
	if id == "" {
		return errors.New("session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations[id] = struct{}{}
	return nil
}

// Write implements result.Store.
func (s *Store) Write(_ context.Context, rec result.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return result.ErrAlreadyWritten
	}
	s.locations[rec.ID] = struct{}{}
	s.records[rec.ID] = rec.Clone()
	return nil
}

// Read implements result.Store.
func (s *Store) Read(_ context.Context, id session.ID) (result.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return result.Record{}, result.ErrNotFound
	}
	return rec.Clone(), nil
}

// List implements result.Store. The snapshot is taken when iteration starts.
func (s *Store) List(ctx context.Context) iter.Seq2[result.Summary, error] {
	return func(yield func(result.Summary, error) bool) {
		s.mu.RLock()
		out := make([]result.Summary, 0, len(s.records))
		for _, rec := range s.records {
			out = append(out, rec.Summarize())
		}
		s.mu.RUnlock()
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		for _, sum := range out {
			if err := ctx.Err(); err != nil {
				yield(result.Summary{}, err)
				return
			}
			if !yield(sum, nil) {
				return
			}
		}
	}
}

// Ping implements health.Pinger.
func (s *Store) Ping(context.Context) error { return nil }

// Name implements health.Pinger.
func (s *Store) Name() string { return "result-memory" }
