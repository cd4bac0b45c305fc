// Package replicated provides a result.Store backed by a Pulse replicated map
// (rmap). Records are visible to every node joined to the same map and survive
// process restarts for as long as Redis retains them.
package replicated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"goa.design/pulse/rmap"

	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/session"
)

type (
	// Map is the minimal replicated-map contract required by the store.
	// It is satisfied by *rmap.Map from goa.design/pulse/rmap.
	//
	// Get and Keys read the local replica, which SetIfNotExists does not
	// update directly: the change arrives later as a notification on the
	// channels returned by Subscribe.
	//
	// Implementations must be safe for concurrent use.
	Map interface {
		Get(key string) (string, bool)
		Keys() []string
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		Subscribe() <-chan rmap.EventKind
		Unsubscribe(c <-chan rmap.EventKind)
	}

	// Store persists session records in a replicated map.
	Store struct {
		m Map
	}
)

const (
	locationKeyPrefix = "ticketflow:location:"
	recordKeyPrefix   = "ticketflow:result:"
)

var (
	_ result.Store = (*Store)(nil)

	errMapClosed = errors.New("replicated map closed")
)

// New creates a store backed by m.
func New(m Map) (*Store, error) {
	if m == nil {
		return nil, errors.New("replicated map is required")
	}
	return &Store{m: m}, nil
}

// Name implements health.Pinger.
func (s *Store) Name() string {
	return "result-replicated"
}

// Ping implements health.Pinger. Reads are served from the map's local
// replica, so the store is healthy whenever the process is.
func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

// EnsureLocation implements result.Store.
func (s *Store) EnsureLocation(ctx context.Context, id session.ID) error {
	if id == "" {
		return errors.New("session id is required")
	}
	if _, ok := s.m.Get(locationKeyPrefix + string(id)); ok {
		return nil
	}
	created := id.Time().Format(time.RFC3339Nano)
	if _, err := s.m.SetIfNotExists(ctx, locationKeyPrefix+string(id), created); err != nil {
		return result.Persistence("ensure", id, err)
	}
	return nil
}

// Write implements result.Store. It returns once the record is visible in the
// local replica so a Read that follows a successful Write finds it.
func (s *Store) Write(ctx context.Context, rec result.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return result.Persistence("write", rec.ID, err)
	}
	if err := s.setAndWait(ctx, recordKeyPrefix+string(rec.ID), string(b)); err != nil {
		return result.Persistence("write", rec.ID, err)
	}
	return nil
}

// setAndWait sets key if absent and blocks until the local replica holds it.
// The subscription is taken before the write so the notification cannot be
// missed.
func (s *Store) setAndWait(ctx context.Context, key, value string) error {
	ch := s.m.Subscribe()
	if ch == nil {
		return errMapClosed
	}
	defer s.m.Unsubscribe(ch)

	ok, err := s.m.SetIfNotExists(ctx, key, value)
	if err != nil {
		return err
	}
	if !ok {
		return result.ErrAlreadyWritten
	}
	for {
		if _, found := s.m.Get(key); found {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for replication: %w", ctx.Err())
		case _, open := <-ch:
			if !open {
				return errMapClosed
			}
		}
	}
}

// Read implements result.Store.
func (s *Store) Read(ctx context.Context, id session.ID) (result.Record, error) {
	if err := ctx.Err(); err != nil {
		return result.Record{}, err
	}
	val, ok := s.m.Get(recordKeyPrefix + string(id))
	if !ok {
		return result.Record{}, result.ErrNotFound
	}
	var rec result.Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return result.Record{}, result.Persistence("read", id, err)
	}
	return rec, nil
}

// List implements result.Store. The key set is snapshotted each time the
// sequence is iterated.
func (s *Store) List(ctx context.Context) iter.Seq2[result.Summary, error] {
	return func(yield func(result.Summary, error) bool) {
		var ids []session.ID
		for _, k := range s.m.Keys() {
			if id, ok := strings.CutPrefix(k, recordKeyPrefix); ok {
				ids = append(ids, session.ID(id))
			}
		}
		slices.Sort(ids)
		for _, id := range ids {
			rec, err := s.Read(ctx, id)
			if errors.Is(err, result.ErrNotFound) {
				continue
			}
			if err != nil {
				if !yield(result.Summary{}, result.Persistence("list", id, err)) {
					return
				}
				continue
			}
			if !yield(rec.Summarize(), nil) {
				return
			}
		}
	}
}
