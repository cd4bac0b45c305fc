package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/session"
)

type (
	// Source names where a View was read from.
	Source string

	// View is the caller-facing state of a session.
	View struct {
		ID     session.ID
		Status session.Status
		// Route is the classification label, once known.
		Route string
		// Outcome is the successful result of a completed session.
		Outcome *session.Outcome
		// Partial is the outcome a failed pipeline produced before failing, if
		// any.
		Partial *session.Outcome
		// Error describes why a failed session failed.
		Error string
		// Summary is the outcome summary, set in listings.
		Summary     string
		CreatedAt   time.Time
		CompletedAt time.Time
		Source      Source
	}
)

const (
	// SourceRegistry marks views read from the live session registry.
	SourceRegistry Source = "registry"
	// SourceStore marks views read from the durable result store.
	SourceStore Source = "store"
)

// Running reports whether the session has not reached a terminal status.
func (v View) Running() bool {
	return !v.Status.Terminal()
}

// Status returns the current state of a session. The registry is consulted
// first; sessions it no longer holds are read from the result store.
func (o *Orchestrator) Status(ctx context.Context, id session.ID) (View, error) {
	rec, err := o.registry.Get(ctx, id)
	if err == nil {
		v := viewFromRecord(rec)
		if rec.Status == session.StatusFailed {
			// The diagnostic outcome lives in the store only.
			if stored, err := o.store.Read(ctx, id); err == nil {
				v.Partial = stored.Partial
			}
		}
		return v, nil
	}
	if !errors.Is(err, session.ErrUnknownSession) {
		return View{}, fmt.Errorf("read registry: %w", err)
	}
	stored, err := o.store.Read(ctx, id)
	if err != nil {
		if errors.Is(err, result.ErrNotFound) {
			return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return View{}, err
	}
	return viewFromStored(stored), nil
}

// Result returns the persisted outcome of a session: the outcome of a
// completed session or the partial outcome of a failed one. It returns
// ErrInProgress for running sessions and ErrNotFound when no outcome exists.
func (o *Orchestrator) Result(ctx context.Context, id session.ID) (*session.Outcome, error) {
	stored, err := o.store.Read(ctx, id)
	if err == nil {
		if stored.Outcome != nil {
			return stored.Outcome, nil
		}
		if stored.Partial != nil {
			return stored.Partial, nil
		}
		return nil, fmt.Errorf("%w: session %s failed without an outcome", ErrNotFound, id)
	}
	if !errors.Is(err, result.ErrNotFound) {
		return nil, err
	}
	if rec, gerr := o.registry.Get(ctx, id); gerr == nil && !rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrInProgress, id, rec.Status)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Active returns the sessions currently running, oldest first.
func (o *Orchestrator) Active(ctx context.Context) ([]View, error) {
	recs, err := o.registry.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	out := make([]View, len(recs))
	for i, rec := range recs {
		out[i] = viewFromRecord(rec)
	}
	return out, nil
}

// List returns every known session: sessions held by the registry merged
// with the history enumerated from the result store, deduplicated by ID and
// ordered newest first.
func (o *Orchestrator) List(ctx context.Context) ([]View, error) {
	recs, err := o.registry.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list registry: %w", err)
	}
	seen := make(map[session.ID]struct{}, len(recs))
	out := make([]View, 0, len(recs))
	for _, rec := range recs {
		seen[rec.ID] = struct{}{}
		out = append(out, viewFromRecord(rec))
	}
	for sum, err := range o.store.List(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list results: %w", err)
		}
		if _, ok := seen[sum.ID]; ok {
			continue
		}
		seen[sum.ID] = struct{}{}
		out = append(out, viewFromSummary(sum))
	}
	// IDs embed their creation time, so descending ID order is newest first.
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func viewFromRecord(rec session.Record) View {
	v := View{
		ID:          rec.ID,
		Status:      rec.Status,
		Route:       rec.Route,
		Outcome:     rec.Outcome,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
		Source:      SourceRegistry,
	}
	if rec.Outcome != nil {
		v.Summary = rec.Outcome.Summary
	}
	return v
}

func viewFromStored(rec result.Record) View {
	v := View{
		ID:          rec.ID,
		Status:      rec.Status,
		Route:       rec.Route,
		Outcome:     rec.Outcome,
		Partial:     rec.Partial,
		Error:       rec.Error,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
		Source:      SourceStore,
	}
	v.Summary = rec.Summarize().Summary
	return v
}

func viewFromSummary(s result.Summary) View {
	return View{
		ID:          s.ID,
		Status:      s.Status,
		Route:       s.Route,
		Summary:     s.Summary,
		Error:       s.Error,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
		Source:      SourceStore,
	}
}
