// Package pipeline defines the processing units a ticket is routed to and the
// closed registry binding route labels to them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"goa.design/ticketflow/runtime/session"
)

// DefaultRoute is the route used when classification finds no known label.
const DefaultRoute Route = "default_handler"

type (
	// Route is a classification label naming a pipeline.
	Route string

	// TicketContext is the read-only input handed to a pipeline.
	TicketContext struct {
		// SessionID identifies the session running the pipeline.
		SessionID session.ID
		// Text is the raw ticket text as submitted.
		Text string
		// Route is the label the ticket was classified under.
		Route Route
	}

	// Pipeline processes one ticket. A non-nil error or an outcome with
	// Success false fails the session. Pipelines own their timeout and retry
	// policies.
	Pipeline interface {
		Execute(ctx context.Context, tc TicketContext) (*session.Outcome, error)
	}

	// Func adapts a function to the Pipeline interface.
	Func func(ctx context.Context, tc TicketContext) (*session.Outcome, error)

	// Binding associates a route with its pipeline.
	Binding struct {
		Route    Route
		Pipeline Pipeline
	}

	// Registry is a closed set of route bindings fixed at construction.
	// It is safe for concurrent use.
	Registry struct {
		pipelines map[Route]Pipeline
	}
)

// ErrUnregistered is returned when resolving a route with no bound pipeline.
var ErrUnregistered = errors.New("pipeline not registered")

// Execute implements Pipeline.
func (f Func) Execute(ctx context.Context, tc TicketContext) (*session.Outcome, error) {
	return f(ctx, tc)
}

// String implements fmt.Stringer.
func (r Route) String() string {
	return string(r)
}

// Bind is shorthand for constructing a Binding.
func Bind(route Route, p Pipeline) Binding {
	return Binding{Route: route, Pipeline: p}
}

// NewRegistry returns a registry holding the given bindings. Empty routes,
// nil pipelines and duplicate routes are rejected.
func NewRegistry(bindings ...Binding) (*Registry, error) {
	r := &Registry{pipelines: make(map[Route]Pipeline, len(bindings))}
	for _, b := range bindings {
		if b.Route == "" {
			return nil, errors.New("route is required")
		}
		if b.Pipeline == nil {
			return nil, fmt.Errorf("pipeline for route %q is required", b.Route)
		}
		if _, dup := r.pipelines[b.Route]; dup {
			return nil, fmt.Errorf("route %q already registered", b.Route)
		}
		r.pipelines[b.Route] = b.Pipeline
	}
	return r, nil
}

// Resolve returns the pipeline bound to route or an error wrapping
// ErrUnregistered.
func (r *Registry) Resolve(route Route) (Pipeline, error) {
	p, ok := r.pipelines[route]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnregistered, route)
	}
	return p, nil
}

// Routes returns the registered routes in lexical order.
func (r *Registry) Routes() []Route {
	out := make([]Route, 0, len(r.pipelines))
	for route := range r.pipelines {
		out = append(out, route)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Default returns the pipeline serving DefaultRoute. It acknowledges the
// ticket without further processing.
func Default() Pipeline {
	return Func(func(_ context.Context, tc TicketContext) (*session.Outcome, error) {
		return &session.Outcome{
			Success: true,
			Summary: fmt.Sprintf("ticket handled by %s: no specialized pipeline matched", DefaultRoute),
		}, nil
	})
}
