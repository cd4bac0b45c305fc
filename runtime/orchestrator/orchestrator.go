// Package orchestrator drives tickets through classification, routing and
// execution, and answers status queries across the session registry and the
// durable result store.
//
// Each submitted ticket runs on its own goroutine:
//
//	created -> classifying -> executing -> completed | failed
//
// Exactly one pipeline runs per ticket. Every path ends in a single
// finalization step that persists the result record before announcing the
// terminal status in the registry, so a caller observing "completed" can
// always read the outcome from the store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"goa.design/ticketflow/runtime/pipeline"
	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/session"
	"goa.design/ticketflow/runtime/stream"
	"goa.design/ticketflow/runtime/telemetry"
)

type (
	// Classifier selects the route of a ticket. Classify must never fail.
	Classifier interface {
		Classify(ctx context.Context, text string) pipeline.Route
		Routes() []pipeline.Route
	}

	// Resolver maps routes to pipelines.
	Resolver interface {
		Resolve(route pipeline.Route) (pipeline.Pipeline, error)
	}

	// Options configures an Orchestrator.
	Options struct {
		// Registry tracks live sessions. Required.
		Registry session.Registry
		// Store persists session results. Required.
		Store result.Store
		// Classifier routes tickets. Required.
		Classifier Classifier
		// Pipelines resolves routes to pipelines. Required. Every classifier
		// route and pipeline.DefaultRoute must resolve.
		Pipelines Resolver
		// Stream receives lifecycle events. Optional.
		Stream stream.Sink
		// Logger, Metrics and Tracer default to noop implementations.
		Logger  telemetry.Logger
		Metrics telemetry.Metrics
		Tracer  telemetry.Tracer
		// Retention is how long terminal sessions stay in the registry. Zero
		// disables Prune and the janitor: every session and its handle is
		// kept until PruneBefore is called.
		Retention time.Duration
		// JanitorInterval is the period of background pruning. Defaults to
		// Retention/2 when Retention is set.
		JanitorInterval time.Duration
		// Clock overrides time.Now.
		Clock func() time.Time
	}

	// Orchestrator runs ticket sessions. It is safe for concurrent use.
	Orchestrator struct {
		registry   session.Registry
		store      result.Store
		classifier Classifier
		pipelines  Resolver
		events     stream.Sink
		logger     telemetry.Logger
		metrics    telemetry.Metrics
		tracer     telemetry.Tracer
		retention  time.Duration
		now        func() time.Time

		mu      sync.Mutex
		handles map[session.ID]*Handle
		closed  bool
		running sync.WaitGroup

		stop        chan struct{}
		janitorDone chan struct{}
	}

	// Submission is returned by Submit.
	Submission struct {
		ID        session.ID
		Status    session.Status
		CreatedAt time.Time
	}
)

var (
	// ErrNotFound is returned by queries for sessions unknown to both the
	// registry and the store.
	ErrNotFound = errors.New("session not found")
	// ErrInProgress is returned by Result while the session is still running.
	ErrInProgress = errors.New("session still in progress")
	// ErrEmptyTicket is returned by Submit for blank ticket text.
	ErrEmptyTicket = errors.New("ticket text is required")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("orchestrator closed")
	// ErrPipelineFailed wraps failures reported through an unsuccessful
	// outcome rather than an error.
	ErrPipelineFailed = errors.New("pipeline reported failure")
)

// New validates opts and returns a running Orchestrator. Routes that do not
// resolve are reported here rather than at first use.
func New(opts Options) (*Orchestrator, error) {
	if opts.Registry == nil {
		return nil, errors.New("session registry is required")
	}
	if opts.Store == nil {
		return nil, errors.New("result store is required")
	}
	if opts.Classifier == nil {
		return nil, errors.New("classifier is required")
	}
	if opts.Pipelines == nil {
		return nil, errors.New("pipeline registry is required")
	}
	for _, route := range append(opts.Classifier.Routes(), pipeline.DefaultRoute) {
		if _, err := opts.Pipelines.Resolve(route); err != nil {
			return nil, fmt.Errorf("route %q: %w", route, err)
		}
	}
	if opts.Retention < 0 {
		return nil, errors.New("retention must not be negative")
	}

	o := &Orchestrator{
		registry:   opts.Registry,
		store:      opts.Store,
		classifier: opts.Classifier,
		pipelines:  opts.Pipelines,
		events:     opts.Stream,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		retention:  opts.Retention,
		now:        opts.Clock,
		handles:    make(map[session.ID]*Handle),
		stop:       make(chan struct{}),
	}
	if o.events == nil {
		o.events = stream.NoopSink{}
	}
	if o.logger == nil {
		o.logger = telemetry.NewNoopLogger()
	}
	if o.metrics == nil {
		o.metrics = telemetry.NewNoopMetrics()
	}
	if o.tracer == nil {
		o.tracer = telemetry.NewNoopTracer()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.retention > 0 {
		interval := opts.JanitorInterval
		if interval <= 0 {
			interval = o.retention / 2
		}
		o.janitorDone = make(chan struct{})
		go o.janitor(interval)
	}
	return o, nil
}

// Submit registers a new session for text and starts processing it in the
// background. It returns as soon as the session is registered. The
// session's durable location exists before Submit returns.
//
// Processing is detached from ctx cancellation: a caller that stops waiting
// does not cancel the session.
func (o *Orchestrator) Submit(ctx context.Context, text string) (Submission, error) {
	if strings.TrimSpace(text) == "" {
		return Submission{}, ErrEmptyTicket
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Submission{}, ErrClosed
	}
	o.running.Add(1)
	o.mu.Unlock()

	id := session.Generate()
	createdAt := o.now().UTC()
	if err := o.store.EnsureLocation(ctx, id); err != nil {
		o.running.Done()
		return Submission{}, result.Persistence("ensure", id, err)
	}
	if err := o.registry.Register(ctx, id, createdAt); err != nil {
		o.running.Done()
		return Submission{}, fmt.Errorf("register session: %w", err)
	}

	h := newHandle(id)
	o.mu.Lock()
	o.handles[id] = h
	o.mu.Unlock()

	o.metrics.IncCounter("ticketflow.sessions.submitted", 1)
	o.recordActive(ctx)
	o.logger.Info(ctx, "session submitted", "session_id", id)
	o.publish(ctx, session.Record{ID: id, Status: session.StatusCreated, CreatedAt: createdAt})

	go o.run(context.WithoutCancel(ctx), h, text, createdAt)

	return Submission{ID: id, Status: session.StatusCreated, CreatedAt: createdAt}, nil
}

// Handle returns the in-process handle of a session started by this
// orchestrator. Handles are dropped when the session is pruned from the
// registry.
func (o *Orchestrator) Handle(id session.ID) (*Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handles[id]
	return h, ok
}

// Prune removes terminal sessions older than the retention window from the
// registry, along with their handles. Their results remain available from the
// store. It is a no-op when Retention is zero.
func (o *Orchestrator) Prune(ctx context.Context) (int, error) {
	if o.retention <= 0 {
		return 0, nil
	}
	return o.PruneBefore(ctx, o.now().Add(-o.retention))
}

// PruneBefore removes terminal sessions that completed before cutoff, and
// their handles, regardless of Retention.
func (o *Orchestrator) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := o.registry.Prune(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("prune registry: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	o.mu.Lock()
	for id, h := range o.handles {
		if !h.finished() {
			continue
		}
		if _, err := o.registry.Get(ctx, id); errors.Is(err, session.ErrUnknownSession) {
			delete(o.handles, id)
		}
	}
	o.mu.Unlock()
	o.logger.Debug(ctx, "pruned sessions", "count", n)
	return n, nil
}

// Close stops accepting submissions and waits for running sessions to
// finish or ctx to expire.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.stop)
	}
	o.mu.Unlock()
	if o.janitorDone != nil {
		<-o.janitorDone
	}

	done := make(chan struct{})
	go func() {
		o.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running sessions: %w", ctx.Err())
	}
}

func (o *Orchestrator) janitor(interval time.Duration) {
	defer close(o.janitorDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			ctx := context.Background()
			if _, err := o.Prune(ctx); err != nil {
				o.logger.Warn(ctx, "session pruning failed", "err", err)
			}
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, rec session.Record) {
	if err := o.events.Send(ctx, stream.FromRecord(rec, o.now())); err != nil {
		o.logger.Warn(ctx, "session event not delivered", "session_id", rec.ID, "status", rec.Status, "err", err)
	}
}
