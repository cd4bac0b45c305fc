package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/ticketflow/runtime/pipeline"
	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/session"
)

// execution is what the routed branch hands to finalization.
type execution struct {
	route   pipeline.Route
	outcome *session.Outcome
	err     error
}

// run drives one session to a terminal status.
func (o *Orchestrator) run(ctx context.Context, h *Handle, text string, createdAt time.Time) {
	defer o.running.Done()

	ctx, span := o.tracer.Start(ctx, "ticketflow.session", trace.WithAttributes(sessionAttr(h.id)))
	defer span.End()

	exec := o.execute(ctx, h.id, text)
	o.finalize(ctx, h, createdAt, exec)
	o.recordActive(ctx)

	if exec.err != nil {
		span.RecordError(exec.err)
		span.SetStatus(codes.Error, exec.err.Error())
	} else {
		span.SetStatus(codes.Ok, "completed")
	}
}

// execute classifies the ticket and runs the single pipeline it routes to.
func (o *Orchestrator) execute(ctx context.Context, id session.ID, text string) execution {
	if err := o.advance(ctx, id, session.Transition{Status: session.StatusClassifying}); err != nil {
		return execution{err: err}
	}

	cctx, cspan := o.tracer.Start(ctx, "ticketflow.classify")
	route := o.classifier.Classify(cctx, text)
	cspan.AddEvent("classified", "route", string(route))
	cspan.End()

	if err := o.advance(ctx, id, session.Transition{Status: session.StatusExecuting, Route: string(route)}); err != nil {
		return execution{route: route, err: err}
	}

	p, err := o.pipelines.Resolve(route)
	if err != nil {
		o.logger.Error(ctx, "route has no pipeline", "session_id", id, "route", route, "err", err)
		return execution{route: route, err: err}
	}

	ectx, espan := o.tracer.Start(ctx, "ticketflow.execute")
	start := time.Now()
	out, err := o.invoke(ectx, p, pipeline.TicketContext{SessionID: id, Text: text, Route: route})
	o.metrics.RecordTimer("ticketflow.pipeline.duration", time.Since(start), "route", string(route))
	if err == nil && (out == nil || !out.Success) {
		err = failureFromOutcome(out)
	}
	if err != nil {
		espan.RecordError(err)
		espan.SetStatus(codes.Error, err.Error())
	}
	espan.End()
	return execution{route: route, outcome: out, err: err}
}

// finalize is the single join point of every branch. It persists the result
// record, then announces the terminal status.
func (o *Orchestrator) finalize(ctx context.Context, h *Handle, createdAt time.Time, exec execution) {
	rec := result.Record{
		ID:          h.id,
		Route:       string(exec.route),
		CreatedAt:   createdAt,
		CompletedAt: o.now().UTC(),
	}

	if exec.err == nil {
		rec.Status = session.StatusCompleted
		rec.Outcome = exec.outcome
		if err := o.store.Write(ctx, rec); err != nil {
			perr := result.Persistence("write", h.id, err)
			o.logger.Error(ctx, "outcome not persisted", "session_id", h.id, "err", perr)
			o.fail(ctx, h.id, perr, rec.CompletedAt)
			o.metrics.IncCounter("ticketflow.sessions.failed", 1, "route", string(exec.route))
			h.resolve(exec.outcome, perr)
			return
		}
		updated, err := o.registry.Transition(ctx, h.id, session.Transition{
			Status:  session.StatusCompleted,
			Outcome: exec.outcome,
			At:      rec.CompletedAt,
		})
		if err != nil {
			o.logger.Error(ctx, "session completion not recorded", "session_id", h.id, "err", err)
			h.resolve(exec.outcome, err)
			return
		}
		o.metrics.IncCounter("ticketflow.sessions.completed", 1, "route", string(exec.route))
		o.logger.Info(ctx, "session completed", "session_id", h.id, "route", exec.route)
		o.publish(ctx, updated)
		h.resolve(exec.outcome, nil)
		return
	}

	failure := exec.err
	rec.Status = session.StatusFailed
	rec.Error = failure.Error()
	// Whatever the pipeline produced before failing is kept for diagnosis,
	// even an outcome that claims success alongside an error.
	rec.Partial = exec.outcome
	if err := o.store.Write(ctx, rec); err != nil {
		perr := result.Persistence("write", h.id, err)
		o.logger.Error(ctx, "failure not persisted", "session_id", h.id, "err", perr)
		failure = errors.Join(failure, perr)
	}
	o.fail(ctx, h.id, failure, rec.CompletedAt)
	o.metrics.IncCounter("ticketflow.sessions.failed", 1, "route", string(exec.route))
	o.logger.Warn(ctx, "session failed", "session_id", h.id, "route", exec.route, "err", failure)
	h.resolve(exec.outcome, failure)
}

// advance applies a non-terminal transition and publishes it.
func (o *Orchestrator) advance(ctx context.Context, id session.ID, t session.Transition) error {
	rec, err := o.registry.Transition(ctx, id, t)
	if err != nil {
		return fmt.Errorf("session %s to %s: %w", id, t.Status, err)
	}
	o.publish(ctx, rec)
	return nil
}

// fail marks the session failed in the registry. Registry errors are logged:
// the session may already be terminal or gone.
func (o *Orchestrator) fail(ctx context.Context, id session.ID, cause error, at time.Time) {
	rec, err := o.registry.Transition(ctx, id, session.Transition{
		Status: session.StatusFailed,
		Error:  cause.Error(),
		At:     at,
	})
	if err != nil {
		o.logger.Error(ctx, "session failure not recorded", "session_id", id, "err", err)
		return
	}
	o.publish(ctx, rec)
}

// invoke runs p and converts a panic into a session-scoped error.
func (o *Orchestrator) invoke(ctx context.Context, p pipeline.Pipeline, tc pipeline.TicketContext) (out *session.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.tracer.Span(ctx).AddEvent("pipeline.panic", "route", string(tc.Route), "value", fmt.Sprint(r))
			o.logger.Error(ctx, "pipeline panicked", "session_id", tc.SessionID, "route", tc.Route, "stack", string(debug.Stack()))
			out = nil
			err = fmt.Errorf("pipeline %s panicked: %v", tc.Route, r)
		}
	}()
	return p.Execute(ctx, tc)
}

// recordActive reports how many sessions have not reached a terminal status.
func (o *Orchestrator) recordActive(ctx context.Context) {
	active, err := o.registry.ListActive(ctx)
	if err != nil {
		o.logger.Debug(ctx, "active sessions not counted", "err", err)
		return
	}
	o.metrics.RecordGauge("ticketflow.sessions.active", float64(len(active)))
}

func failureFromOutcome(out *session.Outcome) error {
	if out == nil {
		return fmt.Errorf("%w: no outcome returned", ErrPipelineFailed)
	}
	if out.Summary == "" {
		return ErrPipelineFailed
	}
	return fmt.Errorf("%w: %s", ErrPipelineFailed, out.Summary)
}

func sessionAttr(id session.ID) attribute.KeyValue {
	return attribute.String("ticketflow.session_id", string(id))
}
