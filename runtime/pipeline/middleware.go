package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"goa.design/ticketflow/runtime/session"
)

// WithTimeout bounds each execution of p to d. A non-positive d returns p
// unchanged.
func WithTimeout(p Pipeline, d time.Duration) Pipeline {
	if d <= 0 {
		return p
	}
	return Func(func(ctx context.Context, tc TicketContext) (*session.Outcome, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		out, err := p.Execute(ctx, tc)
		if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return out, fmt.Errorf("pipeline %s timed out after %s: %w", tc.Route, d, err)
		}
		return out, err
	})
}

// WithRateLimit blocks each execution of p until limiter admits it. Use it
// for pipelines backed by rate-limited external services. A nil limiter
// returns p unchanged.
func WithRateLimit(p Pipeline, limiter *rate.Limiter) Pipeline {
	if limiter == nil {
		return p
	}
	return Func(func(ctx context.Context, tc TicketContext) (*session.Outcome, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("pipeline %s rate limit: %w", tc.Route, err)
		}
		return p.Execute(ctx, tc)
	})
}

// NewLimiter returns a limiter admitting perSecond executions per second with
// the given burst. It returns nil when perSecond is non-positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
