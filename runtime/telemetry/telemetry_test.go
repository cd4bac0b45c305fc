package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"goa.design/clue/log"
)

func TestNoop(t *testing.T) {
	ctx := context.Background()
	logger := NewNoopLogger()
	logger.Debug(ctx, "debug", "k", "v")
	logger.Info(ctx, "info", "k", "v")
	logger.Warn(ctx, "warn", "k", "v")
	logger.Error(ctx, "error", "k", "v")

	metrics := NewNoopMetrics()
	metrics.IncCounter("c", 1, "route", "billing")
	metrics.RecordTimer("t", time.Second)
	metrics.RecordGauge("g", 3)

	newCtx, span := NewNoopTracer().Start(ctx, "op")
	require.Equal(t, ctx, newCtx)
	span.AddEvent("event", "k", "v")
	span.SetStatus(codes.Ok, "ok")
	span.RecordError(errors.New("x"))
	span.End()
}

func TestClueImplementationsDoNotPanic(t *testing.T) {
	ctx := log.Context(context.Background(), log.WithFormat(log.FormatJSON))
	logger := NewClueLogger()
	logger.Info(ctx, "info", "session_id", "abc", 42, "skipped")
	logger.Error(ctx, "failed", "err", errors.New("boom"), "route", "billing")

	metrics := NewClueMetrics()
	metrics.IncCounter("ticketflow.test.counter", 1, "route", "billing")
	metrics.RecordTimer("ticketflow.test.timer", time.Millisecond, "route")
	metrics.RecordGauge("ticketflow.test.gauge", 1)

	ctx, span := NewClueTracer().Start(ctx, "op")
	span.AddEvent("event", "n", 1, "ok", true, "nil", nil)
	span.End()
	NewClueTracer().Span(ctx).End()
}

func TestFielders(t *testing.T) {
	fs := fielders("hello", []any{"a", 1, 2, "skip", "err", errors.New("boom"), "dangling"})
	require.Equal(t, []log.Fielder{
		log.KV{K: "msg", V: "hello"},
		log.KV{K: "a", V: 1},
		log.KV{K: "err", V: "boom"},
		log.KV{K: "dangling", V: nil},
	}, fs)
}

func TestTagsToAttrs(t *testing.T) {
	require.Equal(t, []attribute.KeyValue{
		attribute.String("route", "billing"),
		attribute.String("status", ""),
	}, tagsToAttrs([]string{"route", "billing", "status"}))
}
