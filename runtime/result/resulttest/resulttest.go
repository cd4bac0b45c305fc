// Package resulttest provides a conformance suite for result.Store
// implementations.
package resulttest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/session"
)

// Run exercises the result.Store contract against stores returned by newStore.
// newStore is called once per subtest and must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) result.Store) {
	t.Helper()

	t.Run("write then read", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		rec := Completed(session.Generate(), "billing", "refund issued")
		require.NoError(t, s.EnsureLocation(ctx, rec.ID))
		require.NoError(t, s.Write(ctx, rec))

		got, err := s.Read(ctx, rec.ID)
		require.NoError(t, err)
		requireRecordEqual(t, rec, got)
	})

	t.Run("ensure location is idempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := session.Generate()
		require.NoError(t, s.EnsureLocation(ctx, id))
		require.NoError(t, s.EnsureLocation(ctx, id))
	})

	t.Run("location without record is not found", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		id := session.Generate()
		require.NoError(t, s.EnsureLocation(ctx, id))
		_, err := s.Read(ctx, id)
		require.ErrorIs(t, err, result.ErrNotFound)

		all, err := result.Collect(s.List(ctx))
		require.NoError(t, err)
		require.Empty(t, all)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := newStore(t).Read(context.Background(), session.Generate())
		require.ErrorIs(t, err, result.ErrNotFound)
	})

	t.Run("write once", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		rec := Completed(session.Generate(), "billing", "first")
		require.NoError(t, s.EnsureLocation(ctx, rec.ID))
		require.NoError(t, s.Write(ctx, rec))

		second := Failed(rec.ID, "billing", "second")
		require.ErrorIs(t, s.Write(ctx, second), result.ErrAlreadyWritten)

		got, err := s.Read(ctx, rec.ID)
		require.NoError(t, err)
		require.Equal(t, "first", got.Outcome.Summary)
	})

	t.Run("failed record keeps partial outcome", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		rec := Failed(session.Generate(), "reports", "query timed out")
		require.NoError(t, s.EnsureLocation(ctx, rec.ID))
		require.NoError(t, s.Write(ctx, rec))

		got, err := s.Read(ctx, rec.ID)
		require.NoError(t, err)
		requireRecordEqual(t, rec, got)
	})

	t.Run("list is ordered and restartable", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		var ids []session.ID
		for i := 0; i < 5; i++ {
			ids = append(ids, session.Generate())
		}
		// Write out of order.
		for _, i := range []int{3, 0, 4, 1, 2} {
			require.NoError(t, s.EnsureLocation(ctx, ids[i]))
			require.NoError(t, s.Write(ctx, Completed(ids[i], "r", "ok")))
		}
		pending := session.Generate()
		require.NoError(t, s.EnsureLocation(ctx, pending))

		seq := s.List(ctx)
		for range 2 {
			all, err := result.Collect(seq)
			require.NoError(t, err)
			require.Len(t, all, len(ids))
			for i, sum := range all {
				require.Equal(t, ids[i], sum.ID)
				require.Equal(t, session.StatusCompleted, sum.Status)
				require.Equal(t, "ok", sum.Summary)
			}
		}

		// Early break stops iteration cleanly.
		var n int
		for _, err := range seq {
			require.NoError(t, err)
			n++
			if n == 2 {
				break
			}
		}
		require.Equal(t, 2, n)
	})

	t.Run("rejects invalid records", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		bad := Completed(session.Generate(), "r", "x")
		bad.Outcome = nil
		err := s.Write(ctx, bad)
		require.Error(t, err)
		require.False(t, errors.Is(err, result.ErrAlreadyWritten))
	})

	t.Run("concurrent writers", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		const n = 16
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id := session.Generate()
				if err := s.EnsureLocation(ctx, id); err != nil {
					errs <- err
					return
				}
				errs <- s.Write(ctx, Completed(id, "r", "ok"))
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		all, err := result.Collect(s.List(ctx))
		require.NoError(t, err)
		require.Len(t, all, n)
	})
}

// Completed returns a valid completed record for tests.
func Completed(id session.ID, route, summary string) result.Record {
	created := id.Time()
	return result.Record{
		ID:     id,
		Route:  route,
		Status: session.StatusCompleted,
		Outcome: &session.Outcome{
			Success: true,
			Summary: summary,
			Detail:  []byte(`{"rows":3}`),
		},
		CreatedAt:   created,
		CompletedAt: created.Add(1500 * time.Millisecond),
	}
}

// Failed returns a valid failed record carrying a partial outcome.
func Failed(id session.ID, route, reason string) result.Record {
	created := id.Time()
	return result.Record{
		ID:     id,
		Route:  route,
		Status: session.StatusFailed,
		Partial: &session.Outcome{
			Success: false,
			Summary: "partial: " + reason,
		},
		Error:       reason,
		CreatedAt:   created,
		CompletedAt: created.Add(time.Second),
	}
}

func requireRecordEqual(t *testing.T, want, got result.Record) {
	t.Helper()
	require.Equal(t, want.ID, got.ID)
	require.Equal(t, want.Route, got.Route)
	require.Equal(t, want.Status, got.Status)
	require.Equal(t, want.Error, got.Error)
	require.WithinDuration(t, want.CreatedAt, got.CreatedAt, time.Millisecond)
	require.WithinDuration(t, want.CompletedAt, got.CompletedAt, time.Millisecond)
	requireOutcomeEqual(t, want.Outcome, got.Outcome)
	requireOutcomeEqual(t, want.Partial, got.Partial)
}

func requireOutcomeEqual(t *testing.T, want, got *session.Outcome) {
	t.Helper()
	if want == nil {
		require.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	require.Equal(t, want.Success, got.Success)
	require.Equal(t, want.Summary, got.Summary)
	if len(want.Detail) == 0 {
		require.Empty(t, got.Detail)
		return
	}
	require.JSONEq(t, string(want.Detail), string(got.Detail))
}
