package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/result/resulttest"
	"goa.design/ticketflow/runtime/session"
)

func TestStoreContract(t *testing.T) {
	resulttest.Run(t, func(t *testing.T) result.Store {
		return openTestStore(t, filepath.Join(t.TempDir(), "results.db"))
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	require.EqualError(t, err, "database path is required")
}

func TestRecordsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")
	s := openTestStore(t, path)
	rec := resulttest.Completed(session.Generate(), "billing", "refund issued")
	require.NoError(t, s.EnsureLocation(ctx, rec.ID))
	require.NoError(t, s.Write(ctx, rec))
	require.NoError(t, s.Close())

	reopened := openTestStore(t, path)
	got, err := reopened.Read(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "refund issued", got.Outcome.Summary)
	require.ErrorIs(t, reopened.Write(ctx, rec), result.ErrAlreadyWritten)
}

func TestCorruptRecordIsPersistenceError(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "results.db"))
	id := session.Generate()
	_, err := s.db.ExecContext(ctx, `INSERT INTO session_results (id, created_at, record) VALUES (?, ?, ?)`,
		string(id), formatTime(id.Time()), "{not json")
	require.NoError(t, err)

	var pe *result.PersistenceError
	_, err = s.Read(ctx, id)
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "read", pe.Op)
}

func TestPing(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, s.Ping(context.Background()))
	require.Equal(t, "result-sqlite", s.Name())
}

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
