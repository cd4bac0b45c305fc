package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/result/resulttest"
	"goa.design/ticketflow/runtime/session"
)

func TestStore(t *testing.T) {
	resulttest.Run(t, func(t *testing.T) result.Store {
		s, err := New(Options{Root: t.TempDir()})
		require.NoError(t, err)
		return s
	})
}

func TestLayout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := New(Options{Root: root})
	require.NoError(t, err)

	rec := resulttest.Completed(session.Generate(), "billing", "ok")
	require.NoError(t, s.EnsureLocation(ctx, rec.ID))
	fi, err := os.Stat(filepath.Join(root, rec.ID.String()))
	require.NoError(t, err)
	require.True(t, fi.IsDir())

	require.NoError(t, s.Write(ctx, rec))
	_, err = os.Stat(filepath.Join(root, rec.ID.String(), RecordFile))
	require.NoError(t, err)

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(root, rec.ID.String()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestListSkipsForeignEntries(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := New(Options{Root: root})
	require.NoError(t, err)

	require.NoError(t, os.Mkdir(filepath.Join(root, "lost+found"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README"), []byte("x"), 0o644))
	rec := resulttest.Completed(session.Generate(), "billing", "ok")
	require.NoError(t, s.Write(ctx, rec))

	all, err := result.Collect(s.List(ctx))
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, rec.ID, all[0].ID)
}

func TestCorruptRecord(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := New(Options{Root: root})
	require.NoError(t, err)

	id := session.Generate()
	require.NoError(t, s.EnsureLocation(ctx, id))
	require.NoError(t, os.WriteFile(filepath.Join(id.Location(root), RecordFile), []byte("{"), 0o644))

	_, err = s.Read(ctx, id)
	var pe *result.PersistenceError
	require.True(t, errors.As(err, &pe))
	require.Equal(t, "read", pe.Op)
}

func TestUnwritableLocation(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permission checks do not apply to root")
	}
	ctx := context.Background()
	root := t.TempDir()
	s, err := New(Options{Root: root})
	require.NoError(t, err)
	require.NoError(t, os.Chmod(root, 0o500))
	t.Cleanup(func() { _ = os.Chmod(root, 0o755) })

	err = s.EnsureLocation(ctx, session.Generate())
	var pe *result.PersistenceError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "ensure", pe.Op)
}

func TestNewRequiresRoot(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestSessionDirectoriesUseDirMode(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "results")
	s, err := New(Options{Root: root, DirMode: 0o700})
	require.NoError(t, err)

	ensured := session.Generate()
	require.NoError(t, s.EnsureLocation(ctx, ensured))
	written := session.Generate()
	require.NoError(t, s.Write(ctx, resulttest.Completed(written, "billing", "ok")))

	for _, dir := range []string{root, ensured.Location(root), written.Location(root)} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o700), info.Mode().Perm(), dir)
	}
}
