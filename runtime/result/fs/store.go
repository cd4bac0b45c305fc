// Package fs implements result.Store on the local filesystem.
//
// Each session owns one directory under the store root, named after the
// session ID, holding a single outcome.json once the session terminates:
//
//	<root>/<session-id>/outcome.json
//
// Records are published with a hard link from a temporary file so readers
// never observe a partial record and a second write fails atomically.
package fs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"

	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/session"
)

// RecordFile is the name of the record file inside a session directory.
const RecordFile = "outcome.json"

type (
	// Store is a filesystem-backed result.Store.
	Store struct {
		root    string
		dirMode os.FileMode
	}

	// Options configures the filesystem store.
	Options struct {
		// Root is the directory holding one subdirectory per session.
		Root string
		// DirMode is the permission used for the root and session
		// directories. Defaults to 0o755.
		DirMode os.FileMode
	}
)

// New returns a Store rooted at opts.Root, creating the root if needed.
func New(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("root directory is required")
	}
	mode := opts.DirMode
	if mode == 0 {
		mode = 0o755
	}
	if err := os.MkdirAll(opts.Root, mode); err != nil {
		return nil, fmt.Errorf("create result root: %w", err)
	}
	return &Store{root: opts.Root, dirMode: mode}, nil
}

// Root returns the directory the store writes to.
func (s *Store) Root() string {
	return s.root
}

// EnsureLocation implements result.Store.
func (s *Store) EnsureLocation(_ context.Context, id session.ID) error {
	if id == "" {
		return errors.New("session id is required")
	}
	if err := os.MkdirAll(id.Location(s.root), s.dirMode); err != nil {
		return result.Persistence("ensure", id, err)
	}
	return nil
}

// Write implements result.Store.
func (s *Store) Write(_ context.Context, rec result.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	dir := rec.ID.Location(s.root)
	if err := os.MkdirAll(dir, s.dirMode); err != nil {
		return result.Persistence("write", rec.ID, err)
	}
	final := filepath.Join(dir, RecordFile)
	if _, err := os.Stat(final); err == nil {
		return result.ErrAlreadyWritten
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".outcome-*.json")
	if err != nil {
		return result.Persistence("write", rec.ID, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return result.Persistence("write", rec.ID, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return result.Persistence("write", rec.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return result.Persistence("write", rec.ID, err)
	}
	if err := os.Link(tmp.Name(), final); err != nil {
		if errors.Is(err, os.ErrExist) {
			return result.ErrAlreadyWritten
		}
		return result.Persistence("write", rec.ID, err)
	}
	return nil
}

// Read implements result.Store.
func (s *Store) Read(_ context.Context, id session.ID) (result.Record, error) {
	if id == "" {
		return result.Record{}, result.ErrNotFound
	}
	return s.read(id)
}

// List implements result.Store. Directory entries that are not session IDs
// and sessions without a record are skipped.
func (s *Store) List(ctx context.Context) iter.Seq2[result.Summary, error] {
	return func(yield func(result.Summary, error) bool) {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			yield(result.Summary{}, result.Persistence("list", "", err))
			return
		}
		// os.ReadDir sorts by file name, which is ID order.
		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				yield(result.Summary{}, err)
				return
			}
			if !e.IsDir() {
				continue
			}
			id, err := session.Parse(e.Name())
			if err != nil || string(id) != e.Name() {
				continue
			}
			rec, err := s.read(id)
			if errors.Is(err, result.ErrNotFound) {
				continue
			}
			if err != nil {
				if !yield(result.Summary{}, err) {
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

// Name implements health.Pinger.
func (s *Store) Name() string { return "result-fs" }

// Ping implements health.Pinger by checking the root is still a directory.
func (s *Store) Ping(context.Context) error {
	fi, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", s.root)
	}
	return nil
}

func (s *Store) read(id session.ID) (result.Record, error) {
	data, err := os.ReadFile(filepath.Join(id.Location(s.root), RecordFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result.Record{}, result.ErrNotFound
		}
		return result.Record{}, result.Persistence("read", id, err)
	}
	var rec result.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return result.Record{}, result.Persistence("read", id, fmt.Errorf("decode record: %w", err))
	}
	return rec, nil
}
