// Package sqlite implements result.Store on a local SQLite database using the
// pure-Go modernc.org/sqlite driver.
//
// Every session owns one row. EnsureLocation inserts the row with a NULL
// record; Write fills the record column exactly once.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"goa.design/ticketflow/runtime/result"
	"goa.design/ticketflow/runtime/session"
)

const (
	schema = `CREATE TABLE IF NOT EXISTS session_results (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	record     TEXT
)`

	ensureStmt = `INSERT INTO session_results (id, created_at) VALUES (?, ?)
ON CONFLICT(id) DO NOTHING`

	writeStmt = `INSERT INTO session_results (id, created_at, record) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET record = excluded.record
WHERE session_results.record IS NULL`

	readStmt = `SELECT record FROM session_results WHERE id = ?`

	listStmt = `SELECT record FROM session_results WHERE record IS NOT NULL ORDER BY id`

	defaultBusyTimeout = 5 * time.Second
)

type (
	// Store is a SQLite-backed result.Store.
	Store struct {
		db *sql.DB
	}

	// Options configures the SQLite store.
	Options struct {
		// Path is the database file. It is created if missing.
		Path string
		// BusyTimeout bounds how long a connection waits on a locked
		// database. Defaults to 5s.
		BusyTimeout time.Duration
	}
)

var _ result.Store = (*Store)(nil)

// Open opens the database at opts.Path in WAL mode and applies the schema.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, errors.New("database path is required")
	}
	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	db, err := sql.Open("sqlite", dsn(opts.Path, busy))
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", opts.Path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", opts.Path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema to %s: %w", opts.Path, err)
	}
	return &Store{db: db}, nil
}

// dsn sets the pragmas on every pooled connection rather than only the first.
func dsn(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	return "file:" + path + "?" + q.Encode()
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Name implements health.Pinger.
func (s *Store) Name() string {
	return "result-sqlite"
}

// Ping implements health.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureLocation implements result.Store.
func (s *Store) EnsureLocation(ctx context.Context, id session.ID) error {
	if id == "" {
		return errors.New("session id is required")
	}
	if _, err := s.db.ExecContext(ctx, ensureStmt, string(id), formatTime(id.Time())); err != nil {
		return result.Persistence("ensure", id, err)
	}
	return nil
}

// Write implements result.Store.
func (s *Store) Write(ctx context.Context, rec result.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return result.Persistence("write", rec.ID, err)
	}
	res, err := s.db.ExecContext(ctx, writeStmt, string(rec.ID), formatTime(rec.CreatedAt), string(data))
	if err != nil {
		return result.Persistence("write", rec.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return result.Persistence("write", rec.ID, err)
	}
	if n == 0 {
		return result.ErrAlreadyWritten
	}
	return nil
}

// Read implements result.Store.
func (s *Store) Read(ctx context.Context, id session.ID) (result.Record, error) {
	var data sql.NullString
	err := s.db.QueryRowContext(ctx, readStmt, string(id)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !data.Valid) {
		return result.Record{}, result.ErrNotFound
	}
	if err != nil {
		return result.Record{}, result.Persistence("read", id, err)
	}
	var rec result.Record
	if err := json.Unmarshal([]byte(data.String), &rec); err != nil {
		return result.Record{}, result.Persistence("read", id, err)
	}
	return rec, nil
}

// List implements result.Store. Each iteration runs a fresh query.
func (s *Store) List(ctx context.Context) iter.Seq2[result.Summary, error] {
	return func(yield func(result.Summary, error) bool) {
		rows, err := s.db.QueryContext(ctx, listStmt)
		if err != nil {
			yield(result.Summary{}, result.Persistence("list", "", err))
			return
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var data string
			if err := rows.Scan(&data); err != nil {
				if !yield(result.Summary{}, result.Persistence("list", "", err)) {
					return
				}
				continue
			}
			var rec result.Record
			if err := json.Unmarshal([]byte(data), &rec); err != nil {
				if !yield(result.Summary{}, result.Persistence("list", "", err)) {
					return
				}
				continue
			}
			if !yield(rec.Summarize(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(result.Summary{}, result.Persistence("list", "", err))
		}
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
