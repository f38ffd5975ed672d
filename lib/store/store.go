// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/granary-project/granary/lib/clock"
	"github.com/granary-project/granary/lib/sqlitepool"
)

// Sentinel errors. Tested with errors.Is.
var (
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrVersionConflict means a version-checked update lost to a
	// concurrent writer. The caller should re-read and decide whether
	// to retry; the runtime logs and moves on (best-effort updates
	// never escalate to worker failure).
	ErrVersionConflict = errors.New("store: version conflict")

	// ErrInvalidTransition means a run status update attempted a move
	// the state machine forbids, such as resurrecting a cancelled run.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the SQLite database file. Required.
	Path string

	// PoolSize is the connection pool size. Defaults to 4.
	PoolSize int

	// Clock provides record timestamps. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger
}

// Store is the shared persistence handle. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// schemaDDL creates all tables. Idempotent; applied to every pooled
// connection (CREATE IF NOT EXISTS is cheap after the first run).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	title       TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	session_id  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	type        TEXT NOT NULL,
	entity_type TEXT NOT NULL DEFAULT '',
	entity_id   TEXT NOT NULL DEFAULT '',
	actor       TEXT NOT NULL DEFAULT '',
	session_id  TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS events_type_id ON events(type, id);

CREATE TABLE IF NOT EXISTS workers (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	event_type    TEXT NOT NULL,
	filters       TEXT NOT NULL DEFAULT '[]',
	concurrency   INTEGER NOT NULL,
	max_attempts  INTEGER NOT NULL,
	command       TEXT NOT NULL DEFAULT '',
	args          TEXT NOT NULL DEFAULT '[]',
	steps         TEXT NOT NULL DEFAULT '[]',
	env           TEXT NOT NULL DEFAULT '{}',
	work_dir      TEXT NOT NULL,
	last_event_id INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	version       INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	worker_id     TEXT NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
	event_id      INTEGER NOT NULL,
	attempt       INTEGER NOT NULL,
	max_attempts  INTEGER NOT NULL,
	status        TEXT NOT NULL,
	exit_code     INTEGER,
	pid           INTEGER,
	log_path      TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	next_retry_at INTEGER,
	version       INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_worker_status ON runs(worker_id, status);
`

// Open opens (creating if necessary) the Granary database.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schemaDDL, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	return &Store{pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Ping verifies the database is reachable. The worker runtime calls
// this on every tick as part of workspace-loss detection.
func (s *Store) Ping(ctx context.Context) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)
	return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
}

// marshalJSON renders v for a JSON text column. Empty collections
// marshal to their canonical empty literal so columns never hold NULL.
func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: marshaling %T: %w", v, err)
	}
	return string(data), nil
}

// columnTime converts a Unix-nanosecond column to a time.Time.
func columnTime(nanos int64) time.Time {
	return time.Unix(0, nanos).UTC()
}
