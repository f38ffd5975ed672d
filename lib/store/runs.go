// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/granary-project/granary/lib/schema"
)

// CreateRun inserts a run record. Called while claiming an event —
// the runtime acknowledges the event cursor only after this succeeds,
// which is what turns "saw the event" into "durably started work".
func (s *Store) CreateRun(ctx context.Context, run *schema.Run) error {
	if run.ID == "" || run.WorkerID == "" {
		return fmt.Errorf("store: run id and worker id are required")
	}
	if run.Attempt < 1 {
		run.Attempt = 1
	}
	if run.Status == "" {
		run.Status = schema.RunPending
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	now := s.clock.Now().UTC()
	run.Version = 1
	run.CreatedAt = now
	run.UpdatedAt = now

	named := map[string]any{
		":id":           run.ID,
		":worker_id":    run.WorkerID,
		":event_id":     run.EventID,
		":attempt":      run.Attempt,
		":max_attempts": run.MaxAttempts,
		":status":       string(run.Status),
		":log_path":     run.LogPath,
		":error":        run.Error,
		":exit_code":    nullableInt(run.ExitCode),
		":pid":          nullableInt(run.PID),
		":next_retry":   nullableTime(run.NextRetryAt),
		":now":          now.UnixNano(),
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO runs (id, worker_id, event_id, attempt, max_attempts, status,
			exit_code, pid, log_path, error, next_retry_at, version, created_at, updated_at)
		VALUES (:id, :worker_id, :event_id, :attempt, :max_attempts, :status,
			:exit_code, :pid, :log_path, :error, :next_retry, 1, :now, :now)`,
		&sqlitex.ExecOptions{Named: named})
	if err != nil {
		return fmt.Errorf("store: creating run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (schema.Run, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.Run{}, err
	}
	defer s.pool.Put(conn)
	return getRunConn(conn, id)
}

// ListRuns returns runs, newest first, optionally restricted to one
// worker. limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, workerID string, limit int) ([]schema.Run, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := runSelect
	named := map[string]any{}
	if workerID != "" {
		query += ` WHERE worker_id = :worker_id`
		named[":worker_id"] = workerID
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT :limit`
		named[":limit"] = limit
	}

	var runs []schema.Run
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Named: named,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			runs = append(runs, runFromRow(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing runs: %w", err)
	}
	return runs, nil
}

// UpdateRun writes a run's mutable fields under optimistic versioning.
// The update carries the version the caller read; a concurrent writer
// makes it fail with ErrVersionConflict. Status changes must be legal
// per the run state machine or the update fails with
// ErrInvalidTransition, so a racing reaper and canceller cannot
// resurrect a terminal run.
//
// On success the run's Version and UpdatedAt are refreshed in place.
func (s *Store) UpdateRun(ctx context.Context, run *schema.Run) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	current, err := getRunConn(conn, run.ID)
	if err != nil {
		return err
	}
	if current.Version != run.Version {
		return fmt.Errorf("store: run %s: %w", run.ID, ErrVersionConflict)
	}
	if current.Status != run.Status && !current.Status.CanTransition(run.Status) {
		return fmt.Errorf("store: run %s: %s -> %s: %w",
			run.ID, current.Status, run.Status, ErrInvalidTransition)
	}

	now := s.clock.Now().UTC()
	err = sqlitex.Execute(conn, `
		UPDATE runs
		SET attempt = :attempt, status = :status, exit_code = :exit_code,
		    pid = :pid, log_path = :log_path, error = :error,
		    next_retry_at = :next_retry, version = version + 1, updated_at = :now
		WHERE id = :id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":attempt":    run.Attempt,
				":status":     string(run.Status),
				":exit_code":  nullableInt(run.ExitCode),
				":pid":        nullableInt(run.PID),
				":log_path":   run.LogPath,
				":error":      run.Error,
				":next_retry": nullableTime(run.NextRetryAt),
				":now":        now.UnixNano(),
				":id":         run.ID,
			},
		})
	if err != nil {
		return fmt.Errorf("store: updating run %s: %w", run.ID, err)
	}

	run.Version++
	run.UpdatedAt = now
	return nil
}

// DueRetries returns a worker's pending-for-retry runs whose
// next_retry_at is at or before now, oldest due first. The runtime
// dispatches these before polling for fresh events.
func (s *Store) DueRetries(ctx context.Context, workerID string, now time.Time) ([]schema.Run, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var runs []schema.Run
	err = sqlitex.Execute(conn, runSelect+`
		WHERE worker_id = :worker_id AND status = :status
		  AND next_retry_at IS NOT NULL AND next_retry_at <= :now
		ORDER BY next_retry_at ASC`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":worker_id": workerID,
				":status":    string(schema.RunPending),
				":now":       now.UTC().UnixNano(),
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				runs = append(runs, runFromRow(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: listing due retries for %s: %w", workerID, err)
	}
	return runs, nil
}

// DeleteRunsForWorker removes all of a worker's runs. Used by prune.
func (s *Store) DeleteRunsForWorker(ctx context.Context, workerID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM runs WHERE worker_id = :worker_id`,
		&sqlitex.ExecOptions{Named: map[string]any{":worker_id": workerID}})
	if err != nil {
		return fmt.Errorf("store: deleting runs for worker %s: %w", workerID, err)
	}
	return nil
}

const runSelect = `
	SELECT id, worker_id, event_id, attempt, max_attempts, status,
		exit_code, pid, log_path, error, next_retry_at, version,
		created_at, updated_at
	FROM runs`

func getRunConn(conn *sqlite.Conn, id string) (schema.Run, error) {
	var run schema.Run
	found := false
	err := sqlitex.Execute(conn, runSelect+` WHERE id = :id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{":id": id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				run = runFromRow(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return schema.Run{}, fmt.Errorf("store: getting run %s: %w", id, err)
	}
	if !found {
		return schema.Run{}, fmt.Errorf("store: run %s: %w", id, ErrNotFound)
	}
	return run, nil
}

func runFromRow(stmt *sqlite.Stmt) schema.Run {
	run := schema.Run{
		ID:          stmt.ColumnText(0),
		WorkerID:    stmt.ColumnText(1),
		EventID:     stmt.ColumnInt64(2),
		Attempt:     stmt.ColumnInt(3),
		MaxAttempts: stmt.ColumnInt(4),
		Status:      schema.RunStatus(stmt.ColumnText(5)),
		LogPath:     stmt.ColumnText(8),
		Error:       stmt.ColumnText(9),
		Version:     stmt.ColumnInt64(11),
		CreatedAt:   columnTime(stmt.ColumnInt64(12)),
		UpdatedAt:   columnTime(stmt.ColumnInt64(13)),
	}
	if stmt.ColumnType(6) != sqlite.TypeNull {
		code := stmt.ColumnInt(6)
		run.ExitCode = &code
	}
	if stmt.ColumnType(7) != sqlite.TypeNull {
		pid := stmt.ColumnInt(7)
		run.PID = &pid
	}
	if stmt.ColumnType(10) != sqlite.TypeNull {
		at := columnTime(stmt.ColumnInt64(10))
		run.NextRetryAt = &at
	}
	return run
}

// nullableInt renders an optional int for a nullable column.
func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

// nullableTime renders an optional time as Unix nanoseconds.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixNano()
}
