// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/granary-project/granary/lib/schema"
)

// CreateWorker validates and inserts a worker record. The worker
// starts at version 1 with status pending unless the caller set one.
func (s *Store) CreateWorker(ctx context.Context, worker *schema.Worker) error {
	if worker.ID == "" {
		return fmt.Errorf("store: worker id is required")
	}
	if err := worker.Validate(); err != nil {
		return fmt.Errorf("store: invalid worker %s: %w", worker.ID, err)
	}
	if worker.Status == "" {
		worker.Status = schema.WorkerPending
	}

	filters, err := marshalJSON(worker.Filters)
	if err != nil {
		return err
	}
	args, err := marshalJSON(worker.Args)
	if err != nil {
		return err
	}
	steps, err := marshalJSON(worker.Steps)
	if err != nil {
		return err
	}
	env, err := marshalJSON(worker.Env)
	if err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	now := s.clock.Now().UTC()
	worker.Version = 1
	worker.CreatedAt = now
	worker.UpdatedAt = now

	err = sqlitex.Execute(conn, `
		INSERT INTO workers (id, name, event_type, filters, concurrency, max_attempts,
			command, args, steps, env, work_dir, last_event_id, status, version,
			created_at, updated_at)
		VALUES (:id, :name, :event_type, :filters, :concurrency, :max_attempts,
			:command, :args, :steps, :env, :work_dir, :last_event_id, :status, 1,
			:now, :now)`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":id":            worker.ID,
				":name":          worker.Name,
				":event_type":    worker.EventType,
				":filters":       filters,
				":concurrency":   worker.Concurrency,
				":max_attempts":  worker.MaxAttempts,
				":command":       worker.Command,
				":args":          args,
				":steps":         steps,
				":env":           env,
				":work_dir":      worker.WorkDir,
				":last_event_id": worker.LastEventID,
				":status":        string(worker.Status),
				":now":           now.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: creating worker %s: %w", worker.ID, err)
	}
	return nil
}

// GetWorker returns one worker by id.
func (s *Store) GetWorker(ctx context.Context, id string) (schema.Worker, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.Worker{}, err
	}
	defer s.pool.Put(conn)

	return getWorkerConn(conn, id)
}

// ListWorkers returns all workers ordered by creation time.
func (s *Store) ListWorkers(ctx context.Context) ([]schema.Worker, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var workers []schema.Worker
	var scanErr error
	err = sqlitex.Execute(conn, workerSelect+` ORDER BY created_at ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				worker, err := workerFromRow(stmt)
				if err != nil {
					scanErr = err
					return err
				}
				workers = append(workers, worker)
				return nil
			},
		})
	if err != nil {
		if scanErr != nil {
			return nil, scanErr
		}
		return nil, fmt.Errorf("store: listing workers: %w", err)
	}
	return workers, nil
}

// ListWorkersByStatus returns workers in the given status. Used by the
// manager's restore (running) and prune (stopped, error) paths.
func (s *Store) ListWorkersByStatus(ctx context.Context, statuses ...schema.WorkerStatus) ([]schema.Worker, error) {
	workers, err := s.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	var matched []schema.Worker
	for _, worker := range workers {
		for _, status := range statuses {
			if worker.Status == status {
				matched = append(matched, worker)
				break
			}
		}
	}
	return matched, nil
}

// UpdateWorkerStatus performs a version-checked status update and
// returns the new version. Returns ErrVersionConflict when the stored
// version differs from expectedVersion.
func (s *Store) UpdateWorkerStatus(ctx context.Context, id string, status schema.WorkerStatus, expectedVersion int64) (int64, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE workers
		SET status = :status, version = version + 1, updated_at = :now
		WHERE id = :id AND version = :version`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":status":  string(status),
				":now":     s.clock.Now().UTC().UnixNano(),
				":id":      id,
				":version": expectedVersion,
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: updating worker %s status: %w", id, err)
	}
	if conn.Changes() == 0 {
		// Distinguish a missing row from a lost race.
		if _, err := getWorkerConn(conn, id); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("store: worker %s: %w", id, ErrVersionConflict)
	}
	return expectedVersion + 1, nil
}

// ForceWorkerStatus updates a worker's status unconditionally. The
// manager uses this after a runtime failed to shut down in time and
// the status must reflect reality regardless of racing writes.
func (s *Store) ForceWorkerStatus(ctx context.Context, id string, status schema.WorkerStatus) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE workers
		SET status = :status, version = version + 1, updated_at = :now
		WHERE id = :id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":status": string(status),
				":now":    s.clock.Now().UTC().UnixNano(),
				":id":     id,
			},
		})
	if err != nil {
		return fmt.Errorf("store: forcing worker %s status: %w", id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store: worker %s: %w", id, ErrNotFound)
	}
	return nil
}

// AdvanceCursor moves a worker's poll cursor forward to eventID. The
// cursor never moves backward: an update with a smaller id is a no-op,
// which makes acknowledgement idempotent and crash-safe.
func (s *Store) AdvanceCursor(ctx context.Context, id string, eventID int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		UPDATE workers
		SET last_event_id = MAX(last_event_id, :event_id),
		    version = version + 1, updated_at = :now
		WHERE id = :id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":event_id": eventID,
				":now":      s.clock.Now().UTC().UnixNano(),
				":id":       id,
			},
		})
	if err != nil {
		return fmt.Errorf("store: advancing cursor for worker %s: %w", id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store: worker %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteWorker removes a worker record. Runs cascade via the foreign
// key. The caller (manager prune) removes log files separately.
func (s *Store) DeleteWorker(ctx context.Context, id string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM workers WHERE id = :id`,
		&sqlitex.ExecOptions{Named: map[string]any{":id": id}})
	if err != nil {
		return fmt.Errorf("store: deleting worker %s: %w", id, err)
	}
	return nil
}

const workerSelect = `
	SELECT id, name, event_type, filters, concurrency, max_attempts,
		command, args, steps, env, work_dir, last_event_id, status, version,
		created_at, updated_at
	FROM workers`

func getWorkerConn(conn *sqlite.Conn, id string) (schema.Worker, error) {
	var worker schema.Worker
	found := false
	var scanErr error
	err := sqlitex.Execute(conn, workerSelect+` WHERE id = :id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{":id": id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				w, err := workerFromRow(stmt)
				if err != nil {
					scanErr = err
					return err
				}
				worker = w
				found = true
				return nil
			},
		})
	if err != nil {
		if scanErr != nil {
			return schema.Worker{}, scanErr
		}
		return schema.Worker{}, fmt.Errorf("store: getting worker %s: %w", id, err)
	}
	if !found {
		return schema.Worker{}, fmt.Errorf("store: worker %s: %w", id, ErrNotFound)
	}
	return worker, nil
}

func workerFromRow(stmt *sqlite.Stmt) (schema.Worker, error) {
	worker := schema.Worker{
		ID:          stmt.ColumnText(0),
		Name:        stmt.ColumnText(1),
		EventType:   stmt.ColumnText(2),
		Concurrency: stmt.ColumnInt(4),
		MaxAttempts: stmt.ColumnInt(5),
		Command:     stmt.ColumnText(6),
		WorkDir:     stmt.ColumnText(10),
		LastEventID: stmt.ColumnInt64(11),
		Status:      schema.WorkerStatus(stmt.ColumnText(12)),
		Version:     stmt.ColumnInt64(13),
		CreatedAt:   columnTime(stmt.ColumnInt64(14)),
		UpdatedAt:   columnTime(stmt.ColumnInt64(15)),
	}

	if err := json.Unmarshal([]byte(stmt.ColumnText(3)), &worker.Filters); err != nil {
		return schema.Worker{}, fmt.Errorf("store: worker %s filters: %w", worker.ID, err)
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(7)), &worker.Args); err != nil {
		return schema.Worker{}, fmt.Errorf("store: worker %s args: %w", worker.ID, err)
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(8)), &worker.Steps); err != nil {
		return schema.Worker{}, fmt.Errorf("store: worker %s steps: %w", worker.ID, err)
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(9)), &worker.Env); err != nil {
		return schema.Worker{}, fmt.Errorf("store: worker %s env: %w", worker.ID, err)
	}
	return worker, nil
}
