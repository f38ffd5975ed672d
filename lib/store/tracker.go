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

// Tracker accessors. Task mutations append events to the log in the
// same transaction, so a worker subscribed to "task.updated" observes
// exactly the mutations that committed.

// CreateProject inserts a project record.
func (s *Store) CreateProject(ctx context.Context, project *schema.Project) error {
	if project.ID == "" || project.Name == "" {
		return fmt.Errorf("store: project id and name are required")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	project.CreatedAt = s.clock.Now().UTC()
	err = sqlitex.Execute(conn, `
		INSERT INTO projects (id, name, description, created_at)
		VALUES (:id, :name, :description, :created_at)`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":id":          project.ID,
				":name":        project.Name,
				":description": project.Description,
				":created_at":  project.CreatedAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: creating project %s: %w", project.ID, err)
	}
	return nil
}

// ListProjects returns all projects ordered by creation time.
func (s *Store) ListProjects(ctx context.Context) ([]schema.Project, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var projects []schema.Project
	err = sqlitex.Execute(conn, `
		SELECT id, name, description, created_at FROM projects ORDER BY created_at ASC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				projects = append(projects, schema.Project{
					ID:          stmt.ColumnText(0),
					Name:        stmt.ColumnText(1),
					Description: stmt.ColumnText(2),
					CreatedAt:   columnTime(stmt.ColumnInt64(3)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: listing projects: %w", err)
	}
	return projects, nil
}

// CreateTask inserts a task and appends a task.created event carrying
// the task snapshot as payload.
func (s *Store) CreateTask(ctx context.Context, task *schema.Task) error {
	if task.ID == "" || task.ProjectID == "" || task.Title == "" {
		return fmt.Errorf("store: task id, project id, and title are required")
	}
	if task.Status == "" {
		task.Status = schema.TaskTodo
	}

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

	now := s.clock.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	err = sqlitex.Execute(conn, `
		INSERT INTO tasks (id, project_id, title, description, status, session_id, created_at, updated_at)
		VALUES (:id, :project_id, :title, :description, :status, :session_id, :now, :now)`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":id":          task.ID,
				":project_id":  task.ProjectID,
				":title":       task.Title,
				":description": task.Description,
				":status":      string(task.Status),
				":session_id":  task.SessionID,
				":now":         now.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: creating task %s: %w", task.ID, err)
	}

	return s.appendTaskEventConn(conn, "task.created", task, now.UnixNano())
}

// GetTask returns one task by id.
func (s *Store) GetTask(ctx context.Context, id string) (schema.Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.Task{}, err
	}
	defer s.pool.Put(conn)

	var task schema.Task
	found := false
	err = sqlitex.Execute(conn, taskSelect+` WHERE id = :id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{":id": id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				task = taskFromRow(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return schema.Task{}, fmt.Errorf("store: getting task %s: %w", id, err)
	}
	if !found {
		return schema.Task{}, fmt.Errorf("store: task %s: %w", id, ErrNotFound)
	}
	return task, nil
}

// ListTasks returns a project's tasks, or all tasks when projectID is
// empty, ordered by creation time.
func (s *Store) ListTasks(ctx context.Context, projectID string) ([]schema.Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := taskSelect
	named := map[string]any{}
	if projectID != "" {
		query += ` WHERE project_id = :project_id`
		named[":project_id"] = projectID
	}
	query += ` ORDER BY created_at ASC`

	var tasks []schema.Task
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Named: named,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			tasks = append(tasks, taskFromRow(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatus moves a task to a new status and appends a
// task.updated event in the same transaction.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status schema.TaskStatus, actor string) error {
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

	now := s.clock.Now().UTC().UnixNano()
	err = sqlitex.Execute(conn, `
		UPDATE tasks SET status = :status, updated_at = :now WHERE id = :id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":status": string(status),
				":now":    now,
				":id":     id,
			},
		})
	if err != nil {
		return fmt.Errorf("store: updating task %s: %w", id, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store: task %s: %w", id, ErrNotFound)
	}

	task, err := s.getTaskConn(conn, id)
	if err != nil {
		return err
	}
	return s.appendTaskEventConnWithActor(conn, "task.updated", &task, actor, now)
}

// appendTaskEventConn appends a task lifecycle event on an existing
// connection (inside the caller's transaction).
func (s *Store) appendTaskEventConn(conn *sqlite.Conn, eventType string, task *schema.Task, nowNanos int64) error {
	return s.appendTaskEventConnWithActor(conn, eventType, task, "tracker", nowNanos)
}

func (s *Store) appendTaskEventConnWithActor(conn *sqlite.Conn, eventType string, task *schema.Task, actor string, nowNanos int64) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("store: marshaling task event payload: %w", err)
	}

	err = sqlitex.Execute(conn, `
		INSERT INTO events (type, entity_type, entity_id, actor, session_id, payload, created_at)
		VALUES (:type, 'task', :entity_id, :actor, :session_id, :payload, :created_at)`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":type":       eventType,
				":entity_id":  task.ID,
				":actor":      actor,
				":session_id": task.SessionID,
				":payload":    string(payload),
				":created_at": nowNanos,
			},
		})
	if err != nil {
		return fmt.Errorf("store: appending %s event: %w", eventType, err)
	}
	return nil
}

func (s *Store) getTaskConn(conn *sqlite.Conn, id string) (schema.Task, error) {
	var task schema.Task
	found := false
	err := sqlitex.Execute(conn, taskSelect+` WHERE id = :id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{":id": id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				task = taskFromRow(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return schema.Task{}, fmt.Errorf("store: getting task %s: %w", id, err)
	}
	if !found {
		return schema.Task{}, fmt.Errorf("store: task %s: %w", id, ErrNotFound)
	}
	return task, nil
}

const taskSelect = `
	SELECT id, project_id, title, description, status, session_id, created_at, updated_at
	FROM tasks`

func taskFromRow(stmt *sqlite.Stmt) schema.Task {
	return schema.Task{
		ID:          stmt.ColumnText(0),
		ProjectID:   stmt.ColumnText(1),
		Title:       stmt.ColumnText(2),
		Description: stmt.ColumnText(3),
		Status:      schema.TaskStatus(stmt.ColumnText(4)),
		SessionID:   stmt.ColumnText(5),
		CreatedAt:   columnTime(stmt.ColumnInt64(6)),
		UpdatedAt:   columnTime(stmt.ColumnInt64(7)),
	}
}
