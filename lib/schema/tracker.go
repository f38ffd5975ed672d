// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// TaskStatus is the lifecycle state of a tracker task.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "todo"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

// Project groups tasks. Projects are plain tracker records; the worker
// runtime never touches them.
type Project struct {
	ID          string    `json:"id" cbor:"id"`
	Name        string    `json:"name" cbor:"name"`
	Description string    `json:"description,omitempty" cbor:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" cbor:"created_at"`
}

// Task is one unit of tracked work. Task mutations append events to
// the log, which is how workers observe tracker activity.
type Task struct {
	ID          string     `json:"id" cbor:"id"`
	ProjectID   string     `json:"project_id" cbor:"project_id"`
	Title       string     `json:"title" cbor:"title"`
	Description string     `json:"description,omitempty" cbor:"description,omitempty"`
	Status      TaskStatus `json:"status" cbor:"status"`
	SessionID   string     `json:"session_id,omitempty" cbor:"session_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at" cbor:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" cbor:"updated_at"`
}
