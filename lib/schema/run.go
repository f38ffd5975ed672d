// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import "time"

// RunStatus is the state of one run.
//
// Transitions:
//
//	pending → running → completed | failed | cancelled
//	running ⇄ paused            (SIGSTOP / SIGCONT)
//	failed-with-retry → pending (attempt += 1, next_retry_at set)
//
// A run is immutable once completed or cancelled, and once failed with
// no retry budget left.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions
// (aside from failed → pending, which the runtime performs only while
// retry budget remains).
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal step
// of the run state machine. The store rejects illegal transitions so a
// racing update cannot resurrect a cancelled run.
func (s RunStatus) CanTransition(next RunStatus) bool {
	switch s {
	case RunPending:
		return next == RunRunning || next == RunCancelled || next == RunFailed
	case RunRunning:
		return next == RunPaused || next == RunCompleted || next == RunFailed || next == RunCancelled || next == RunPending
	case RunPaused:
		return next == RunRunning || next == RunCancelled || next == RunFailed
	case RunFailed:
		// Retry re-schedule only.
		return next == RunPending
	}
	return false
}

// Run is one execution instance of a worker reacting to one event.
type Run struct {
	// ID uniquely identifies the run.
	ID string `json:"id" cbor:"id"`

	// WorkerID is the owning worker.
	WorkerID string `json:"worker_id" cbor:"worker_id"`

	// EventID is the event that triggered this run.
	EventID int64 `json:"event_id" cbor:"event_id"`

	// Attempt counts executions of this run, starting at 1. Never
	// exceeds MaxAttempts.
	Attempt int `json:"attempt" cbor:"attempt"`

	// MaxAttempts is copied from the worker at claim time so later
	// worker edits do not change in-flight retry budgets.
	MaxAttempts int `json:"max_attempts" cbor:"max_attempts"`

	// Status is the run state.
	Status RunStatus `json:"status" cbor:"status"`

	// ExitCode is the child's exit code once it has exited. Nil while
	// the child is alive or was never spawned.
	ExitCode *int `json:"exit_code,omitempty" cbor:"exit_code,omitempty"`

	// PID is the process id (process-group leader) of the active
	// child. Nil when no child is alive. Pause/resume require it.
	PID *int `json:"pid,omitempty" cbor:"pid,omitempty"`

	// LogPath is the run's log file: <worker-log-dir>/<run-id>.log.
	LogPath string `json:"log_path,omitempty" cbor:"log_path,omitempty"`

	// Error holds the failure or cancellation message for failed and
	// cancelled runs.
	Error string `json:"error,omitempty" cbor:"error,omitempty"`

	// NextRetryAt is set while the run is pending-for-retry: the
	// earliest instant the runtime may re-dispatch it.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty" cbor:"next_retry_at,omitempty"`

	// Version is the optimistic-concurrency token.
	Version int64 `json:"version" cbor:"version"`

	CreatedAt time.Time `json:"created_at" cbor:"created_at"`
	UpdatedAt time.Time `json:"updated_at" cbor:"updated_at"`
}
