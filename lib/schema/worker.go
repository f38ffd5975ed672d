// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"errors"
	"fmt"
	"time"
)

// WorkerStatus is the lifecycle state of a worker.
type WorkerStatus string

const (
	// WorkerPending means the worker record exists but no runtime has
	// been started for it.
	WorkerPending WorkerStatus = "pending"

	// WorkerRunning means a runtime loop owns the worker and is
	// polling for events.
	WorkerRunning WorkerStatus = "running"

	// WorkerStopped means the runtime shut down cleanly.
	WorkerStopped WorkerStatus = "stopped"

	// WorkerError means the runtime halted on an unrecoverable
	// condition (workspace gone, store unreachable). Requires a manual
	// restart.
	WorkerError WorkerStatus = "error"
)

// Worker is a standing subscription: an event type plus filters, and a
// command or pipeline to execute for each matching event.
//
// The cursor (LastEventID) and Status are mutated only by the owning
// runtime, except for forced status updates issued by the manager when
// stopping a worker externally. All updates are version-checked.
type Worker struct {
	// ID uniquely identifies the worker.
	ID string `json:"id" cbor:"id"`

	// Name is a human-readable label shown in listings.
	Name string `json:"name" cbor:"name"`

	// EventType is the event type this worker subscribes to.
	EventType string `json:"event_type" cbor:"event_type"`

	// Filters are predicates over the event payload. All must match.
	Filters []Filter `json:"filters,omitempty" cbor:"filters,omitempty"`

	// Concurrency is the maximum number of simultaneously active runs.
	Concurrency int `json:"concurrency" cbor:"concurrency"`

	// MaxAttempts bounds retries: a run whose attempt count reaches
	// this value fails terminally on its next non-zero exit.
	MaxAttempts int `json:"max_attempts" cbor:"max_attempts"`

	// Command and Args define a single-process worker. Mutually
	// exclusive with Steps.
	Command string   `json:"command,omitempty" cbor:"command,omitempty"`
	Args    []string `json:"args,omitempty" cbor:"args,omitempty"`

	// Steps defines a pipeline worker: an ordered list of steps
	// executed sequentially per run. Mutually exclusive with Command.
	Steps []PipelineStep `json:"steps,omitempty" cbor:"steps,omitempty"`

	// Env is merged into every spawned child's environment. For
	// pipelines this is the pipeline-level layer, overridden by action
	// and step env.
	Env map[string]string `json:"env,omitempty" cbor:"env,omitempty"`

	// WorkDir is the worker's workspace directory. Children run here
	// unless a step overrides it. The runtime halts with WorkerError
	// if the directory disappears.
	WorkDir string `json:"work_dir" cbor:"work_dir"`

	// LastEventID is the poll cursor: the highest event id this worker
	// has acknowledged. Advances monotonically.
	LastEventID int64 `json:"last_event_id" cbor:"last_event_id"`

	// Status is the lifecycle state.
	Status WorkerStatus `json:"status" cbor:"status"`

	// Version is the optimistic-concurrency token. Incremented on
	// every store update; updates carrying a stale version fail.
	Version int64 `json:"version" cbor:"version"`

	CreatedAt time.Time `json:"created_at" cbor:"created_at"`
	UpdatedAt time.Time `json:"updated_at" cbor:"updated_at"`
}

// Validate checks the worker definition for configuration errors.
// Called before the record is created and again before a runtime
// starts, so a hand-edited database row cannot crash the scheduler.
func (w *Worker) Validate() error {
	var errs []error

	if w.EventType == "" {
		errs = append(errs, fmt.Errorf("event_type is required"))
	}
	if w.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", w.Concurrency))
	}
	if w.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_attempts must be at least 1, got %d", w.MaxAttempts))
	}
	if w.Command == "" && len(w.Steps) == 0 {
		errs = append(errs, fmt.Errorf("either command or steps is required"))
	}
	if w.Command != "" && len(w.Steps) > 0 {
		errs = append(errs, fmt.Errorf("command and steps are mutually exclusive"))
	}
	for i, filter := range w.Filters {
		if filter.Field == "" {
			errs = append(errs, fmt.Errorf("filter %d: field is required", i))
		}
		if !filter.Op.Valid() {
			errs = append(errs, fmt.Errorf("filter %d: unknown operator %q", i, filter.Op))
		}
	}

	return errors.Join(errs...)
}

// IsPipeline reports whether the worker executes a pipeline rather
// than a single command.
func (w *Worker) IsPipeline() bool { return len(w.Steps) > 0 }
