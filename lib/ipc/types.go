// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"github.com/granary-project/granary/lib/schema"
	"github.com/granary-project/granary/lib/worker"
)

// Request actions.
const (
	// ActionPing checks daemon liveness.
	ActionPing = "ping"

	// ActionStartWorker spawns a runtime for a worker.
	ActionStartWorker = "start-worker"

	// ActionStopWorker shuts a worker's runtime down. CancelRuns
	// additionally cancels its active runs instead of letting the
	// grace period play out.
	ActionStopWorker = "stop-worker"

	// ActionGetWorker returns one worker record.
	ActionGetWorker = "get-worker"

	// ActionListWorkers returns all worker records.
	ActionListWorkers = "list-workers"

	// ActionGetRun returns one run record.
	ActionGetRun = "get-run"

	// ActionListRuns returns runs, newest first, optionally scoped to
	// one worker.
	ActionListRuns = "list-runs"

	// ActionStopRun cancels a run, killing its process group if live.
	ActionStopRun = "stop-run"

	// ActionPauseRun suspends a running run (SIGSTOP).
	ActionPauseRun = "pause-run"

	// ActionResumeRun continues a paused run (SIGCONT).
	ActionResumeRun = "resume-run"

	// ActionFetchLogs reads a page of a run's log file.
	ActionFetchLogs = "fetch-logs"

	// ActionPrune deletes stopped and errored workers along with their
	// runs and log directories.
	ActionPrune = "prune"
)

// Request is a CBOR-encoded request from the CLI to the daemon, sent
// over the daemon's Unix control socket.
type Request struct {
	// Action is the request type; one of the Action constants.
	Action string `cbor:"action"`

	// WorkerID identifies the worker for worker-scoped actions, and
	// optionally scopes list-runs.
	WorkerID string `cbor:"worker_id,omitempty"`

	// RunID identifies the run for run-scoped actions.
	RunID string `cbor:"run_id,omitempty"`

	// CancelRuns makes stop-worker cancel active runs immediately
	// rather than waiting out the grace period.
	CancelRuns bool `cbor:"cancel_runs,omitempty"`

	// Reason is an optional human-readable cancellation message for
	// stop-run.
	Reason string `cbor:"reason,omitempty"`

	// SinceLine and Limit paginate fetch-logs. SinceLine is the
	// 0-based line offset to start from; Limit caps the returned
	// lines, with a server-side default when zero.
	SinceLine int `cbor:"since_line,omitempty"`
	Limit     int `cbor:"limit,omitempty"`
}

// Response is a CBOR-encoded response from the daemon.
type Response struct {
	// OK indicates whether the request succeeded.
	OK bool `cbor:"ok"`

	// Error contains the error message if OK is false.
	Error string `cbor:"error,omitempty"`

	// Worker is the record returned by get-worker.
	Worker *schema.Worker `cbor:"worker,omitempty"`

	// Workers is the listing returned by list-workers.
	Workers []schema.Worker `cbor:"workers,omitempty"`

	// Run is the record returned by get-run and the run-control
	// actions (reflecting the post-action state).
	Run *schema.Run `cbor:"run,omitempty"`

	// Runs is the listing returned by list-runs.
	Runs []schema.Run `cbor:"runs,omitempty"`

	// Logs is the page returned by fetch-logs.
	Logs *worker.LogPage `cbor:"logs,omitempty"`

	// Pruned is the number of workers removed by prune.
	Pruned int `cbor:"pruned,omitempty"`
}
