// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/granary-project/granary/lib/actions"
	"github.com/granary-project/granary/lib/clock"
	"github.com/granary-project/granary/lib/schema"
	"github.com/granary-project/granary/lib/store"
	"github.com/granary-project/granary/lib/template"
)

const (
	// DefaultPollInterval is the scheduler tick period.
	DefaultPollInterval = time.Second

	// DefaultStopGrace is how long shutdown waits for active runs to
	// finish before killing them.
	DefaultStopGrace = 10 * time.Second

	// DefaultRetryBase is the backoff base delay for the first retry.
	DefaultRetryBase = 2 * time.Second
)

// Environment variables injected into every child so a spawned agent
// can report back against its own run.
const (
	EnvWorkerID = "GRANARY_WORKER_ID"
	EnvRunID    = "GRANARY_RUN_ID"
)

// RuntimeConfig holds the parameters for one worker's scheduler loop.
type RuntimeConfig struct {
	// Store is the shared persistence handle. Required.
	Store *store.Store

	// Worker is the definition snapshot to run. Required; must be
	// valid per Worker.Validate.
	Worker *schema.Worker

	// Actions resolves named pipeline steps. Nil means an empty set.
	Actions *actions.Set

	// LogDir is this worker's log directory. Required.
	LogDir string

	// Clock drives the tick loop. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger

	// PollInterval, StopGrace, and RetryBase default to the package
	// constants when zero.
	PollInterval time.Duration
	StopGrace    time.Duration
	RetryBase    time.Duration

	// Metrics is optional.
	Metrics *Metrics
}

// Runtime is the scheduler loop for a single worker. One goroutine
// (the loop) owns all fields; execution goroutines communicate only
// through activeRun channels.
type Runtime struct {
	store   *store.Store
	worker  *schema.Worker
	actions *actions.Set
	logDir  string
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics

	pollInterval time.Duration
	stopGrace    time.Duration
	retryBase    time.Duration

	poller *Poller
	active map[string]*activeRun
}

// NewRuntime validates the configuration and builds a runtime. The
// worker definition is re-validated so a hand-edited database row
// cannot crash the scheduler mid-loop.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("worker: Store is required")
	}
	if cfg.Worker == nil {
		return nil, fmt.Errorf("worker: Worker is required")
	}
	if err := cfg.Worker.Validate(); err != nil {
		return nil, fmt.Errorf("worker: invalid worker %s: %w", cfg.Worker.ID, err)
	}
	if cfg.LogDir == "" {
		return nil, fmt.Errorf("worker: LogDir is required")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("worker_id", cfg.Worker.ID)
	set := cfg.Actions
	if set == nil {
		set = &actions.Set{}
	}

	r := &Runtime{
		store:        cfg.Store,
		worker:       cfg.Worker,
		actions:      set,
		logDir:       cfg.LogDir,
		clock:        clk,
		logger:       logger,
		metrics:      cfg.Metrics,
		pollInterval: cfg.PollInterval,
		stopGrace:    cfg.StopGrace,
		retryBase:    cfg.RetryBase,
		active:       map[string]*activeRun{},
	}
	if r.pollInterval <= 0 {
		r.pollInterval = DefaultPollInterval
	}
	if r.stopGrace <= 0 {
		r.stopGrace = DefaultStopGrace
	}
	if r.retryBase <= 0 {
		r.retryBase = DefaultRetryBase
	}
	r.poller = NewPoller(cfg.Store, cfg.Worker, logger)
	return r, nil
}

// Run executes the scheduler loop until ctx is cancelled (clean
// shutdown, returns nil) or an unrecoverable condition halts the
// worker (returns the fatal error after marking the worker status
// error). Each tick reaps finished runs, dispatches due retries, and
// polls for new events, in that order.
func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("worker runtime started",
		"event_type", r.worker.EventType,
		"concurrency", r.worker.Concurrency,
		"cursor", r.poller.Cursor())

	ticker := r.clock.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return nil
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				r.halt(err)
				return err
			}
		}
	}
}

// tick runs one scheduler pass. A non-nil return is fatal.
func (r *Runtime) tick(ctx context.Context) error {
	r.reap(ctx)
	if err := r.checkWorkspace(ctx); err != nil {
		return err
	}
	r.dispatchRetries(ctx)
	r.pollAndDispatch(ctx)
	r.metrics.setActive(r.worker.ID, len(r.active))
	return nil
}

// checkWorkspace verifies the worker's working directory and the
// store are still reachable. Losing either is unrecoverable.
func (r *Runtime) checkWorkspace(ctx context.Context) error {
	if _, err := os.Stat(r.worker.WorkDir); err != nil {
		return fmt.Errorf("worker: workspace %s: %w", r.worker.WorkDir, err)
	}
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("worker: store unreachable: %w", err)
	}
	return nil
}

// reap collects finished runs from the active set. Success marks the
// run completed. Failure either schedules a backoff retry (while
// attempt budget remains and the failure is not a configuration
// error) or marks the run failed terminally.
func (r *Runtime) reap(ctx context.Context) {
	for id, a := range r.active {
		if pid := a.latestPID(); pid > 0 {
			a.run.PID = &pid
			r.updateRun(ctx, a.run)
		}

		res, ok := a.poll()
		if !ok {
			continue
		}
		delete(r.active, id)
		a.close()
		r.finishRun(ctx, a.run, res)
	}
}

func (r *Runtime) finishRun(ctx context.Context, run *schema.Run, res runResult) {
	run.PID = nil
	run.NextRetryAt = nil
	exit := res.exitCode
	run.ExitCode = &exit

	switch {
	case res.err == nil && res.exitCode == 0:
		run.Status = schema.RunCompleted
		run.Error = ""
		r.updateRun(ctx, run)
		r.metrics.runCompleted(r.worker.ID)
		r.logger.Info("run completed", "run_id", run.ID, "attempt", run.Attempt)

	case errors.Is(res.err, context.Canceled):
		run.Status = schema.RunCancelled
		run.ExitCode = nil
		run.Error = "killed during shutdown"
		r.updateRun(ctx, run)
		r.metrics.runCancelled(r.worker.ID)
		r.logger.Info("run cancelled", "run_id", run.ID)

	case run.Attempt < run.MaxAttempts && !errors.Is(res.err, ErrConfig):
		delay := RetryDelay(r.retryBase, run.Attempt)
		at := r.clock.Now().UTC().Add(delay)
		run.Status = schema.RunPending
		run.Attempt++
		run.NextRetryAt = &at
		run.Error = failureMessage(res)
		r.updateRun(ctx, run)
		r.metrics.runRetried(r.worker.ID)
		r.logger.Info("run scheduled for retry",
			"run_id", run.ID, "attempt", run.Attempt,
			"max_attempts", run.MaxAttempts, "delay", delay)

	default:
		run.Status = schema.RunFailed
		run.Error = failureMessage(res)
		r.updateRun(ctx, run)
		r.metrics.runFailed(r.worker.ID)
		r.logger.Warn("run failed terminally",
			"run_id", run.ID, "attempt", run.Attempt, "error", run.Error)
	}
}

func failureMessage(res runResult) string {
	if res.err != nil {
		return res.err.Error()
	}
	return fmt.Sprintf("exit code %d", res.exitCode)
}

// dispatchRetries re-dispatches pending runs whose retry deadline has
// passed, oldest due first, up to the remaining concurrency budget.
func (r *Runtime) dispatchRetries(ctx context.Context) {
	capacity := r.worker.Concurrency - len(r.active)
	if capacity <= 0 {
		return
	}

	due, err := r.store.DueRetries(ctx, r.worker.ID, r.clock.Now())
	if err != nil {
		r.logger.Warn("listing due retries failed", "error", err)
		return
	}
	for i := range due {
		if capacity <= 0 {
			return
		}
		run := due[i]
		if _, already := r.active[run.ID]; already {
			continue
		}
		if r.startRun(ctx, &run) {
			capacity--
		}
	}
}

// pollAndDispatch claims at most concurrency − active events so no
// event is claimed without an execution slot, creates a run per
// claimed event, and advances the cursor past everything scanned once
// all claimed runs exist durably.
func (r *Runtime) pollAndDispatch(ctx context.Context) {
	capacity := r.worker.Concurrency - len(r.active)
	if capacity <= 0 {
		return
	}

	events, scanned, err := r.poller.Poll(ctx, capacity)
	if err != nil {
		r.logger.Warn("event poll failed", "error", err)
		return
	}

	acked := r.poller.Cursor()
	complete := true
	for i := range events {
		event := events[i]
		r.metrics.eventMatched(r.worker.ID)

		run := &schema.Run{
			ID:          uuid.NewString(),
			WorkerID:    r.worker.ID,
			EventID:     event.ID,
			Attempt:     1,
			MaxAttempts: r.worker.MaxAttempts,
			Status:      schema.RunPending,
		}
		if err := r.store.CreateRun(ctx, run); err != nil {
			r.logger.Warn("creating run failed", "event_id", event.ID, "error", err)
			complete = false
			break
		}
		acked = event.ID
		r.startRun(ctx, run)
	}
	if complete {
		// Covers trailing events that did not pass the filters.
		acked = scanned
	}
	if err := r.poller.Acknowledge(ctx, acked); err != nil {
		r.logger.Warn("cursor acknowledge failed", "error", err)
	}
}

// startRun spawns the child (or pipeline) for a run and moves it to
// running. Returns false if the run could not be started; config
// errors mark it failed terminally.
func (r *Runtime) startRun(ctx context.Context, run *schema.Run) bool {
	event, err := r.store.GetEvent(ctx, run.EventID)
	if err != nil {
		r.logger.Warn("loading event for run failed",
			"run_id", run.ID, "event_id", run.EventID, "error", err)
		// Through finishRun so the attempt is consumed and the run is
		// either rescheduled or failed terminally, never stranded.
		r.finishRun(ctx, run, runResult{exitCode: -1,
			err: fmt.Errorf("worker: loading event %d: %w", run.EventID, err)})
		return false
	}

	logFile, logPath, err := openRunLog(r.logDir, run.ID)
	if err != nil {
		r.logger.Warn("opening run log failed", "run_id", run.ID, "error", err)
		r.finishRun(ctx, run, runResult{exitCode: -1,
			err: fmt.Errorf("worker: opening run log: %w", err)})
		return false
	}
	run.LogPath = logPath

	jobCtx, cancel := context.WithCancel(context.Background())
	a := newActiveRun(run, cancel, logFile)

	env := append(os.Environ(),
		EnvWorkerID+"="+r.worker.ID,
		EnvRunID+"="+run.ID)
	for k, v := range r.worker.Env {
		env = append(env, k+"="+v)
	}

	if r.worker.IsPipeline() {
		steps, err := ResolveSteps(r.worker, r.actions)
		if err != nil {
			cancel()
			logFile.Close()
			run.Status = schema.RunFailed
			run.Error = err.Error()
			r.updateRun(ctx, run)
			r.metrics.runFailed(r.worker.ID)
			r.logger.Error("pipeline configuration error", "run_id", run.ID, "error", err)
			return false
		}
		job := &pipelineJob{
			steps:     steps,
			event:     &event,
			workDir:   r.worker.WorkDir,
			baseEnv:   env,
			log:       logFile,
			reportPID: a.notePID,
		}
		go func() {
			code, err := job.execute(jobCtx)
			a.done <- runResult{exitCode: code, err: err}
		}()
	} else {
		command := template.Resolve(r.worker.Command, &event, nil)
		args := template.ResolveAll(r.worker.Args, &event, nil)
		fmt.Fprintf(logFile, "=== run %s: %s (attempt %d/%d) ===\n",
			run.ID, command, run.Attempt, run.MaxAttempts)
		cmd, err := startChild(command, args, r.worker.WorkDir, env, logFile, logFile)
		if err != nil {
			// Spawn failures flow through the normal reap path so the
			// retry budget applies.
			fmt.Fprintf(logFile, "=== failed to start: %v ===\n", err)
			a.done <- runResult{exitCode: -1, err: fmt.Errorf("worker: starting %q: %w", command, err)}
		} else {
			a.notePID(cmd.Process.Pid)
			go func() {
				code, err := awaitChild(jobCtx, cmd)
				a.done <- runResult{exitCode: code, err: err}
			}()
		}
	}

	run.Status = schema.RunRunning
	run.NextRetryAt = nil
	if pid := a.latestPID(); pid > 0 {
		run.PID = &pid
	}
	if !r.updateRun(ctx, run) {
		// Superseded externally (cancelled between claim and spawn).
		a.kill()
		<-a.done
		a.close()
		return false
	}

	r.active[run.ID] = a
	r.metrics.runStarted(r.worker.ID)
	r.logger.Info("run started",
		"run_id", run.ID, "event_id", run.EventID, "attempt", run.Attempt)
	return true
}

// updateRun persists a run mutation. Version conflicts and illegal
// transitions mean an external actor (cancel, stop) finalized the run
// first; those are logged and dropped, never escalated.
func (r *Runtime) updateRun(ctx context.Context, run *schema.Run) bool {
	err := r.store.UpdateRun(ctx, run)
	if err == nil {
		return true
	}
	if errors.Is(err, store.ErrVersionConflict) || errors.Is(err, store.ErrInvalidTransition) {
		r.logger.Info("run superseded externally", "run_id", run.ID, "reason", err)
	} else {
		r.logger.Warn("run update failed", "run_id", run.ID, "error", err)
	}
	return false
}

// shutdown waits up to the grace period for active runs to finish
// naturally, then kills the stragglers and marks their runs cancelled
// before marking the worker stopped.
func (r *Runtime) shutdown() {
	ctx := context.Background()
	r.logger.Info("worker shutting down", "active_runs", len(r.active))

	deadline := r.clock.After(r.stopGrace)
	poll := r.clock.NewTicker(50 * time.Millisecond)
	defer poll.Stop()
	for len(r.active) > 0 {
		r.reap(ctx)
		if len(r.active) == 0 {
			break
		}
		select {
		case <-deadline:
			for id, a := range r.active {
				a.kill()
				<-a.done
				a.close()
				delete(r.active, id)
				a.run.PID = nil
				a.run.ExitCode = nil
				a.run.Status = schema.RunCancelled
				a.run.Error = "killed during shutdown"
				r.updateRun(ctx, a.run)
				r.metrics.runCancelled(r.worker.ID)
				r.logger.Warn("run killed during shutdown", "run_id", id)
			}
		case <-poll.C:
		}
	}

	r.metrics.setActive(r.worker.ID, 0)
	if err := r.store.ForceWorkerStatus(ctx, r.worker.ID, schema.WorkerStopped); err != nil {
		r.logger.Warn("recording stopped status failed", "error", err)
	}
	r.logger.Info("worker stopped")
}

// halt handles an unrecoverable condition: kills all active runs,
// cancels their records, and marks the worker status error.
func (r *Runtime) halt(cause error) {
	ctx := context.Background()
	r.logger.Error("worker halting", "error", cause, "active_runs", len(r.active))

	for id, a := range r.active {
		a.kill()
		<-a.done
		a.close()
		delete(r.active, id)
		a.run.PID = nil
		a.run.ExitCode = nil
		a.run.Status = schema.RunCancelled
		a.run.Error = "worker halted: " + cause.Error()
		r.updateRun(ctx, a.run)
		r.metrics.runCancelled(r.worker.ID)
	}

	r.metrics.setActive(r.worker.ID, 0)
	if err := r.store.ForceWorkerStatus(ctx, r.worker.ID, schema.WorkerError); err != nil {
		r.logger.Warn("recording error status failed", "error", err)
	}
}
