// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/granary-project/granary/lib/schema"
	"github.com/granary-project/granary/lib/store"
	"github.com/granary-project/granary/lib/testutil"
)

func testWorkerDef(id string) *schema.Worker {
	return &schema.Worker{
		ID:          id,
		Name:        "test worker",
		EventType:   "task.created",
		Concurrency: 1,
		MaxAttempts: 3,
		Command:     "/bin/true",
		WorkDir:     "/tmp",
	}
}

// runtimeWorker creates a worker with its own workspace and persists
// it, applying mutate first.
func runtimeWorker(t *testing.T, s *store.Store, mutate func(*schema.Worker)) *schema.Worker {
	t.Helper()
	w := testWorkerDef("w1")
	w.WorkDir = t.TempDir()
	if mutate != nil {
		mutate(w)
	}
	if err := s.CreateWorker(context.Background(), w); err != nil {
		t.Fatalf("creating worker: %v", err)
	}
	return w
}

// startRuntime launches a runtime with fast test timings. The
// returned stop function cancels it and waits for the loop to exit,
// returning the loop's error.
func startRuntime(t *testing.T, s *store.Store, w *schema.Worker) (stop func() error) {
	t.Helper()
	rt, err := NewRuntime(RuntimeConfig{
		Store:        s,
		Worker:       w,
		LogDir:       t.TempDir(),
		PollInterval: 20 * time.Millisecond,
		StopGrace:    100 * time.Millisecond,
		RetryBase:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Run(ctx) }()

	stopped := false
	stop = func() error {
		stopped = true
		cancel()
		return testutil.RequireReceive(t, errCh, 10*time.Second, "waiting for runtime exit")
	}
	t.Cleanup(func() {
		if !stopped {
			cancel()
			<-errCh
		}
	})
	return stop
}

func soleRun(t *testing.T, s *store.Store, workerID string) schema.Run {
	t.Helper()
	runs, err := s.ListRuns(context.Background(), workerID, 0)
	if err != nil {
		t.Fatalf("listing runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	return runs[0]
}

func TestRuntimeRunsCommandForMatchingEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := runtimeWorker(t, s, func(w *schema.Worker) {
		w.Command = "/bin/sh"
		w.Args = []string{"-c", `printf "worker=$GRANARY_WORKER_ID run=$GRANARY_RUN_ID"`}
	})
	eventID := appendEvent(t, s, "task.created", `{"title": "hello"}`)

	startRuntime(t, s, w)

	testutil.Eventually(t, 10*time.Second, func() bool {
		runs, err := s.ListRuns(ctx, "w1", 0)
		return err == nil && len(runs) == 1 && runs[0].Status == schema.RunCompleted
	}, "waiting for run completion")

	run := soleRun(t, s, "w1")
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", run.ExitCode)
	}
	if run.EventID != eventID {
		t.Fatalf("run event id = %d, want %d", run.EventID, eventID)
	}

	data, err := os.ReadFile(run.LogPath)
	if err != nil {
		t.Fatalf("reading run log: %v", err)
	}
	if !strings.Contains(string(data), "worker=w1 run="+run.ID) {
		t.Fatalf("log missing run identity env:\n%s", data)
	}

	stored, err := s.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("getting worker: %v", err)
	}
	if stored.LastEventID != eventID {
		t.Fatalf("cursor = %d, want %d", stored.LastEventID, eventID)
	}
}

func TestRuntimeSkipsFilteredEventsButAdvancesCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := runtimeWorker(t, s, func(w *schema.Worker) {
		w.Filters = []schema.Filter{{Field: "status", Op: schema.OpEquals, Value: "todo"}}
	})
	appendEvent(t, s, "task.created", `{"status": "todo"}`)
	skipped := appendEvent(t, s, "task.created", `{"status": "done"}`)

	startRuntime(t, s, w)

	testutil.Eventually(t, 10*time.Second, func() bool {
		stored, err := s.GetWorker(ctx, "w1")
		return err == nil && stored.LastEventID == skipped
	}, "waiting for cursor to pass the filtered event")

	runs, err := s.ListRuns(ctx, "w1", 0)
	if err != nil {
		t.Fatalf("listing runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1 (filtered event claimed)", len(runs))
	}
}

func TestRuntimeRetriesThenFailsTerminally(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := runtimeWorker(t, s, func(w *schema.Worker) {
		w.MaxAttempts = 2
		w.Command = "/bin/sh"
		w.Args = []string{"-c", "exit 7"}
	})
	appendEvent(t, s, "task.created", "")

	startRuntime(t, s, w)

	testutil.Eventually(t, 10*time.Second, func() bool {
		runs, err := s.ListRuns(ctx, "w1", 0)
		return err == nil && len(runs) == 1 && runs[0].Status == schema.RunFailed
	}, "waiting for terminal failure")

	run := soleRun(t, s, "w1")
	if run.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", run.Attempt)
	}
	if run.ExitCode == nil || *run.ExitCode != 7 {
		t.Fatalf("exit code = %v, want 7", run.ExitCode)
	}
	if run.NextRetryAt != nil {
		t.Fatalf("terminal run still has next_retry_at = %v", run.NextRetryAt)
	}
}

func TestRuntimeBoundsConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := runtimeWorker(t, s, func(w *schema.Worker) {
		w.Concurrency = 1
		w.Command = "/bin/sh"
		w.Args = []string{"-c", "sleep 0.4"}
	})
	appendEvent(t, s, "task.created", "")
	appendEvent(t, s, "task.created", "")

	startRuntime(t, s, w)

	// While the first child sleeps, the second event must stay
	// unclaimed: no execution slot, no claim.
	testutil.Eventually(t, 5*time.Second, func() bool {
		runs, err := s.ListRuns(ctx, "w1", 0)
		return err == nil && len(runs) == 1 && runs[0].Status == schema.RunRunning
	}, "waiting for first run to start")

	runs, err := s.ListRuns(ctx, "w1", 0)
	if err != nil {
		t.Fatalf("listing runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("claimed %d runs with concurrency 1", len(runs))
	}

	testutil.Eventually(t, 15*time.Second, func() bool {
		runs, err := s.ListRuns(ctx, "w1", 0)
		if err != nil || len(runs) != 2 {
			return false
		}
		return runs[0].Status == schema.RunCompleted && runs[1].Status == schema.RunCompleted
	}, "waiting for both runs to finish")
}

func TestRuntimeShutdownKillsSlowRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := runtimeWorker(t, s, func(w *schema.Worker) {
		w.Command = "/bin/sh"
		w.Args = []string{"-c", "sleep 60"}
	})
	appendEvent(t, s, "task.created", "")

	stop := startRuntime(t, s, w)

	testutil.Eventually(t, 10*time.Second, func() bool {
		runs, err := s.ListRuns(ctx, "w1", 0)
		return err == nil && len(runs) == 1 && runs[0].Status == schema.RunRunning
	}, "waiting for run to start")

	if err := stop(); err != nil {
		t.Fatalf("runtime exit error: %v", err)
	}

	run := soleRun(t, s, "w1")
	if run.Status != schema.RunCancelled {
		t.Fatalf("run status = %s, want cancelled", run.Status)
	}
	if !strings.Contains(run.Error, "killed during shutdown") {
		t.Fatalf("run error = %q", run.Error)
	}

	stored, err := s.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("getting worker: %v", err)
	}
	if stored.Status != schema.WorkerStopped {
		t.Fatalf("worker status = %s, want stopped", stored.Status)
	}
}

func TestRuntimeShutdownLetsQuickRunsFinish(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := runtimeWorker(t, s, func(w *schema.Worker) {
		w.Command = "/bin/sh"
		w.Args = []string{"-c", "sleep 0.3"}
	})
	appendEvent(t, s, "task.created", "")

	rt, err := NewRuntime(RuntimeConfig{
		Store:        s,
		Worker:       w,
		LogDir:       t.TempDir(),
		PollInterval: 20 * time.Millisecond,
		StopGrace:    10 * time.Second,
	})
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Run(runCtx) }()

	testutil.Eventually(t, 10*time.Second, func() bool {
		runs, err := s.ListRuns(ctx, "w1", 0)
		return err == nil && len(runs) == 1 && runs[0].Status == schema.RunRunning
	}, "waiting for run to start")

	// Shutdown must not signal the child: it finishes well inside the
	// grace period and is recorded as a normal completion.
	cancel()
	if err := testutil.RequireReceive(t, errCh, 15*time.Second, "waiting for runtime exit"); err != nil {
		t.Fatalf("runtime exit error: %v", err)
	}

	run := soleRun(t, s, "w1")
	if run.Status != schema.RunCompleted {
		t.Fatalf("run status = %s, want completed", run.Status)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", run.ExitCode)
	}
}

func TestRuntimeStartFailureConsumesRetryBudget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := runtimeWorker(t, s, func(w *schema.Worker) {
		w.MaxAttempts = 2
	})
	appendEvent(t, s, "task.created", "")

	// A regular file where the log directory's parent should be makes
	// every log open fail before the child can be spawned.
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("writing blocker file: %v", err)
	}

	rt, err := NewRuntime(RuntimeConfig{
		Store:        s,
		Worker:       w,
		LogDir:       filepath.Join(blocker, "logs"),
		PollInterval: 20 * time.Millisecond,
		RetryBase:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Run(runCtx) }()
	t.Cleanup(func() { cancel(); <-errCh })

	// Each failed start must consume an attempt and reschedule until
	// the budget runs out, never leaving the run pending forever.
	testutil.Eventually(t, 10*time.Second, func() bool {
		runs, err := s.ListRuns(ctx, "w1", 0)
		return err == nil && len(runs) == 1 && runs[0].Status == schema.RunFailed
	}, "waiting for terminal failure")

	run := soleRun(t, s, "w1")
	if run.Attempt != 2 {
		t.Fatalf("attempt = %d, want 2", run.Attempt)
	}
	if run.NextRetryAt != nil {
		t.Fatalf("terminal run still has next_retry_at = %v", run.NextRetryAt)
	}
	if !strings.Contains(run.Error, "run log") {
		t.Fatalf("run error = %q", run.Error)
	}
}

func TestRuntimeHaltsOnWorkspaceLoss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := runtimeWorker(t, s, nil)

	rt, err := NewRuntime(RuntimeConfig{
		Store:        s,
		Worker:       w,
		LogDir:       t.TempDir(),
		PollInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- rt.Run(context.Background()) }()

	if err := os.RemoveAll(w.WorkDir); err != nil {
		t.Fatalf("removing workspace: %v", err)
	}

	runErr := testutil.RequireReceive(t, errCh, 10*time.Second, "waiting for halt")
	if runErr == nil {
		t.Fatal("runtime returned nil after workspace loss")
	}

	stored, err := s.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("getting worker: %v", err)
	}
	if stored.Status != schema.WorkerError {
		t.Fatalf("worker status = %s, want error", stored.Status)
	}
}

func TestRuntimeExecutesPipeline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := runtimeWorker(t, s, func(w *schema.Worker) {
		w.Command = ""
		w.Steps = []schema.PipelineStep{
			{Name: "emit", Command: "/bin/sh", Args: []string{"-c", "printf x"}},
			{Name: "chain", Command: "/bin/sh", Args: []string{"-c", "printf 'got:{prev.stdout}'"}},
		}
	})
	appendEvent(t, s, "task.created", "")

	startRuntime(t, s, w)

	testutil.Eventually(t, 10*time.Second, func() bool {
		runs, err := s.ListRuns(ctx, "w1", 0)
		return err == nil && len(runs) == 1 && runs[0].Status == schema.RunCompleted
	}, "waiting for pipeline completion")

	run := soleRun(t, s, "w1")
	data, err := os.ReadFile(run.LogPath)
	if err != nil {
		t.Fatalf("reading run log: %v", err)
	}
	if !strings.Contains(string(data), "got:x") {
		t.Fatalf("log missing chained output:\n%s", data)
	}
}

func TestRuntimePipelineConfigErrorFailsWithoutRetry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w := runtimeWorker(t, s, func(w *schema.Worker) {
		w.MaxAttempts = 5
		w.Command = ""
		w.Steps = []schema.PipelineStep{{Action: "missing-action"}}
	})
	appendEvent(t, s, "task.created", "")

	startRuntime(t, s, w)

	testutil.Eventually(t, 10*time.Second, func() bool {
		runs, err := s.ListRuns(ctx, "w1", 0)
		return err == nil && len(runs) == 1 && runs[0].Status == schema.RunFailed
	}, "waiting for config failure")

	run := soleRun(t, s, "w1")
	if run.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1 (config errors are not retried)", run.Attempt)
	}
	if !strings.Contains(run.Error, "missing-action") {
		t.Fatalf("run error = %q", run.Error)
	}
}
