// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/granary-project/granary/lib/schema"
	"github.com/granary-project/granary/lib/store"
	"github.com/granary-project/granary/lib/testutil"
)

func newTestManager(t *testing.T, s *store.Store) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Store:        s,
		LogRoot:      t.TempDir(),
		PollInterval: 20 * time.Millisecond,
		StopGrace:    100 * time.Millisecond,
		RetryBase:    20 * time.Millisecond,
		StopTimeout:  10 * time.Second,
	})
	if err != nil {
		t.Fatalf("building manager: %v", err)
	}
	t.Cleanup(func() { m.StopAll(context.Background()) })
	return m
}

func TestManagerStartStopWorker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newTestManager(t, s)

	runtimeWorker(t, s, nil)

	if err := m.StartWorker(ctx, "w1"); err != nil {
		t.Fatalf("starting worker: %v", err)
	}
	stored, err := s.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("getting worker: %v", err)
	}
	if stored.Status != schema.WorkerRunning {
		t.Fatalf("status after start = %s, want running", stored.Status)
	}

	if err := m.StartWorker(ctx, "w1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("double start err = %v, want ErrAlreadyRunning", err)
	}

	if err := m.StopWorker(ctx, "w1"); err != nil {
		t.Fatalf("stopping worker: %v", err)
	}
	stored, err = s.GetWorker(ctx, "w1")
	if err != nil {
		t.Fatalf("getting worker: %v", err)
	}
	if stored.Status != schema.WorkerStopped {
		t.Fatalf("status after stop = %s, want stopped", stored.Status)
	}

	if err := m.StopWorker(ctx, "w1"); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("double stop err = %v, want ErrNotRunning", err)
	}
}

func TestManagerStartWorkerMissingWorkspace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newTestManager(t, s)

	w := runtimeWorker(t, s, nil)
	if err := os.RemoveAll(w.WorkDir); err != nil {
		t.Fatalf("removing workspace: %v", err)
	}

	if err := m.StartWorker(ctx, "w1"); err == nil {
		t.Fatal("starting worker with missing workspace succeeded")
	}
}

func TestManagerRestore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newTestManager(t, s)

	// Simulate a daemon crash: records say running, no live runtime.
	alive := runtimeWorker(t, s, nil)
	if err := s.ForceWorkerStatus(ctx, alive.ID, schema.WorkerRunning); err != nil {
		t.Fatalf("forcing status: %v", err)
	}

	gone := testWorkerDef("w2")
	gone.WorkDir = filepath.Join(t.TempDir(), "vanished")
	if err := s.CreateWorker(ctx, gone); err != nil {
		t.Fatalf("creating worker: %v", err)
	}
	if err := s.ForceWorkerStatus(ctx, "w2", schema.WorkerRunning); err != nil {
		t.Fatalf("forcing status: %v", err)
	}

	restored, errored, err := m.Restore(ctx)
	if err != nil {
		t.Fatalf("restoring: %v", err)
	}
	if restored != 1 || errored != 1 {
		t.Fatalf("restored = %d, errored = %d, want 1 and 1", restored, errored)
	}

	stored, err := s.GetWorker(ctx, "w2")
	if err != nil {
		t.Fatalf("getting worker: %v", err)
	}
	if stored.Status != schema.WorkerError {
		t.Fatalf("vanished worker status = %s, want error", stored.Status)
	}

	if err := m.StopWorker(ctx, "w1"); err != nil {
		t.Fatalf("stopping restored worker: %v", err)
	}
}

func TestManagerPrune(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newTestManager(t, s)

	w := runtimeWorker(t, s, nil)
	run := &schema.Run{ID: "r1", WorkerID: w.ID, EventID: 1, MaxAttempts: 3}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("creating run: %v", err)
	}
	if err := s.ForceWorkerStatus(ctx, w.ID, schema.WorkerStopped); err != nil {
		t.Fatalf("forcing status: %v", err)
	}

	logDir := m.LogDir(w.ID)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatalf("creating log dir: %v", err)
	}

	pruned, err := m.Prune(ctx)
	if err != nil {
		t.Fatalf("pruning: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	if _, err := s.GetWorker(ctx, w.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("worker after prune err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetRun(ctx, "r1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("run after prune err = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(logDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("log dir after prune err = %v, want not-exist", err)
	}
}

func TestManagerPruneSkipsLiveWorkers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newTestManager(t, s)

	runtimeWorker(t, s, nil)
	if err := m.StartWorker(ctx, "w1"); err != nil {
		t.Fatalf("starting worker: %v", err)
	}
	// Stale status row while the runtime is live.
	if err := s.ForceWorkerStatus(ctx, "w1", schema.WorkerError); err != nil {
		t.Fatalf("forcing status: %v", err)
	}

	pruned, err := m.Prune(ctx)
	if err != nil {
		t.Fatalf("pruning: %v", err)
	}
	if pruned != 0 {
		t.Fatalf("pruned = %d, want 0 (worker is live)", pruned)
	}
}

func TestManagerStopRunPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newTestManager(t, s)

	w := runtimeWorker(t, s, nil)
	run := &schema.Run{ID: "r1", WorkerID: w.ID, EventID: 1, MaxAttempts: 3}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("creating run: %v", err)
	}

	if err := m.StopRun(ctx, "r1", ""); err != nil {
		t.Fatalf("stopping run: %v", err)
	}
	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("getting run: %v", err)
	}
	if got.Status != schema.RunCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	// Terminal runs cannot be stopped again.
	if err := m.StopRun(ctx, "r1", ""); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("double stop err = %v, want ErrInvalidTransition", err)
	}
}

func TestManagerPauseResumeStopLiveRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newTestManager(t, s)

	w := runtimeWorker(t, s, func(w *schema.Worker) {
		w.Command = "/bin/sh"
		w.Args = []string{"-c", "sleep 60"}
	})
	appendEvent(t, s, "task.created", "")

	if err := m.StartWorker(ctx, w.ID); err != nil {
		t.Fatalf("starting worker: %v", err)
	}

	var runID string
	testutil.Eventually(t, 10*time.Second, func() bool {
		runs, err := s.ListRuns(ctx, w.ID, 0)
		if err != nil || len(runs) != 1 {
			return false
		}
		if runs[0].Status != schema.RunRunning || runs[0].PID == nil {
			return false
		}
		runID = runs[0].ID
		return true
	}, "waiting for run with pid")

	if err := m.PauseRun(ctx, runID); err != nil {
		t.Fatalf("pausing run: %v", err)
	}
	got, err := s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("getting run: %v", err)
	}
	if got.Status != schema.RunPaused {
		t.Fatalf("status after pause = %s, want paused", got.Status)
	}

	// Pausing a paused run is rejected.
	if err := m.PauseRun(ctx, runID); !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("double pause err = %v, want ErrInvalidTransition", err)
	}

	if err := m.ResumeRun(ctx, runID); err != nil {
		t.Fatalf("resuming run: %v", err)
	}
	got, err = s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("getting run: %v", err)
	}
	if got.Status != schema.RunRunning {
		t.Fatalf("status after resume = %s, want running", got.Status)
	}

	if err := m.StopRun(ctx, runID, "operator request"); err != nil {
		t.Fatalf("stopping run: %v", err)
	}
	got, err = s.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("getting run: %v", err)
	}
	if got.Status != schema.RunCancelled || got.Error != "operator request" {
		t.Fatalf("run after stop = %+v", got)
	}
}

func TestManagerFetchLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := newTestManager(t, s)

	w := runtimeWorker(t, s, nil)
	logPath := writeLogFile(t, t.TempDir(), "r1.log", 6)
	run := &schema.Run{ID: "r1", WorkerID: w.ID, EventID: 1, MaxAttempts: 3, LogPath: logPath}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("creating run: %v", err)
	}

	page, err := m.FetchLogs(ctx, "r1", 2, 3)
	if err != nil {
		t.Fatalf("fetching logs: %v", err)
	}
	if len(page.Lines) != 3 || page.Lines[0] != "line 2" {
		t.Fatalf("page = %+v", page)
	}
	if page.NextLine != 5 || !page.HasMore {
		t.Fatalf("pagination = next %d, more %v", page.NextLine, page.HasMore)
	}
}

func TestManagerEnforceRetention(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	m, err := NewManager(ManagerConfig{
		Store:       s,
		LogRoot:     t.TempDir(),
		LogMaxFiles: 1,
	})
	if err != nil {
		t.Fatalf("building manager: %v", err)
	}

	w := runtimeWorker(t, s, nil)
	logDir := m.LogDir(w.ID)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatalf("creating log dir: %v", err)
	}
	oldPath := writeLogFile(t, logDir, "old.log", 1)
	stale := time.Now().Add(-time.Hour)
	if err := os.Chtimes(oldPath, stale, stale); err != nil {
		t.Fatalf("setting mtime: %v", err)
	}
	newPath := writeLogFile(t, logDir, "new.log", 1)

	if err := m.EnforceRetention(ctx); err != nil {
		t.Fatalf("enforcing retention: %v", err)
	}
	if _, err := os.Stat(oldPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("old log err = %v, want not-exist", err)
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Fatalf("new log removed: %v", err)
	}
}
