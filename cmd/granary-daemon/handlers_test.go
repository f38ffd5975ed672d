// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/granary-project/granary/lib/ipc"
	"github.com/granary-project/granary/lib/schema"
	"github.com/granary-project/granary/lib/store"
	"github.com/granary-project/granary/lib/worker"
)

func newTestServer(t *testing.T) (*server, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "granary.db")})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	manager, err := worker.NewManager(worker.ManagerConfig{
		Store:        s,
		LogRoot:      t.TempDir(),
		PollInterval: 20 * time.Millisecond,
		StopGrace:    100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("building manager: %v", err)
	}
	t.Cleanup(func() { manager.StopAll(context.Background()) })

	return &server{
		store:   s,
		manager: manager,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, s
}

func createWorker(t *testing.T, s *store.Store, id string) *schema.Worker {
	t.Helper()
	w := &schema.Worker{
		ID:          id,
		EventType:   "task.created",
		Concurrency: 1,
		MaxAttempts: 3,
		Command:     "/bin/true",
		WorkDir:     t.TempDir(),
	}
	if err := s.CreateWorker(context.Background(), w); err != nil {
		t.Fatalf("creating worker: %v", err)
	}
	return w
}

func TestHandlePing(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.handle(context.Background(), &ipc.Request{Action: ipc.ActionPing})
	if !resp.OK {
		t.Fatalf("ping failed: %s", resp.Error)
	}
}

func TestHandleUnknownAction(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := srv.handle(context.Background(), &ipc.Request{Action: "explode"})
	if resp.OK {
		t.Fatal("unknown action succeeded")
	}
}

func TestHandleWorkerLifecycle(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	createWorker(t, s, "w1")

	resp := srv.handle(ctx, &ipc.Request{Action: ipc.ActionStartWorker, WorkerID: "w1"})
	if !resp.OK {
		t.Fatalf("start failed: %s", resp.Error)
	}
	if resp.Worker == nil || resp.Worker.Status != schema.WorkerRunning {
		t.Fatalf("start response worker = %+v", resp.Worker)
	}

	resp = srv.handle(ctx, &ipc.Request{Action: ipc.ActionListWorkers})
	if !resp.OK || len(resp.Workers) != 1 {
		t.Fatalf("list = %+v", resp)
	}

	resp = srv.handle(ctx, &ipc.Request{Action: ipc.ActionStopWorker, WorkerID: "w1"})
	if !resp.OK {
		t.Fatalf("stop failed: %s", resp.Error)
	}
	if resp.Worker.Status != schema.WorkerStopped {
		t.Fatalf("status after stop = %s", resp.Worker.Status)
	}

	resp = srv.handle(ctx, &ipc.Request{Action: ipc.ActionStartWorker, WorkerID: "missing"})
	if resp.OK {
		t.Fatal("starting a missing worker succeeded")
	}
}

func TestHandleRunControl(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	createWorker(t, s, "w1")

	run := &schema.Run{ID: "r1", WorkerID: "w1", EventID: 1, MaxAttempts: 3}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("creating run: %v", err)
	}

	resp := srv.handle(ctx, &ipc.Request{Action: ipc.ActionGetRun, RunID: "r1"})
	if !resp.OK || resp.Run == nil || resp.Run.Status != schema.RunPending {
		t.Fatalf("get run = %+v", resp)
	}

	resp = srv.handle(ctx, &ipc.Request{Action: ipc.ActionStopRun, RunID: "r1", Reason: "test"})
	if !resp.OK {
		t.Fatalf("stop run failed: %s", resp.Error)
	}
	if resp.Run.Status != schema.RunCancelled || resp.Run.Error != "test" {
		t.Fatalf("run after stop = %+v", resp.Run)
	}

	// Pausing a cancelled run is rejected.
	resp = srv.handle(ctx, &ipc.Request{Action: ipc.ActionPauseRun, RunID: "r1"})
	if resp.OK {
		t.Fatal("pausing a cancelled run succeeded")
	}

	resp = srv.handle(ctx, &ipc.Request{Action: ipc.ActionListRuns, WorkerID: "w1"})
	if !resp.OK || len(resp.Runs) != 1 {
		t.Fatalf("list runs = %+v", resp)
	}
}

func TestHandleStopWorkerCancelsRuns(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	createWorker(t, s, "w1")

	run := &schema.Run{ID: "r1", WorkerID: "w1", EventID: 1, MaxAttempts: 3}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("creating run: %v", err)
	}

	resp := srv.handle(ctx, &ipc.Request{Action: ipc.ActionStartWorker, WorkerID: "w1"})
	if !resp.OK {
		t.Fatalf("start failed: %s", resp.Error)
	}
	resp = srv.handle(ctx, &ipc.Request{Action: ipc.ActionStopWorker, WorkerID: "w1", CancelRuns: true})
	if !resp.OK {
		t.Fatalf("stop failed: %s", resp.Error)
	}

	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("getting run: %v", err)
	}
	if got.Status != schema.RunCancelled {
		t.Fatalf("run status = %s, want cancelled", got.Status)
	}
}

func TestHandleFetchLogsAndPrune(t *testing.T) {
	srv, s := newTestServer(t)
	ctx := context.Background()
	w := createWorker(t, s, "w1")

	resp := srv.handle(ctx, &ipc.Request{Action: ipc.ActionFetchLogs, RunID: "missing"})
	if resp.OK {
		t.Fatal("fetching logs for a missing run succeeded")
	}

	run := &schema.Run{ID: "r1", WorkerID: w.ID, EventID: 1, MaxAttempts: 3}
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("creating run: %v", err)
	}
	resp = srv.handle(ctx, &ipc.Request{Action: ipc.ActionFetchLogs, RunID: "r1"})
	if !resp.OK || resp.Logs == nil {
		t.Fatalf("fetch logs = %+v", resp)
	}
	if len(resp.Logs.Lines) != 0 || resp.Logs.HasMore {
		t.Fatalf("logless run page = %+v", resp.Logs)
	}

	if err := s.ForceWorkerStatus(ctx, w.ID, schema.WorkerStopped); err != nil {
		t.Fatalf("forcing status: %v", err)
	}
	resp = srv.handle(ctx, &ipc.Request{Action: ipc.ActionPrune})
	if !resp.OK || resp.Pruned != 1 {
		t.Fatalf("prune = %+v", resp)
	}
}
