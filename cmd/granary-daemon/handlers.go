// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/granary-project/granary/lib/codec"
	"github.com/granary-project/granary/lib/ipc"
	"github.com/granary-project/granary/lib/store"
	"github.com/granary-project/granary/lib/worker"
)

// server handles control-socket requests.
type server struct {
	store   *store.Store
	manager *worker.Manager
	logger  *slog.Logger
}

// serve accepts connections on the control socket and handles
// requests until the listener closes.
func (s *server) serve(ctx context.Context, listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Error("accept error", "error", err)
			return
		}
		go s.handleConnection(ctx, conn)
	}
}

// handleConnection processes a single request/response cycle.
func (s *server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(30 * time.Second))

	decoder := codec.NewDecoder(conn)
	encoder := codec.NewEncoder(conn)

	var request ipc.Request
	if err := decoder.Decode(&request); err != nil {
		s.logger.Error("decoding control request", "error", err)
		if err := encoder.Encode(ipc.Response{OK: false, Error: "invalid request"}); err != nil {
			s.logger.Error("encoding error response", "error", err)
		}
		return
	}

	s.logger.Info("control request",
		"action", request.Action,
		"worker_id", request.WorkerID,
		"run_id", request.RunID)

	response := s.handle(ctx, &request)
	if err := encoder.Encode(response); err != nil {
		s.logger.Error("encoding control response", "error", err)
	}
}

// handle dispatches one control request.
func (s *server) handle(ctx context.Context, req *ipc.Request) ipc.Response {
	switch req.Action {
	case ipc.ActionPing:
		if err := s.store.Ping(ctx); err != nil {
			return errorResponse(err)
		}
		return ipc.Response{OK: true}

	case ipc.ActionStartWorker:
		if err := s.manager.StartWorker(ctx, req.WorkerID); err != nil {
			return errorResponse(err)
		}
		return s.workerResponse(ctx, req.WorkerID)

	case ipc.ActionStopWorker:
		if req.CancelRuns {
			s.cancelWorkerRuns(ctx, req.WorkerID)
		}
		if err := s.manager.StopWorker(ctx, req.WorkerID); err != nil {
			return errorResponse(err)
		}
		return s.workerResponse(ctx, req.WorkerID)

	case ipc.ActionGetWorker:
		return s.workerResponse(ctx, req.WorkerID)

	case ipc.ActionListWorkers:
		workers, err := s.store.ListWorkers(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return ipc.Response{OK: true, Workers: workers}

	case ipc.ActionGetRun:
		return s.runResponse(ctx, req.RunID)

	case ipc.ActionListRuns:
		runs, err := s.store.ListRuns(ctx, req.WorkerID, req.Limit)
		if err != nil {
			return errorResponse(err)
		}
		return ipc.Response{OK: true, Runs: runs}

	case ipc.ActionStopRun:
		if err := s.manager.StopRun(ctx, req.RunID, req.Reason); err != nil {
			return errorResponse(err)
		}
		return s.runResponse(ctx, req.RunID)

	case ipc.ActionPauseRun:
		if err := s.manager.PauseRun(ctx, req.RunID); err != nil {
			return errorResponse(err)
		}
		return s.runResponse(ctx, req.RunID)

	case ipc.ActionResumeRun:
		if err := s.manager.ResumeRun(ctx, req.RunID); err != nil {
			return errorResponse(err)
		}
		return s.runResponse(ctx, req.RunID)

	case ipc.ActionFetchLogs:
		page, err := s.manager.FetchLogs(ctx, req.RunID, req.SinceLine, req.Limit)
		if err != nil {
			return errorResponse(err)
		}
		return ipc.Response{OK: true, Logs: &page}

	case ipc.ActionPrune:
		pruned, err := s.manager.Prune(ctx)
		if err != nil {
			return errorResponse(err)
		}
		return ipc.Response{OK: true, Pruned: pruned}

	default:
		return ipc.Response{OK: false, Error: "unknown action: " + req.Action}
	}
}

// cancelWorkerRuns cancels a worker's non-terminal runs ahead of a
// stop request. Best-effort: runs the runtime finishes concurrently
// are left alone.
func (s *server) cancelWorkerRuns(ctx context.Context, workerID string) {
	runs, err := s.store.ListRuns(ctx, workerID, 0)
	if err != nil {
		s.logger.Warn("listing runs for cancellation failed", "worker_id", workerID, "error", err)
		return
	}
	for _, run := range runs {
		if run.Status.Terminal() {
			continue
		}
		if err := s.manager.StopRun(ctx, run.ID, "worker stopped"); err != nil {
			s.logger.Warn("cancelling run failed", "run_id", run.ID, "error", err)
		}
	}
}

func (s *server) workerResponse(ctx context.Context, workerID string) ipc.Response {
	worker, err := s.store.GetWorker(ctx, workerID)
	if err != nil {
		return errorResponse(err)
	}
	return ipc.Response{OK: true, Worker: &worker}
}

func (s *server) runResponse(ctx context.Context, runID string) ipc.Response {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return errorResponse(err)
	}
	return ipc.Response{OK: true, Run: &run}
}

func errorResponse(err error) ipc.Response {
	return ipc.Response{OK: false, Error: err.Error()}
}
