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
	"path/filepath"
	"sync"
	"time"

	"github.com/granary-project/granary/lib/actions"
	"github.com/granary-project/granary/lib/clock"
	"github.com/granary-project/granary/lib/process"
	"github.com/granary-project/granary/lib/schema"
	"github.com/granary-project/granary/lib/store"
)

// DefaultStopTimeout bounds how long StopWorker waits for a runtime
// to exit after signalling it.
const DefaultStopTimeout = 30 * time.Second

// ErrNotRunning means the worker has no live runtime in this manager.
var ErrNotRunning = errors.New("worker: not running")

// ErrAlreadyRunning means a runtime already owns the worker.
var ErrAlreadyRunning = errors.New("worker: already running")

// ManagerConfig holds the daemon-level scheduler parameters shared by
// all runtimes.
type ManagerConfig struct {
	// Store is the shared persistence handle. Required.
	Store *store.Store

	// Actions resolves named pipeline steps. Nil means an empty set.
	Actions *actions.Set

	// LogRoot is the directory under which each worker gets its own
	// log directory. Required.
	LogRoot string

	// Clock drives all runtimes. Defaults to clock.Real().
	Clock clock.Clock

	// Logger receives operational messages. Nil means discard.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *Metrics

	// PollInterval, StopGrace, and RetryBase are passed to every
	// runtime; zero values take the runtime defaults.
	PollInterval time.Duration
	StopGrace    time.Duration
	RetryBase    time.Duration

	// StopTimeout bounds StopWorker's wait for runtime exit. Defaults
	// to DefaultStopTimeout.
	StopTimeout time.Duration

	// LogMaxAge and LogMaxFiles configure log retention. Zero disables
	// the respective dimension.
	LogMaxAge   time.Duration
	LogMaxFiles int
}

// runtimeHandle is the manager's grip on one live runtime.
type runtimeHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns one Runtime per active worker and exposes the
// daemon-side control surface: start, stop, restore after a crash,
// prune dead workers, run control, and log access. Safe for
// concurrent use.
type Manager struct {
	cfg    ManagerConfig
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]*runtimeHandle
}

// NewManager validates the configuration and builds a manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("worker: Store is required")
	}
	if cfg.LogRoot == "" {
		return nil, fmt.Errorf("worker: LogRoot is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Actions == nil {
		cfg.Actions = &actions.Set{}
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Manager{
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		running: map[string]*runtimeHandle{},
	}, nil
}

// LogDir returns a worker's log directory.
func (m *Manager) LogDir(workerID string) string {
	return filepath.Join(m.cfg.LogRoot, workerID)
}

// StartWorker spawns a runtime for the worker, moving its status to
// running. Fails if the worker is already running here, its record is
// invalid, or its workspace does not exist.
func (m *Manager) StartWorker(ctx context.Context, workerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[workerID]; ok {
		return fmt.Errorf("worker %s: %w", workerID, ErrAlreadyRunning)
	}

	worker, err := m.cfg.Store.GetWorker(ctx, workerID)
	if err != nil {
		return err
	}
	if err := worker.Validate(); err != nil {
		return fmt.Errorf("worker %s: %w", workerID, err)
	}
	if _, err := os.Stat(worker.WorkDir); err != nil {
		return fmt.Errorf("worker %s: workspace: %w", workerID, err)
	}

	version, err := m.cfg.Store.UpdateWorkerStatus(ctx, workerID, schema.WorkerRunning, worker.Version)
	if err != nil {
		return err
	}
	worker.Status = schema.WorkerRunning
	worker.Version = version

	return m.spawnLocked(&worker)
}

// spawnLocked builds and launches a runtime goroutine. Caller holds
// the mutex; the worker record must already carry status running.
func (m *Manager) spawnLocked(worker *schema.Worker) error {
	rt, err := NewRuntime(RuntimeConfig{
		Store:        m.cfg.Store,
		Worker:       worker,
		Actions:      m.cfg.Actions,
		LogDir:       m.LogDir(worker.ID),
		Clock:        m.clock,
		Logger:       m.logger,
		Metrics:      m.cfg.Metrics,
		PollInterval: m.cfg.PollInterval,
		StopGrace:    m.cfg.StopGrace,
		RetryBase:    m.cfg.RetryBase,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	handle := &runtimeHandle{cancel: cancel, done: make(chan struct{})}
	m.running[worker.ID] = handle

	go func() {
		defer close(handle.done)
		if err := rt.Run(runCtx); err != nil {
			m.logger.Error("worker runtime halted", "worker_id", worker.ID, "error", err)
		}
		m.mu.Lock()
		if m.running[worker.ID] == handle {
			delete(m.running, worker.ID)
		}
		m.mu.Unlock()
	}()
	return nil
}

// StopWorker signals a worker's runtime to shut down and waits for it
// with a bounded timeout. On timeout the worker status is forced to
// error, since the runtime's state is no longer trustworthy.
func (m *Manager) StopWorker(ctx context.Context, workerID string) error {
	m.mu.Lock()
	handle, ok := m.running[workerID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker %s: %w", workerID, ErrNotRunning)
	}

	handle.cancel()
	select {
	case <-handle.done:
		return nil
	case <-m.clock.After(m.cfg.StopTimeout):
		m.logger.Error("worker runtime did not stop in time", "worker_id", workerID)
		if err := m.cfg.Store.ForceWorkerStatus(ctx, workerID, schema.WorkerError); err != nil {
			m.logger.Warn("forcing worker status failed", "worker_id", workerID, "error", err)
		}
		return fmt.Errorf("worker %s: runtime did not stop within %s", workerID, m.cfg.StopTimeout)
	}
}

// StopAll stops every live runtime. Called during daemon shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.StopWorker(ctx, id); err != nil && !errors.Is(err, ErrNotRunning) {
				m.logger.Warn("stopping worker failed", "worker_id", id, "error", err)
			}
		}()
	}
	wg.Wait()
}

// Restore re-spawns runtimes for workers marked running in the store,
// typically after a daemon crash. Workers whose workspace has
// disappeared are marked error instead. Returns the restored and
// errored counts.
func (m *Manager) Restore(ctx context.Context) (restored, errored int, err error) {
	workers, err := m.cfg.Store.ListWorkersByStatus(ctx, schema.WorkerRunning)
	if err != nil {
		return 0, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range workers {
		worker := workers[i]
		if _, ok := m.running[worker.ID]; ok {
			continue
		}
		if _, statErr := os.Stat(worker.WorkDir); statErr != nil {
			m.logger.Warn("workspace missing, not restoring",
				"worker_id", worker.ID, "work_dir", worker.WorkDir)
			if err := m.cfg.Store.ForceWorkerStatus(ctx, worker.ID, schema.WorkerError); err != nil {
				m.logger.Warn("forcing worker status failed", "worker_id", worker.ID, "error", err)
			}
			errored++
			continue
		}
		if err := m.spawnLocked(&worker); err != nil {
			m.logger.Error("restoring worker failed", "worker_id", worker.ID, "error", err)
			if err := m.cfg.Store.ForceWorkerStatus(ctx, worker.ID, schema.WorkerError); err != nil {
				m.logger.Warn("forcing worker status failed", "worker_id", worker.ID, "error", err)
			}
			errored++
			continue
		}
		restored++
	}

	m.logger.Info("worker restore finished", "restored", restored, "errored", errored)
	return restored, errored, nil
}

// Prune deletes workers in stopped or error state: their runs (via
// the store), their log directory, and the worker record. Live
// workers are never pruned. Returns the number of workers removed.
func (m *Manager) Prune(ctx context.Context) (int, error) {
	workers, err := m.cfg.Store.ListWorkersByStatus(ctx, schema.WorkerStopped, schema.WorkerError)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, worker := range workers {
		m.mu.Lock()
		_, live := m.running[worker.ID]
		m.mu.Unlock()
		if live {
			continue
		}

		if err := m.cfg.Store.DeleteWorker(ctx, worker.ID); err != nil {
			m.logger.Warn("pruning worker failed", "worker_id", worker.ID, "error", err)
			continue
		}
		if err := os.RemoveAll(m.LogDir(worker.ID)); err != nil {
			m.logger.Warn("removing log dir failed", "worker_id", worker.ID, "error", err)
		}
		m.logger.Info("worker pruned", "worker_id", worker.ID, "status", worker.Status)
		pruned++
	}
	return pruned, nil
}

// EnforceRetention applies the configured age and file-count caps to
// every worker's log directory, independent of run status.
func (m *Manager) EnforceRetention(ctx context.Context) error {
	if m.cfg.LogMaxAge <= 0 && m.cfg.LogMaxFiles <= 0 {
		return nil
	}
	workers, err := m.cfg.Store.ListWorkers(ctx)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	for _, worker := range workers {
		removed, err := PruneLogs(m.LogDir(worker.ID), m.cfg.LogMaxAge, m.cfg.LogMaxFiles, now)
		if err != nil {
			m.logger.Warn("log retention failed", "worker_id", worker.ID, "error", err)
			continue
		}
		if removed > 0 {
			m.logger.Info("log retention removed files", "worker_id", worker.ID, "removed", removed)
		}
	}
	return nil
}

// StopRun cancels a run. A pending run is simply marked cancelled; a
// running or paused run has its process group killed first. The
// owning runtime's reaper observes the kill but cannot overwrite the
// cancelled status (the transition is illegal), so the cancellation
// sticks.
func (m *Manager) StopRun(ctx context.Context, runID, reason string) error {
	run, err := m.cfg.Store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("worker: run %s already %s: %w", runID, run.Status, store.ErrInvalidTransition)
	}

	if run.PID != nil && (run.Status == schema.RunRunning || run.Status == schema.RunPaused) {
		// SIGKILL also reaps a stopped (paused) group.
		if err := process.Kill(*run.PID); err != nil {
			m.logger.Warn("killing run process group failed",
				"run_id", runID, "pid", *run.PID, "error", err)
		}
	}

	if reason == "" {
		reason = "cancelled by request"
	}
	run.Status = schema.RunCancelled
	run.Error = reason
	run.PID = nil
	run.NextRetryAt = nil
	return m.cfg.Store.UpdateRun(ctx, &run)
}

// PauseRun suspends a running run's process group (SIGSTOP).
func (m *Manager) PauseRun(ctx context.Context, runID string) error {
	run, err := m.cfg.Store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != schema.RunRunning {
		return fmt.Errorf("worker: run %s is %s, not running: %w", runID, run.Status, store.ErrInvalidTransition)
	}
	if run.PID == nil {
		return fmt.Errorf("worker: run %s has no live process", runID)
	}
	if err := process.Pause(*run.PID); err != nil {
		return fmt.Errorf("worker: pausing run %s: %w", runID, err)
	}
	run.Status = schema.RunPaused
	return m.cfg.Store.UpdateRun(ctx, &run)
}

// ResumeRun continues a paused run's process group (SIGCONT).
func (m *Manager) ResumeRun(ctx context.Context, runID string) error {
	run, err := m.cfg.Store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status != schema.RunPaused {
		return fmt.Errorf("worker: run %s is %s, not paused: %w", runID, run.Status, store.ErrInvalidTransition)
	}
	if run.PID == nil {
		return fmt.Errorf("worker: run %s has no live process", runID)
	}
	if err := process.Resume(*run.PID); err != nil {
		return fmt.Errorf("worker: resuming run %s: %w", runID, err)
	}
	run.Status = schema.RunRunning
	return m.cfg.Store.UpdateRun(ctx, &run)
}

// FetchLogs reads one page of a run's log with offset pagination.
func (m *Manager) FetchLogs(ctx context.Context, runID string, sinceLine, limit int) (LogPage, error) {
	run, err := m.cfg.Store.GetRun(ctx, runID)
	if err != nil {
		return LogPage{}, err
	}
	if run.LogPath == "" {
		return LogPage{Lines: []string{}, NextLine: sinceLine}, nil
	}
	return ReadLogPage(run.LogPath, sinceLine, limit)
}
