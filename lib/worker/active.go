// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"os"
	"sync/atomic"

	"github.com/granary-project/granary/lib/schema"
)

// runResult is what a run's execution goroutine reports when the
// child (or the last pipeline step) has been reaped.
type runResult struct {
	exitCode int
	err      error
}

// activeRun tracks one in-flight run. The runtime loop owns the run
// record; the execution goroutine only touches pid and done.
type activeRun struct {
	run *schema.Run

	// pid is the process-group leader of the currently running child.
	// For pipelines it changes per step.
	pid atomic.Int64

	// pidCh carries pid changes from the execution goroutine to the
	// runtime loop, which mirrors them into the run record.
	pidCh chan int

	// cancel aborts the execution context, killing the current child's
	// process group.
	cancel context.CancelFunc

	// done receives exactly one result when execution finishes.
	done chan runResult

	log *os.File
}

func newActiveRun(run *schema.Run, cancel context.CancelFunc, log *os.File) *activeRun {
	return &activeRun{
		run:    run,
		pidCh:  make(chan int, 4),
		cancel: cancel,
		done:   make(chan runResult, 1),
		log:    log,
	}
}

// notePID records a freshly started child. Called from the execution
// goroutine; never blocks the pipeline on a slow runtime loop.
func (a *activeRun) notePID(pid int) {
	a.pid.Store(int64(pid))
	select {
	case a.pidCh <- pid:
	default:
	}
}

// latestPID drains pending pid updates and returns the newest, or 0.
func (a *activeRun) latestPID() int {
	pid := 0
	for {
		select {
		case p := <-a.pidCh:
			pid = p
		default:
			return pid
		}
	}
}

// poll reports the result if execution has finished.
func (a *activeRun) poll() (runResult, bool) {
	select {
	case res := <-a.done:
		return res, true
	default:
		return runResult{}, false
	}
}

// kill cancels the execution context, which kills the current child's
// process group and aborts any remaining pipeline steps.
func (a *activeRun) kill() {
	a.cancel()
}

// close releases the run's log file handle.
func (a *activeRun) close() {
	if a.log != nil {
		a.log.Close()
	}
}
