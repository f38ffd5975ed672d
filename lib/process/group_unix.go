// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package process

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// GroupAttr returns the SysProcAttr that makes the child the leader of
// a new process group. Set this on every exec.Cmd before Start so that
// group signals reach the child and everything it forks.
func GroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// Terminate sends SIGTERM to the process group led by pid.
func Terminate(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

// Kill sends SIGKILL to the process group led by pid. ESRCH (the
// group is already gone) is not an error — a dead child is what Kill
// wanted, and the reaper observes the exit independently.
func Kill(pid int) error {
	err := signalGroup(pid, unix.SIGKILL)
	if err != nil && errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// Pause sends SIGSTOP to the process group led by pid, suspending
// every process in it.
func Pause(pid int) error {
	return signalGroup(pid, unix.SIGSTOP)
}

// Resume sends SIGCONT to the process group led by pid.
func Resume(pid int) error {
	return signalGroup(pid, unix.SIGCONT)
}

// signalGroup delivers sig to the whole group (negative pid).
func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("process: invalid pid %d", pid)
	}
	if err := unix.Kill(-pid, sig); err != nil {
		return fmt.Errorf("process: signalling group %d with %s: %w", pid, sig, err)
	}
	return nil
}
