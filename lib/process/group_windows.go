// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

//go:build windows

package process

import (
	"fmt"
	"os"
	"syscall"
)

// GroupAttr returns the SysProcAttr that places the child in its own
// process group. On Windows this creates a new process group so
// console control events do not propagate from the daemon.
func GroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Terminate forcibly ends the process. Windows has no SIGTERM
// equivalent that a process tree reliably observes, so Terminate
// behaves like Kill.
func Terminate(pid int) error {
	return Kill(pid)
}

// Kill forcibly ends the process. Descendants that detached from the
// job are not tracked — best-effort, as documented in the package
// comment.
func Kill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process: finding pid %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("process: killing pid %d: %w", pid, err)
	}
	return nil
}

// Pause is unsupported on Windows: there is no process-group
// stop/continue semantic to build on.
func Pause(pid int) error {
	return fmt.Errorf("process: pause is not supported on windows")
}

// Resume is unsupported on Windows, matching Pause.
func Resume(pid int) error {
	return fmt.Errorf("process: resume is not supported on windows")
}
