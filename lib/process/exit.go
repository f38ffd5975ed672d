// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Fatal writes "error: err" to stderr and exits with code 1. The
// standard Granary binary entrypoint error handler, for errors from
// run() before the structured logger exists.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// ExitCode extracts the child's exit code from an exec.Cmd Wait error.
// Returns (0, nil) for a nil error, (code, nil) for a normal non-zero
// exit, and (-1, err) for everything else — the child was signalled,
// never started, or the wait itself failed.
func ExitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitError *exec.ExitError
	if errors.As(err, &exitError) && exitError.ExitCode() >= 0 {
		return exitError.ExitCode(), nil
	}
	return -1, err
}
