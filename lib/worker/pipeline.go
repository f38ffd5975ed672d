// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/granary-project/granary/lib/process"
	"github.com/granary-project/granary/lib/schema"
	"github.com/granary-project/granary/lib/template"
)

// startChild spawns a command as the leader of a fresh process group,
// so a later kill reaches the whole subtree.
func startChild(command string, args []string, dir string, env []string, stdout, stderr io.Writer) (*exec.Cmd, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.SysProcAttr = process.GroupAttr()
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// awaitChild waits for the child to exit, or kills its process group
// when ctx is cancelled first. Returns the exit code; a cancellation
// surfaces as the context's error.
func awaitChild(ctx context.Context, cmd *exec.Cmd) (int, error) {
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		// Kill is a no-op if the group already exited; the wait below
		// reaps it either way.
		_ = process.Kill(cmd.Process.Pid)
		<-waitCh
		return -1, ctx.Err()
	case err := <-waitCh:
		return process.ExitCode(err)
	}
}

// lockedWriter serializes writes to a shared writer. exec copies a
// child's stdout and stderr on separate goroutines when the sink is
// not an *os.File, so both streams of a step land on the run log
// concurrently.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// pipelineJob executes one run's resolved steps strictly in order.
type pipelineJob struct {
	steps   []schema.PipelineStep
	event   *schema.Event
	workDir string

	// baseEnv is the full child environment before the per-step layer:
	// parent env, worker env, and the run identity variables.
	baseEnv []string

	log io.Writer

	// reportPID, when set, receives the pid of each child as it starts
	// so pause/resume/stop can reach the currently running step.
	reportPID func(pid int)
}

// execute runs the steps, threading each step's {stdout, exit_code}
// into the pipeline context under its name and the "prev" alias.
// Returns the exit code of the last step executed. A non-zero exit
// under the stop policy aborts with an error naming the step; under
// continue the failure stays addressable to later steps and the
// pipeline proceeds. An empty step list succeeds trivially.
func (j *pipelineJob) execute(ctx context.Context) (int, error) {
	pctx := template.PipelineContext{}
	lastExit := 0
	log := &lockedWriter{w: j.log}

	for _, step := range j.steps {
		if err := ctx.Err(); err != nil {
			return -1, err
		}

		command := template.Resolve(step.Command, j.event, pctx)
		args := template.ResolveAll(step.Args, j.event, pctx)
		dir := j.workDir
		if step.Cwd != "" {
			dir = template.Resolve(step.Cwd, j.event, pctx)
		}
		env := j.baseEnv
		for k, v := range step.Env {
			env = append(env, k+"="+template.Resolve(v, j.event, pctx))
		}

		fmt.Fprintf(log, "=== step %s: %s ===\n", step.Name, command)

		var stdout bytes.Buffer
		cmd, err := startChild(command, args, dir, env, io.MultiWriter(log, &stdout), log)
		if err != nil {
			fmt.Fprintf(log, "=== step %s failed to start: %v ===\n", step.Name, err)
			return -1, fmt.Errorf("worker: step %q: starting %q: %w", step.Name, command, err)
		}
		if j.reportPID != nil {
			j.reportPID(cmd.Process.Pid)
		}

		code, err := awaitChild(ctx, cmd)
		if ctx.Err() != nil {
			fmt.Fprintf(log, "=== step %s cancelled ===\n", step.Name)
			return -1, ctx.Err()
		}
		if err != nil {
			fmt.Fprintf(log, "=== step %s failed: %v ===\n", step.Name, err)
			return -1, fmt.Errorf("worker: step %q: %w", step.Name, err)
		}

		fmt.Fprintf(log, "=== step %s exited %d ===\n", step.Name, code)

		out := schema.StepOutput{Stdout: stdout.String(), ExitCode: code}
		pctx[step.Name] = out
		pctx["prev"] = out

		if code != 0 && step.OnError != schema.OnErrorContinue {
			return code, fmt.Errorf("worker: step %q exited with code %d", step.Name, code)
		}
		lastExit = code
	}
	return lastExit, nil
}
