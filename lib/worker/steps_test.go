// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"errors"
	"testing"

	"github.com/granary-project/granary/lib/actions"
	"github.com/granary-project/granary/lib/schema"
)

func testActionSet(t *testing.T) *actions.Set {
	t.Helper()
	set, err := actions.Parse([]byte(`{
		"lint": {
			"command": "golangci-lint",
			"args": ["run"],
			"env": {"CACHE": "/tmp/lint", "SHARED": "action"}
		}
	}`))
	if err != nil {
		t.Fatalf("parsing actions: %v", err)
	}
	return set
}

func TestResolveStepsActionLookup(t *testing.T) {
	w := &schema.Worker{
		Env: map[string]string{"SHARED": "pipeline", "PIPE": "p"},
		Steps: []schema.PipelineStep{
			{Action: "lint", Env: map[string]string{"SHARED": "step"}},
		},
	}

	steps, err := ResolveSteps(w, testActionSet(t))
	if err != nil {
		t.Fatalf("resolving steps: %v", err)
	}
	step := steps[0]
	if step.Command != "golangci-lint" {
		t.Fatalf("command = %q, want golangci-lint", step.Command)
	}
	if len(step.Args) != 1 || step.Args[0] != "run" {
		t.Fatalf("args = %v, want [run]", step.Args)
	}
	// Merge precedence: pipeline < action < step.
	if step.Env["SHARED"] != "step" {
		t.Fatalf("SHARED = %q, want step", step.Env["SHARED"])
	}
	if step.Env["CACHE"] != "/tmp/lint" {
		t.Fatalf("CACHE = %q, want /tmp/lint", step.Env["CACHE"])
	}
	if step.Env["PIPE"] != "p" {
		t.Fatalf("PIPE = %q, want p", step.Env["PIPE"])
	}
}

func TestResolveStepsStepOverridesAction(t *testing.T) {
	w := &schema.Worker{
		Steps: []schema.PipelineStep{
			{Action: "lint", Command: "echo", Args: []string{"skipped"}},
		},
	}

	steps, err := ResolveSteps(w, testActionSet(t))
	if err != nil {
		t.Fatalf("resolving steps: %v", err)
	}
	if steps[0].Command != "echo" || steps[0].Args[0] != "skipped" {
		t.Fatalf("step-level command not honored: %+v", steps[0])
	}
}

func TestResolveStepsArgsInheritWithOwnCommand(t *testing.T) {
	w := &schema.Worker{
		Steps: []schema.PipelineStep{
			{Action: "lint", Command: "mylinter"},
		},
	}

	steps, err := ResolveSteps(w, testActionSet(t))
	if err != nil {
		t.Fatalf("resolving steps: %v", err)
	}
	if steps[0].Command != "mylinter" {
		t.Fatalf("command = %q, want mylinter", steps[0].Command)
	}
	if len(steps[0].Args) != 1 || steps[0].Args[0] != "run" {
		t.Fatalf("args = %v, want [run] from the action", steps[0].Args)
	}
}

func TestResolveStepsAutoNames(t *testing.T) {
	w := &schema.Worker{
		Steps: []schema.PipelineStep{
			{Command: "true"},
			{Name: "build", Command: "make"},
			{Command: "true"},
		},
	}

	steps, err := ResolveSteps(w, testActionSet(t))
	if err != nil {
		t.Fatalf("resolving steps: %v", err)
	}
	if steps[0].Name != "step_1" || steps[1].Name != "build" || steps[2].Name != "step_3" {
		t.Fatalf("names = %q, %q, %q", steps[0].Name, steps[1].Name, steps[2].Name)
	}
}

func TestResolveStepsConfigErrors(t *testing.T) {
	unknown := &schema.Worker{Steps: []schema.PipelineStep{{Action: "deploy"}}}
	if _, err := ResolveSteps(unknown, testActionSet(t)); !errors.Is(err, ErrConfig) {
		t.Fatalf("unknown action err = %v, want ErrConfig", err)
	}

	empty := &schema.Worker{Steps: []schema.PipelineStep{{Name: "noop"}}}
	if _, err := ResolveSteps(empty, testActionSet(t)); !errors.Is(err, ErrConfig) {
		t.Fatalf("empty step err = %v, want ErrConfig", err)
	}
}
