// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"errors"
	"fmt"

	"github.com/granary-project/granary/lib/actions"
	"github.com/granary-project/granary/lib/schema"
)

// ErrConfig marks a configuration error in a worker's pipeline
// definition. Config errors fail the run immediately with no retry:
// re-running cannot fix a step that names an unknown action.
var ErrConfig = errors.New("worker: configuration error")

// ResolveSteps expands a worker's raw pipeline steps against the
// reusable action set. Per field, most specific wins: a step's own
// command and args override the referenced action's; env layers merge
// pipeline < action < step. Unnamed steps get step_<1-based index> so
// later steps can address their output.
func ResolveSteps(w *schema.Worker, set *actions.Set) ([]schema.PipelineStep, error) {
	resolved := make([]schema.PipelineStep, 0, len(w.Steps))

	for i, step := range w.Steps {
		if step.Name == "" {
			step.Name = fmt.Sprintf("step_%d", i+1)
		}

		var actionEnv map[string]string
		if step.Action != "" {
			action, ok := set.Lookup(step.Action)
			if !ok {
				return nil, fmt.Errorf("%w: step %q references unknown action %q",
					ErrConfig, step.Name, step.Action)
			}
			// Command and args inherit independently: a step may swap
			// the binary while keeping the action's argument list.
			if step.Command == "" {
				step.Command = action.Command
			}
			if step.Args == nil {
				step.Args = action.Args
			}
			actionEnv = action.Env
		}

		if step.Command == "" {
			return nil, fmt.Errorf("%w: step %q has neither action nor command",
				ErrConfig, step.Name)
		}

		step.Env = mergeEnv(w.Env, actionEnv, step.Env)
		resolved = append(resolved, step)
	}
	return resolved, nil
}

// mergeEnv layers maps left to right, later layers overriding earlier.
func mergeEnv(layers ...map[string]string) map[string]string {
	merged := map[string]string{}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	if len(merged) == 0 {
		return nil
	}
	return merged
}
