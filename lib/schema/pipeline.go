// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// OnErrorPolicy controls what a pipeline does when a step exits
// non-zero.
type OnErrorPolicy string

const (
	// OnErrorStop aborts the whole run immediately. This is the
	// default when a step declares no policy.
	OnErrorStop OnErrorPolicy = "stop"

	// OnErrorContinue logs the failure and proceeds to the next step.
	// The failed step's stdout and exit code remain addressable via
	// {prev.*} and {steps.<name>.*}.
	OnErrorContinue OnErrorPolicy = "continue"
)

// PipelineStep is one step of a worker's pipeline as declared in
// configuration. A step either names a reusable action or declares an
// inline command; step-level fields override the action's.
type PipelineStep struct {
	// Name labels the step so later steps can address its output as
	// {steps.<name>.stdout}. Unnamed steps are assigned "step_<n>"
	// (1-based) during resolution.
	Name string `json:"name,omitempty" cbor:"name,omitempty"`

	// Action names a reusable action definition to base this step on.
	Action string `json:"action,omitempty" cbor:"action,omitempty"`

	// Command and Args override (or, without Action, define) the
	// executable. Both may contain {placeholder} templates.
	Command string   `json:"command,omitempty" cbor:"command,omitempty"`
	Args    []string `json:"args,omitempty" cbor:"args,omitempty"`

	// Env is the step-level environment layer. Merge precedence is
	// pipeline < action < step.
	Env map[string]string `json:"env,omitempty" cbor:"env,omitempty"`

	// Cwd overrides the working directory for this step. Templated.
	// Empty means the worker's WorkDir.
	Cwd string `json:"cwd,omitempty" cbor:"cwd,omitempty"`

	// OnError selects the failure policy. Empty means stop.
	OnError OnErrorPolicy `json:"on_error,omitempty" cbor:"on_error,omitempty"`
}

// Action is a reusable named command definition looked up by pipeline
// steps. Actions live in an external definitions file, not in the
// database.
type Action struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// StepOutput is the captured result of one executed pipeline step,
// recorded in the run-scoped pipeline context under the step's name
// and the "prev" alias.
type StepOutput struct {
	Stdout   string
	ExitCode int
}
