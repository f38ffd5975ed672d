// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/granary-project/granary/lib/schema"
)

func TestParseFilterFlag(t *testing.T) {
	cases := []struct {
		raw  string
		want schema.Filter
	}{
		{"status=done", schema.Filter{Field: "status", Op: schema.OpEquals, Value: "done"}},
		{"status!=done", schema.Filter{Field: "status", Op: schema.OpNotEquals, Value: "done"}},
		{"title~urgent", schema.Filter{Field: "title", Op: schema.OpContains, Value: "urgent"}},
		{"labels.0.name=bug", schema.Filter{Field: "labels.0.name", Op: schema.OpEquals, Value: "bug"}},
		{"status=", schema.Filter{Field: "status", Op: schema.OpEquals, Value: ""}},
	}
	for _, c := range cases {
		got, err := parseFilterFlag(c.raw)
		if err != nil {
			t.Errorf("parseFilterFlag(%q): %v", c.raw, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseFilterFlag(%q) = %+v, want %+v", c.raw, got, c.want)
		}
	}

	if _, err := parseFilterFlag("no-separator"); err == nil {
		t.Error("expected an error for a filter without a separator")
	}
}

func TestParseEnvFlags(t *testing.T) {
	env, err := parseEnvFlags([]string{"CI=1", "PATH=/bin:/usr/bin"})
	if err != nil {
		t.Fatalf("parseEnvFlags: %v", err)
	}
	if env["CI"] != "1" || env["PATH"] != "/bin:/usr/bin" {
		t.Fatalf("env = %v", env)
	}

	if _, err := parseEnvFlags([]string{"NOEQUALS"}); err == nil {
		t.Error("expected an error for an entry without =")
	}
	if env, err := parseEnvFlags(nil); err != nil || env != nil {
		t.Errorf("empty input: env = %v, err = %v", env, err)
	}
}

func TestWorkerDefinitionFromYAML(t *testing.T) {
	const document = `
name: deploy pipeline
event_type: task.updated
filters:
  - field: status
    value: done
  - field: title
    op: contains
    value: deploy
concurrency: 2
max_attempts: 5
work_dir: /srv/app
env:
  DEPLOY_ENV: staging
steps:
  - name: build
    command: make
    args: [build]
  - name: ship
    action: deploy
    on_error: continue
`
	var defn workerDefinition
	if err := yaml.Unmarshal([]byte(document), &defn); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	worker := defn.toWorker("deploy")
	if err := worker.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if worker.ID != "deploy" || worker.Name != "deploy pipeline" {
		t.Errorf("identity = %q / %q", worker.ID, worker.Name)
	}
	if worker.EventType != "task.updated" || worker.Concurrency != 2 || worker.MaxAttempts != 5 {
		t.Errorf("scheduling fields = %+v", worker)
	}
	if len(worker.Filters) != 2 {
		t.Fatalf("filters = %+v", worker.Filters)
	}
	// Omitted op defaults to equals.
	if worker.Filters[0].Op != schema.OpEquals {
		t.Errorf("filter 0 op = %q", worker.Filters[0].Op)
	}
	if worker.Filters[1].Op != schema.OpContains {
		t.Errorf("filter 1 op = %q", worker.Filters[1].Op)
	}
	if !worker.IsPipeline() || len(worker.Steps) != 2 {
		t.Fatalf("steps = %+v", worker.Steps)
	}
	if worker.Steps[1].Action != "deploy" || worker.Steps[1].OnError != schema.OnErrorContinue {
		t.Errorf("step 1 = %+v", worker.Steps[1])
	}
	if worker.Env["DEPLOY_ENV"] != "staging" {
		t.Errorf("env = %v", worker.Env)
	}
}
