// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import "testing"

func TestRootTreeHasUniqueCommandNames(t *testing.T) {
	root := Root()
	seen := make(map[string]bool)
	for _, sub := range root.Subcommands {
		if sub.Name == "" {
			t.Error("subcommand with empty name")
		}
		if seen[sub.Name] {
			t.Errorf("duplicate top-level command %q", sub.Name)
		}
		seen[sub.Name] = true
		if sub.Run == nil && len(sub.Subcommands) == 0 {
			t.Errorf("command %q has neither Run nor subcommands", sub.Name)
		}
	}
	for _, want := range []string{"project", "task", "event", "worker", "run", "ping", "version"} {
		if !seen[want] {
			t.Errorf("missing top-level command %q", want)
		}
	}
}
