// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestBindFlagsAllTypes(t *testing.T) {
	var params struct {
		Name     string        `flag:"name" desc:"a string"`
		Verbose  bool          `flag:"verbose,v" desc:"a bool"`
		Limit    int           `flag:"limit" default:"50"`
		After    int64         `flag:"after"`
		Grace    time.Duration `flag:"grace" default:"10s"`
		Labels   []string      `flag:"label"`
		Untagged string
	}

	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&params, flagSet); err != nil {
		t.Fatalf("binding: %v", err)
	}

	args := []string{
		"--name", "ci",
		"-v",
		"--after", "99",
		"--label", "a", "--label", "b",
	}
	if err := flagSet.Parse(args); err != nil {
		t.Fatalf("parsing: %v", err)
	}

	if params.Name != "ci" {
		t.Errorf("Name = %q", params.Name)
	}
	if !params.Verbose {
		t.Error("Verbose not set by shorthand")
	}
	if params.Limit != 50 {
		t.Errorf("Limit default = %d, want 50", params.Limit)
	}
	if params.After != 99 {
		t.Errorf("After = %d", params.After)
	}
	if params.Grace != 10*time.Second {
		t.Errorf("Grace default = %v", params.Grace)
	}
	if len(params.Labels) != 2 || params.Labels[0] != "a" || params.Labels[1] != "b" {
		t.Errorf("Labels = %v", params.Labels)
	}
	if flagSet.Lookup("Untagged") != nil || flagSet.Lookup("untagged") != nil {
		t.Error("untagged field was bound")
	}
}

func TestBindFlagsEmbeddedStruct(t *testing.T) {
	var params struct {
		JSONOutput
		Limit int `flag:"limit"`
	}

	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&params, flagSet); err != nil {
		t.Fatalf("binding: %v", err)
	}
	if err := flagSet.Parse([]string{"--json", "--limit", "3"}); err != nil {
		t.Fatalf("parsing: %v", err)
	}
	if !params.OutputJSON {
		t.Error("embedded --json flag not bound")
	}
	if params.Limit != 3 {
		t.Errorf("Limit = %d", params.Limit)
	}
}

func TestBindFlagsRejectsNonPointer(t *testing.T) {
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(struct{}{}, flagSet); err == nil {
		t.Fatal("expected an error for a non-pointer")
	}
}

func TestBindFlagsRejectsUnsupportedType(t *testing.T) {
	var params struct {
		Bad map[string]int `flag:"bad"`
	}
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&params, flagSet); err == nil {
		t.Fatal("expected an error for an unsupported field type")
	}
}

func TestBindFlagsRejectsBadDefault(t *testing.T) {
	var params struct {
		Limit int `flag:"limit" default:"many"`
	}
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	if err := BindFlags(&params, flagSet); err == nil {
		t.Fatal("expected an error for an unparseable default")
	}
}

func TestEditDistance(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"worker", "worker", 0},
		{"wroker", "worker", 2},
		{"lst", "list", 1},
		{"abc", "xyz", 3},
		{"", "run", 3},
	}
	for _, c := range cases {
		if got := editDistance(c.a, c.b); got != c.want {
			t.Errorf("editDistance(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
