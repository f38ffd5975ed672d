// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package actions

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseJSONCWithCommentsAndTrailingCommas(t *testing.T) {
	set, err := Parse([]byte(`{
		// Notify the operator.
		"notify": {
			"command": "notify-send",
			"args": ["granary", "{title}"],
			"env": {"DISPLAY": ":0"},
		},
		"lint": {"command": "golangci-lint", "args": ["run"]},
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if set.Len() != 2 {
		t.Fatalf("Len = %d, want 2", set.Len())
	}

	notify, ok := set.Lookup("notify")
	if !ok {
		t.Fatal("Lookup(notify) missed")
	}
	if notify.Command != "notify-send" || len(notify.Args) != 2 || notify.Env["DISPLAY"] != ":0" {
		t.Fatalf("notify = %+v", notify)
	}

	if _, ok := set.Lookup("deploy"); ok {
		t.Fatal("Lookup(deploy) should miss")
	}
}

func TestParseRejectsActionWithoutCommand(t *testing.T) {
	if _, err := Parse([]byte(`{"broken": {"args": ["x"]}}`)); err == nil {
		t.Fatal("Parse should reject an action with no command")
	}
}

func TestLoadEmptyPathReturnsEmptySet(t *testing.T) {
	set, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if set.Len() != 0 {
		t.Fatalf("Len = %d, want 0", set.Len())
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "actions.jsonc")
	if err := os.WriteFile(path, []byte(`{"echo": {"command": "echo"}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := set.Lookup("echo"); !ok {
		t.Fatal("Lookup(echo) missed")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.jsonc")); err == nil {
		t.Fatal("Load of a missing file should fail")
	}
}
