// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package actions loads the reusable action definitions that pipeline
// steps reference by name. Actions live in a JSONC file (comments and
// trailing commas allowed) outside the database, so operators can
// version-control them alongside worker configuration:
//
//	{
//	  // Post a summary comment via the tracker CLI.
//	  "comment": {
//	    "command": "granary",
//	    "args": ["task", "comment", "{event.entity_id}", "{prev.stdout}"],
//	  },
//	}
package actions

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/granary-project/granary/lib/schema"
)

// Set is a loaded collection of named actions. Immutable after Load.
type Set struct {
	byName map[string]schema.Action
}

// Load reads and parses an actions file. An empty path returns an
// empty set — workers that use only inline commands need no actions
// file.
func Load(path string) (*Set, error) {
	if path == "" {
		return &Set{byName: map[string]schema.Action{}}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("actions: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses JSONC action definitions. Every action must declare a
// command; names must be non-empty.
func Parse(data []byte) (*Set, error) {
	byName := make(map[string]schema.Action)
	if err := json.Unmarshal(jsonc.ToJSON(data), &byName); err != nil {
		return nil, fmt.Errorf("actions: parsing definitions: %w", err)
	}

	for name, action := range byName {
		if name == "" {
			return nil, fmt.Errorf("actions: empty action name")
		}
		if action.Command == "" {
			return nil, fmt.Errorf("actions: action %q has no command", name)
		}
	}

	return &Set{byName: byName}, nil
}

// Lookup returns the action registered under name.
func (s *Set) Lookup(name string) (schema.Action, bool) {
	action, ok := s.byName[name]
	return action, ok
}

// Names returns the number of loaded actions. For startup logging.
func (s *Set) Len() int { return len(s.byName) }
