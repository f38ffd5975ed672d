// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the granary CLI: a small
// command tree with pflag flag parsing, struct-tag flag binding,
// help output, and typo suggestions for unknown commands and flags.
//
// Each subcommand declares a params struct whose tagged fields become
// flags, and a Run function. Commands are assembled into a tree in
// cmd/granary/root.go and dispatched from main.
package cli
