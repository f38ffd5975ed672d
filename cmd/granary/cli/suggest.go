// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"strings"

	"github.com/spf13/pflag"
)

// maxSuggestDistance is the largest edit distance still offered as a
// "did you mean" suggestion. Three covers the usual typos.
const maxSuggestDistance = 3

// suggestCommand picks the defined subcommand name closest to the
// unknown input, or "" when none is within range.
func suggestCommand(unknown string, commands []*Command) string {
	names := make([]string, len(commands))
	for i, command := range commands {
		names[i] = command.Name
	}
	return closest(unknown, names)
}

// suggestFlag scans args for the first flag that is not defined in
// flagSet and returns the closest defined name, prefixed with - or --
// as appropriate. Returns "" when nothing is close.
func suggestFlag(args []string, flagSet *pflag.FlagSet) string {
	var defined []string
	flagSet.VisitAll(func(f *pflag.Flag) {
		defined = append(defined, f.Name)
	})

	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name := strings.TrimLeft(arg, "-")
		name, _, _ = strings.Cut(name, "=")
		if flagSet.Lookup(name) != nil {
			continue
		}

		match := closest(name, defined)
		if match == "" {
			return ""
		}
		if len(match) == 1 {
			return "-" + match
		}
		return "--" + match
	}
	return ""
}

// closest returns the candidate with the smallest edit distance to
// input, or "" if every candidate is farther than maxSuggestDistance.
func closest(input string, candidates []string) string {
	best := ""
	bestDistance := maxSuggestDistance + 1
	for _, candidate := range candidates {
		if d := editDistance(input, candidate); d < bestDistance {
			bestDistance = d
			best = candidate
		}
	}
	return best
}

// editDistance is the Levenshtein distance between a and b, computed
// with two reusable rows.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 || len(b) == 0 {
		return len(a) + len(b)
	}

	row := make([]int, len(b)+1)
	next := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(a); i++ {
		next[0] = i
		for j := 1; j <= len(b); j++ {
			substitute := row[j-1]
			if a[i-1] != b[j-1] {
				substitute++
			}
			next[j] = min(substitute, min(row[j]+1, next[j-1]+1))
		}
		row, next = next, row
	}
	return row[len(b)]
}
