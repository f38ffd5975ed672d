// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the CLI command tree. Leaf commands carry a
// Run function; group commands carry Subcommands and dispatch on the
// first positional argument.
type Command struct {
	// Name is what the user types to select this command.
	Name string

	// Summary is the one-liner shown in the parent's command listing.
	Summary string

	// Description is the longer text shown at the top of this
	// command's own help.
	Description string

	// Usage overrides the synthesized usage line when set.
	Usage string

	// Examples are appended to the help output.
	Examples []Example

	// Flags builds the command's flag set. Invoked lazily; nil means
	// the command takes no flags.
	Flags func() *pflag.FlagSet

	// Subcommands, when non-empty, makes this a group command.
	Subcommands []*Command

	// Run receives the positional arguments left after flag parsing.
	Run func(args []string) error

	// parent links back up the tree; set during dispatch so help can
	// print the full command path.
	parent *Command
}

// Example is one help-output usage example.
type Example struct {
	Description string
	Command     string
}

// Execute resolves args against the command tree and runs the selected
// leaf. Help requests short-circuit at any level.
func (c *Command) Execute(args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(os.Stderr)
		return nil
	}

	if child := c.match(args); child != nil {
		child.parent = c
		return child.Execute(args[1:])
	}

	if len(c.Subcommands) > 0 {
		if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
			return c.unknownCommand(args[0])
		}
		if c.Run == nil {
			c.PrintHelp(os.Stderr)
			if len(args) == 0 {
				return fmt.Errorf("subcommand required")
			}
			if isHelpFlag(args[0]) {
				return nil
			}
			return fmt.Errorf("subcommand required (got flag %q)", args[0])
		}
	}

	return c.parseAndRun(args)
}

// match returns the subcommand selected by args[0], or nil.
func (c *Command) match(args []string) *Command {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return nil
	}
	for _, sub := range c.Subcommands {
		if sub.Name == args[0] {
			return sub
		}
	}
	return nil
}

// unknownCommand formats the unknown-subcommand error, with a typo
// suggestion when a defined name is close.
func (c *Command) unknownCommand(name string) error {
	if suggestion := suggestCommand(name, c.Subcommands); suggestion != "" {
		return fmt.Errorf("unknown command %q (did you mean %q?)\n\nRun '%s --help' for usage.",
			name, suggestion, c.fullName())
	}
	return fmt.Errorf("unknown command %q\n\nRun '%s --help' for usage.", name, c.fullName())
}

// parseAndRun parses the command's flags out of args and invokes Run
// with whatever positional arguments remain.
func (c *Command) parseAndRun(args []string) error {
	if c.Flags != nil {
		flagSet := c.Flags()

		// pflag prints its own error plus a usage dump by default;
		// silence that and build a single error with a suggestion.
		flagSet.SetOutput(io.Discard)

		if err := flagSet.Parse(args); err != nil {
			if strings.Contains(err.Error(), "unknown flag") {
				// The failed parse may have half-consumed the flag
				// set, so rebuild it before the suggestion lookup.
				if suggestion := suggestFlag(args, c.Flags()); suggestion != "" {
					return fmt.Errorf("%s (did you mean %s?)\n\nRun '%s --help' for usage.",
						err, suggestion, c.fullName())
				}
			}
			return fmt.Errorf("%s\n\nRun '%s --help' for usage.", err, c.fullName())
		}
		args = flagSet.Args()
	}

	if c.Run == nil {
		c.PrintHelp(os.Stderr)
		return fmt.Errorf("no action defined for %q", c.fullName())
	}
	return c.Run(args)
}

// PrintHelp writes the command's help text to w.
func (c *Command) PrintHelp(w io.Writer) {
	path := c.fullName()

	if text := c.Description; text != "" {
		fmt.Fprintf(w, "%s\n\n", text)
	} else if c.Summary != "" {
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	usage := c.Usage
	if usage == "" {
		usage = path + " [flags]"
		if len(c.Subcommands) > 0 {
			usage = path + " <command> [flags]"
		}
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", usage)

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		tw.Flush()
	}

	if c.Flags != nil {
		var defaults strings.Builder
		flagSet := c.Flags()
		flagSet.SetOutput(&defaults)
		flagSet.PrintDefaults()
		if defaults.Len() > 0 {
			fmt.Fprintf(w, "\nFlags:\n%s", defaults.String())
		}
	}

	if len(c.Examples) > 0 {
		fmt.Fprintf(w, "\nExamples:\n")
		for _, example := range c.Examples {
			if example.Description != "" {
				fmt.Fprintf(w, "  # %s\n", example.Description)
			}
			fmt.Fprintf(w, "  %s\n", example.Command)
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nRun '%s <command> --help' for more information on a command.\n", path)
	}
}

// fullName is the space-joined path from the root to this command.
func (c *Command) fullName() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.fullName() + " " + c.Name
}

func isHelpFlag(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	}
	return false
}
