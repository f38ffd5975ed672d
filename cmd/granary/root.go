// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/granary-project/granary/cmd/granary/cli"
	"github.com/granary-project/granary/lib/ipc"
	"github.com/granary-project/granary/lib/version"
)

// Root builds the complete granary CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "granary",
		Description: `Granary: local-first project tracker with event-driven workers.

Track projects and tasks in a shared SQLite store, and run standing
workers that execute commands or pipelines whenever matching tracker
events are appended.`,
		Subcommands: []*cli.Command{
			projectCommand(),
			taskCommand(),
			eventCommand(),
			workerCommand(),
			runCommand(),
			pingCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ []string) error {
					fmt.Printf("granary %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Create a project and a task in it",
				Command:     "granary project create backend && granary task create <project-id> 'fix poller'",
			},
			{
				Description: "Define a worker that runs the test suite on every completed task",
				Command:     "granary worker create ci --event-type task.updated --filter status=done --command ./run-tests.sh",
			},
			{
				Description: "Start the worker under the daemon",
				Command:     "granary worker start ci",
			},
			{
				Description: "Watch a run's output",
				Command:     "granary run logs <run-id>",
			},
		},
	}
}

// pingCommand checks that the daemon is up and its store is healthy.
func pingCommand() *cli.Command {
	return &cli.Command{
		Name:    "ping",
		Summary: "Check daemon connectivity",
		Run: func(_ []string) error {
			client, err := daemonClient()
			if err != nil {
				return err
			}
			if _, err := client.Do(&ipc.Request{Action: ipc.ActionPing}); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}
