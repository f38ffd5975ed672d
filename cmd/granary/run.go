// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/granary-project/granary/cmd/granary/cli"
	"github.com/granary-project/granary/lib/ipc"
)

func runCommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Summary: "Inspect and control worker runs",
		Subcommands: []*cli.Command{
			runListCommand(),
			runShowCommand(),
			runStopCommand(),
			runPauseCommand(),
			runResumeCommand(),
			runLogsCommand(),
		},
	}
}

func runListCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
		Worker string `flag:"worker,w" desc:"limit to one worker"`
		Limit  int    `flag:"limit,n" desc:"maximum runs to return" default:"50"`
	}
	return &cli.Command{
		Name:    "list",
		Summary: "List runs, newest first",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(_ []string) error {
			client, err := daemonClient()
			if err != nil {
				return err
			}
			resp, err := client.Do(&ipc.Request{
				Action:   ipc.ActionListRuns,
				WorkerID: params.Worker,
				Limit:    params.Limit,
			})
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(resp.Runs); done {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tWORKER\tSTATUS\tATTEMPT\tEVENT\tUPDATED")
			for _, run := range resp.Runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%s\n",
					run.ID, run.WorkerID, run.Status,
					run.Attempt, run.MaxAttempts, run.EventID,
					run.UpdatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
}

func runShowCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "show",
		Summary: "Show one run",
		Usage:   "granary run show <run-id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the run id")
			}
			client, err := daemonClient()
			if err != nil {
				return err
			}
			resp, err := client.Do(&ipc.Request{Action: ipc.ActionGetRun, RunID: args[0]})
			if err != nil {
				return err
			}
			run := resp.Run

			if done, err := params.EmitJSON(run); done {
				return err
			}
			fmt.Printf("id:       %s\n", run.ID)
			fmt.Printf("worker:   %s\n", run.WorkerID)
			fmt.Printf("event:    %d\n", run.EventID)
			fmt.Printf("status:   %s\n", run.Status)
			fmt.Printf("attempt:  %d/%d\n", run.Attempt, run.MaxAttempts)
			if run.PID != nil {
				fmt.Printf("pid:      %d\n", *run.PID)
			}
			if run.ExitCode != nil {
				fmt.Printf("exit:     %d\n", *run.ExitCode)
			}
			if run.Error != "" {
				fmt.Printf("error:    %s\n", run.Error)
			}
			if run.NextRetryAt != nil {
				fmt.Printf("retry at: %s\n", run.NextRetryAt.Format("2006-01-02 15:04:05"))
			}
			if run.LogPath != "" {
				fmt.Printf("log:      %s\n", run.LogPath)
			}
			fmt.Printf("created:  %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("updated:  %s\n", run.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

// runControlCommand builds the shared shape of stop/pause/resume.
func runControlCommand(name, summary string, extraFlags func() *pflag.FlagSet, request func(runID string) *ipc.Request) *cli.Command {
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Usage:   fmt.Sprintf("granary run %s <run-id>", name),
		Flags:   extraFlags,
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the run id")
			}
			client, err := daemonClient()
			if err != nil {
				return err
			}
			resp, err := client.Do(request(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("run %s is %s\n", resp.Run.ID, resp.Run.Status)
			return nil
		},
	}
}

func runStopCommand() *cli.Command {
	var params struct {
		Reason string `flag:"reason" desc:"cancellation reason recorded on the run"`
	}
	return runControlCommand("stop", "Cancel a run, killing its process group",
		func() *pflag.FlagSet {
			return cli.FlagsFromParams("stop", &params)
		},
		func(runID string) *ipc.Request {
			return &ipc.Request{Action: ipc.ActionStopRun, RunID: runID, Reason: params.Reason}
		})
}

func runPauseCommand() *cli.Command {
	return runControlCommand("pause", "Pause a running run (SIGSTOP)", nil,
		func(runID string) *ipc.Request {
			return &ipc.Request{Action: ipc.ActionPauseRun, RunID: runID}
		})
}

func runResumeCommand() *cli.Command {
	return runControlCommand("resume", "Resume a paused run (SIGCONT)", nil,
		func(runID string) *ipc.Request {
			return &ipc.Request{Action: ipc.ActionResumeRun, RunID: runID}
		})
}

func runLogsCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
		Since int `flag:"since-line" desc:"first line to return (0-based)"`
		Limit int `flag:"limit,n" desc:"maximum lines per page"`
	}
	return &cli.Command{
		Name:    "logs",
		Summary: "Fetch a run's log output",
		Usage:   "granary run logs <run-id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("logs", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the run id")
			}
			client, err := daemonClient()
			if err != nil {
				return err
			}
			resp, err := client.Do(&ipc.Request{
				Action:    ipc.ActionFetchLogs,
				RunID:     args[0],
				SinceLine: params.Since,
				Limit:     params.Limit,
			})
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(resp.Logs); done {
				return err
			}
			for _, line := range resp.Logs.Lines {
				fmt.Println(line)
			}
			if resp.Logs.HasMore {
				fmt.Fprintf(os.Stderr, "... more output; continue with --since-line %d\n", resp.Logs.NextLine)
			}
			return nil
		},
	}
}
