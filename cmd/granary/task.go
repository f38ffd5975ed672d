// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/granary-project/granary/cmd/granary/cli"
	"github.com/granary-project/granary/lib/schema"
)

func taskCommand() *cli.Command {
	return &cli.Command{
		Name:    "task",
		Summary: "Manage tracker tasks",
		Subcommands: []*cli.Command{
			taskCreateCommand(),
			taskListCommand(),
			taskShowCommand(),
			taskStatusCommand(),
		},
	}
}

func taskCreateCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
		Description string `flag:"description,d" desc:"task description"`
		Session     string `flag:"session" desc:"agent session id to tie the task to"`
	}
	return &cli.Command{
		Name:    "create",
		Summary: "Create a task in a project",
		Usage:   "granary task create <project-id> <title> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("expected two arguments: project id and title")
			}

			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			task := schema.Task{
				ID:          uuid.NewString(),
				ProjectID:   args[0],
				Title:       args[1],
				Description: params.Description,
				SessionID:   params.Session,
			}
			if err := st.CreateTask(context.Background(), &task); err != nil {
				return err
			}

			if done, err := params.EmitJSON(task); done {
				return err
			}
			fmt.Printf("created task %s (%s)\n", task.Title, task.ID)
			return nil
		},
	}
}

func taskListCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
		Project string `flag:"project,p" desc:"limit to one project"`
	}
	return &cli.Command{
		Name:    "list",
		Summary: "List tasks",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(_ []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			tasks, err := st.ListTasks(context.Background(), params.Project)
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(tasks); done {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tTITLE\tUPDATED")
			for _, task := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					task.ID, task.Status, task.Title,
					task.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func taskShowCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "show",
		Summary: "Show one task",
		Usage:   "granary task show <task-id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the task id")
			}

			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			task, err := st.GetTask(context.Background(), args[0])
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(task); done {
				return err
			}
			fmt.Printf("id:          %s\n", task.ID)
			fmt.Printf("project:     %s\n", task.ProjectID)
			fmt.Printf("title:       %s\n", task.Title)
			fmt.Printf("status:      %s\n", task.Status)
			if task.Description != "" {
				fmt.Printf("description: %s\n", task.Description)
			}
			if task.SessionID != "" {
				fmt.Printf("session:     %s\n", task.SessionID)
			}
			fmt.Printf("created:     %s\n", task.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("updated:     %s\n", task.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func taskStatusCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
		Actor string `flag:"actor" desc:"who is making the change" default:"operator"`
	}
	return &cli.Command{
		Name:    "status",
		Summary: "Change a task's status",
		Usage:   "granary task status <task-id> <todo|in_progress|done> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return fmt.Errorf("expected two arguments: task id and status")
			}

			status := schema.TaskStatus(args[1])
			switch status {
			case schema.TaskTodo, schema.TaskInProgress, schema.TaskDone:
			default:
				return fmt.Errorf("unknown status %q (want todo, in_progress, or done)", args[1])
			}

			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			if err := st.UpdateTaskStatus(ctx, args[0], status, params.Actor); err != nil {
				return err
			}

			task, err := st.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			if done, err := params.EmitJSON(task); done {
				return err
			}
			fmt.Printf("task %s is now %s\n", task.ID, task.Status)
			return nil
		},
	}
}
