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

func projectCommand() *cli.Command {
	return &cli.Command{
		Name:    "project",
		Summary: "Manage tracker projects",
		Subcommands: []*cli.Command{
			projectCreateCommand(),
			projectListCommand(),
		},
	}
}

func projectCreateCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
		Description string `flag:"description,d" desc:"project description"`
	}
	return &cli.Command{
		Name:    "create",
		Summary: "Create a project",
		Usage:   "granary project create <name> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the project name")
			}

			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			project := schema.Project{
				ID:          uuid.NewString(),
				Name:        args[0],
				Description: params.Description,
			}
			if err := st.CreateProject(context.Background(), &project); err != nil {
				return err
			}

			if done, err := params.EmitJSON(project); done {
				return err
			}
			fmt.Printf("created project %s (%s)\n", project.Name, project.ID)
			return nil
		},
	}
}

func projectListCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "list",
		Summary: "List projects",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(_ []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			projects, err := st.ListProjects(context.Background())
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(projects); done {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCREATED\tDESCRIPTION")
			for _, project := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
					project.ID, project.Name,
					project.CreatedAt.Format("2006-01-02 15:04"),
					project.Description)
			}
			return tw.Flush()
		},
	}
}
