// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/granary-project/granary/cmd/granary/cli"
	"github.com/granary-project/granary/lib/ipc"
	"github.com/granary-project/granary/lib/schema"
)

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:    "worker",
		Summary: "Manage event-driven workers",
		Subcommands: []*cli.Command{
			workerCreateCommand(),
			workerListCommand(),
			workerShowCommand(),
			workerStartCommand(),
			workerStopCommand(),
			workerDeleteCommand(),
			workerPruneCommand(),
		},
	}
}

// workerDefinition is the YAML shape accepted by --file. Pipelines can
// only be defined this way; the inline flags cover single-command
// workers.
type workerDefinition struct {
	Name        string            `yaml:"name"`
	EventType   string            `yaml:"event_type"`
	Filters     []filterDef       `yaml:"filters"`
	Concurrency int               `yaml:"concurrency"`
	MaxAttempts int               `yaml:"max_attempts"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Steps       []stepDef         `yaml:"steps"`
	Env         map[string]string `yaml:"env"`
	WorkDir     string            `yaml:"work_dir"`
}

type filterDef struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value string `yaml:"value"`
}

type stepDef struct {
	Name    string            `yaml:"name"`
	Action  string            `yaml:"action"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	Cwd     string            `yaml:"cwd"`
	OnError string            `yaml:"on_error"`
}

func (d *workerDefinition) toWorker(id string) *schema.Worker {
	worker := &schema.Worker{
		ID:          id,
		Name:        d.Name,
		EventType:   d.EventType,
		Concurrency: d.Concurrency,
		MaxAttempts: d.MaxAttempts,
		Command:     d.Command,
		Args:        d.Args,
		Env:         d.Env,
		WorkDir:     d.WorkDir,
	}
	for _, f := range d.Filters {
		op := schema.FilterOp(f.Op)
		if f.Op == "" {
			op = schema.OpEquals
		}
		worker.Filters = append(worker.Filters, schema.Filter{
			Field: f.Field, Op: op, Value: f.Value,
		})
	}
	for _, s := range d.Steps {
		worker.Steps = append(worker.Steps, schema.PipelineStep{
			Name:    s.Name,
			Action:  s.Action,
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
			Cwd:     s.Cwd,
			OnError: schema.OnErrorPolicy(s.OnError),
		})
	}
	return worker
}

// parseFilterFlag parses one --filter value. Three forms are
// recognized: field=value (equals), field!=value (not_equals), and
// field~value (contains).
func parseFilterFlag(raw string) (schema.Filter, error) {
	if field, value, ok := strings.Cut(raw, "!="); ok {
		return schema.Filter{Field: field, Op: schema.OpNotEquals, Value: value}, nil
	}
	if field, value, ok := strings.Cut(raw, "~"); ok {
		return schema.Filter{Field: field, Op: schema.OpContains, Value: value}, nil
	}
	if field, value, ok := strings.Cut(raw, "="); ok {
		return schema.Filter{Field: field, Op: schema.OpEquals, Value: value}, nil
	}
	return schema.Filter{}, fmt.Errorf("filter %q: want field=value, field!=value, or field~value", raw)
}

func parseEnvFlags(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(raw))
	for _, entry := range raw {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("env %q: want KEY=value", entry)
		}
		env[key] = value
	}
	return env, nil
}

func workerCreateCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
		File        string   `flag:"file,f" desc:"YAML worker definition (required for pipelines)"`
		Name        string   `flag:"name" desc:"human-readable label"`
		EventType   string   `flag:"event-type" desc:"event type to subscribe to"`
		Filters     []string `flag:"filter" desc:"payload filter: field=value, field!=value, or field~value (repeatable)"`
		Concurrency int      `flag:"concurrency" desc:"maximum simultaneous runs" default:"1"`
		MaxAttempts int      `flag:"max-attempts" desc:"attempts per run before terminal failure" default:"3"`
		Command     string   `flag:"command" desc:"command to execute per matching event"`
		Args        []string `flag:"arg" desc:"command argument (repeatable)"`
		Env         []string `flag:"env" desc:"environment entry KEY=value (repeatable)"`
		WorkDir     string   `flag:"workdir" desc:"workspace directory (defaults to the current directory)"`
	}
	return &cli.Command{
		Name:    "create",
		Summary: "Create a worker definition",
		Usage:   "granary worker create <id> [flags]",
		Examples: []cli.Example{
			{
				Description: "Single-command worker triggered by completed tasks",
				Command:     "granary worker create ci --event-type task.updated --filter status=done --command ./run-tests.sh",
			},
			{
				Description: "Pipeline worker from a definition file",
				Command:     "granary worker create deploy --file deploy.yaml",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("create", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the worker id")
			}
			id := args[0]

			var worker *schema.Worker
			if params.File != "" {
				raw, err := os.ReadFile(params.File)
				if err != nil {
					return err
				}
				var defn workerDefinition
				if err := yaml.Unmarshal(raw, &defn); err != nil {
					return fmt.Errorf("parsing %s: %w", params.File, err)
				}
				worker = defn.toWorker(id)
			} else {
				env, err := parseEnvFlags(params.Env)
				if err != nil {
					return err
				}
				worker = &schema.Worker{
					ID:          id,
					Name:        params.Name,
					EventType:   params.EventType,
					Concurrency: params.Concurrency,
					MaxAttempts: params.MaxAttempts,
					Command:     params.Command,
					Args:        params.Args,
					Env:         env,
					WorkDir:     params.WorkDir,
				}
				for _, raw := range params.Filters {
					filter, err := parseFilterFlag(raw)
					if err != nil {
						return err
					}
					worker.Filters = append(worker.Filters, filter)
				}
			}

			if worker.WorkDir == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				worker.WorkDir = cwd
			}
			if !filepath.IsAbs(worker.WorkDir) {
				abs, err := filepath.Abs(worker.WorkDir)
				if err != nil {
					return err
				}
				worker.WorkDir = abs
			}

			if err := worker.Validate(); err != nil {
				return err
			}

			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.CreateWorker(context.Background(), worker); err != nil {
				return err
			}

			if done, err := params.EmitJSON(worker); done {
				return err
			}
			fmt.Printf("created worker %s (subscribes to %s)\n", worker.ID, worker.EventType)
			return nil
		},
	}
}

func workerListCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "list",
		Summary: "List workers",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(_ []string) error {
			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			workers, err := st.ListWorkers(context.Background())
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(workers); done {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tEVENT TYPE\tCURSOR\tKIND")
			for _, worker := range workers {
				kind := "command"
				if worker.IsPipeline() {
					kind = fmt.Sprintf("pipeline (%d steps)", len(worker.Steps))
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					worker.ID, worker.Status, worker.EventType,
					worker.LastEventID, kind)
			}
			return tw.Flush()
		},
	}
}

func workerShowCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
	}
	return &cli.Command{
		Name:    "show",
		Summary: "Show one worker",
		Usage:   "granary worker show <id>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the worker id")
			}

			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			worker, err := st.GetWorker(context.Background(), args[0])
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(worker); done {
				return err
			}
			fmt.Printf("id:           %s\n", worker.ID)
			if worker.Name != "" {
				fmt.Printf("name:         %s\n", worker.Name)
			}
			fmt.Printf("status:       %s\n", worker.Status)
			fmt.Printf("event type:   %s\n", worker.EventType)
			for _, filter := range worker.Filters {
				fmt.Printf("filter:       %s %s %q\n", filter.Field, filter.Op, filter.Value)
			}
			fmt.Printf("concurrency:  %d\n", worker.Concurrency)
			fmt.Printf("max attempts: %d\n", worker.MaxAttempts)
			if worker.IsPipeline() {
				for i, step := range worker.Steps {
					name := step.Name
					if name == "" {
						name = fmt.Sprintf("step_%d", i+1)
					}
					fmt.Printf("step:         %s\n", name)
				}
			} else {
				fmt.Printf("command:      %s %s\n", worker.Command, strings.Join(worker.Args, " "))
			}
			fmt.Printf("workdir:      %s\n", worker.WorkDir)
			fmt.Printf("cursor:       %d\n", worker.LastEventID)
			return nil
		},
	}
}

func workerStartCommand() *cli.Command {
	return &cli.Command{
		Name:    "start",
		Summary: "Start a worker's runtime under the daemon",
		Usage:   "granary worker start <id>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the worker id")
			}
			client, err := daemonClient()
			if err != nil {
				return err
			}
			resp, err := client.Do(&ipc.Request{Action: ipc.ActionStartWorker, WorkerID: args[0]})
			if err != nil {
				return err
			}
			fmt.Printf("worker %s is %s\n", resp.Worker.ID, resp.Worker.Status)
			return nil
		},
	}
}

func workerStopCommand() *cli.Command {
	var params struct {
		CancelRuns bool `flag:"cancel-runs" desc:"cancel the worker's in-flight runs before stopping"`
	}
	return &cli.Command{
		Name:    "stop",
		Summary: "Stop a worker's runtime",
		Usage:   "granary worker stop <id> [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("stop", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the worker id")
			}
			client, err := daemonClient()
			if err != nil {
				return err
			}
			resp, err := client.Do(&ipc.Request{
				Action:     ipc.ActionStopWorker,
				WorkerID:   args[0],
				CancelRuns: params.CancelRuns,
			})
			if err != nil {
				return err
			}
			fmt.Printf("worker %s is %s\n", resp.Worker.ID, resp.Worker.Status)
			return nil
		},
	}
}

func workerDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:    "delete",
		Summary: "Delete a worker and its run history",
		Usage:   "granary worker delete <id>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the worker id")
			}

			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := context.Background()
			worker, err := st.GetWorker(ctx, args[0])
			if err != nil {
				return err
			}
			if worker.Status == schema.WorkerRunning {
				return fmt.Errorf("worker %s is running; stop it first", worker.ID)
			}
			if err := st.DeleteWorker(ctx, worker.ID); err != nil {
				return err
			}
			fmt.Printf("deleted worker %s\n", worker.ID)
			return nil
		},
	}
}

func workerPruneCommand() *cli.Command {
	return &cli.Command{
		Name:    "prune",
		Summary: "Delete stopped and errored workers with their runs and logs",
		Run: func(_ []string) error {
			client, err := daemonClient()
			if err != nil {
				return err
			}
			resp, err := client.Do(&ipc.Request{Action: ipc.ActionPrune})
			if err != nil {
				return err
			}
			fmt.Printf("pruned %d workers\n", resp.Pruned)
			return nil
		},
	}
}
