// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/granary-project/granary/cmd/granary/cli"
	"github.com/granary-project/granary/lib/schema"
)

func eventCommand() *cli.Command {
	return &cli.Command{
		Name:    "event",
		Summary: "Inspect and append event-log entries",
		Subcommands: []*cli.Command{
			eventAppendCommand(),
			eventListCommand(),
		},
	}
}

func eventAppendCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
		EntityType string `flag:"entity-type" desc:"entity kind the event is about (task, project, session)"`
		EntityID   string `flag:"entity-id" desc:"entity id the event is about"`
		Actor      string `flag:"actor" desc:"who caused the event" default:"operator"`
		Session    string `flag:"session" desc:"agent session id"`
		Payload    string `flag:"payload" desc:"JSON payload body"`
	}
	return &cli.Command{
		Name:    "append",
		Summary: "Append an event to the log",
		Usage:   "granary event append <type> [flags]",
		Examples: []cli.Example{
			{
				Description: "Record a session end with a payload",
				Command:     `granary event append session.ended --entity-type session --entity-id s1 --payload '{"duration": 120}'`,
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("append", &params)
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one argument: the event type")
			}

			var payload json.RawMessage
			if params.Payload != "" {
				if !json.Valid([]byte(params.Payload)) {
					return fmt.Errorf("--payload is not valid JSON")
				}
				payload = json.RawMessage(params.Payload)
			}

			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			event := schema.Event{
				Type:       args[0],
				EntityType: params.EntityType,
				EntityID:   params.EntityID,
				Actor:      params.Actor,
				SessionID:  params.Session,
				Payload:    payload,
			}
			if err := st.AppendEvent(context.Background(), &event); err != nil {
				return err
			}

			if done, err := params.EmitJSON(event); done {
				return err
			}
			fmt.Printf("appended event %d (%s)\n", event.ID, event.Type)
			return nil
		},
	}
}

func eventListCommand() *cli.Command {
	var params struct {
		cli.JSONOutput
		Type  string `flag:"type,t" desc:"event type to list"`
		After int64  `flag:"after" desc:"only events with id greater than this"`
		Limit int    `flag:"limit,n" desc:"maximum events to return" default:"50"`
	}
	return &cli.Command{
		Name:    "list",
		Summary: "List events of one type",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(_ []string) error {
			if params.Type == "" {
				return fmt.Errorf("--type is required")
			}

			st, _, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			events, err := st.ListEventsSince(context.Background(), params.Type, params.After, params.Limit)
			if err != nil {
				return err
			}

			if done, err := params.EmitJSON(events); done {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tENTITY\tACTOR\tCREATED")
			for _, event := range events {
				entity := event.EntityType
				if event.EntityID != "" {
					entity = fmt.Sprintf("%s/%s", event.EntityType, event.EntityID)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					event.ID, event.Type, entity, event.Actor,
					event.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
}
