// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/granary-project/granary/lib/schema"
	"github.com/granary-project/granary/lib/store"
	"github.com/granary-project/granary/lib/template"
)

// Poller is a cursor-based subscription over the event log for one
// worker. Poll returns matching events past the cursor; it never moves
// the cursor itself. The caller acknowledges an event id only after
// the corresponding run exists durably, so a crash between poll and
// dispatch re-delivers rather than loses the event (at-least-once).
type Poller struct {
	store    *store.Store
	workerID string
	typ      string
	filters  []schema.Filter
	cursor   int64
	logger   *slog.Logger
}

// NewPoller builds a poller resuming from the worker's stored cursor.
func NewPoller(s *store.Store, w *schema.Worker, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Poller{
		store:    s,
		workerID: w.ID,
		typ:      w.EventType,
		filters:  w.Filters,
		cursor:   w.LastEventID,
		logger:   logger,
	}
}

// Cursor returns the last acknowledged event id.
func (p *Poller) Cursor() int64 { return p.cursor }

// Poll returns up to max events past the cursor that pass every
// filter, ordered by id ascending, together with the highest event id
// scanned. The scanned id covers non-matching events too: once the
// caller has created runs for every returned event it acknowledges the
// scanned id, so filtered-out events are not rescanned forever.
func (p *Poller) Poll(ctx context.Context, max int) ([]schema.Event, int64, error) {
	if max <= 0 {
		return nil, p.cursor, nil
	}

	events, err := p.store.ListEventsSince(ctx, p.typ, p.cursor, max)
	if err != nil {
		return nil, p.cursor, fmt.Errorf("worker: polling events: %w", err)
	}

	scanned := p.cursor
	var matched []schema.Event
	for _, event := range events {
		scanned = event.ID
		ok, err := matchFilters(&event, p.filters)
		if err != nil {
			p.logger.Warn("skipping event with undecodable payload",
				"worker_id", p.workerID, "event_id", event.ID, "error", err)
			continue
		}
		if ok {
			matched = append(matched, event)
		}
	}
	return matched, scanned, nil
}

// Acknowledge durably advances the cursor to eventID. The cursor only
// moves forward; acknowledging an already-covered id is a no-op, which
// makes acknowledgement idempotent across crash recovery.
func (p *Poller) Acknowledge(ctx context.Context, eventID int64) error {
	if eventID <= p.cursor {
		return nil
	}
	if err := p.store.AdvanceCursor(ctx, p.workerID, eventID); err != nil {
		return fmt.Errorf("worker: acknowledging event %d: %w", eventID, err)
	}
	p.cursor = eventID
	return nil
}

// matchFilters evaluates every filter against the event payload (AND
// semantics). A filter whose target field is absent matches equals
// only when the compared value is empty, matches not_equals whenever
// the compared value is non-empty, and never matches contains.
func matchFilters(event *schema.Event, filters []schema.Filter) (bool, error) {
	if len(filters) == 0 {
		return true, nil
	}

	root, err := template.Decode(event.Payload)
	if err != nil {
		return false, err
	}

	for _, filter := range filters {
		value, found := template.Lookup(root, filter.Field)
		var str string
		if found {
			str = template.Stringify(value)
		}

		switch filter.Op {
		case schema.OpEquals:
			if !found {
				if filter.Value != "" {
					return false, nil
				}
			} else if str != filter.Value {
				return false, nil
			}
		case schema.OpNotEquals:
			if !found {
				if filter.Value == "" {
					return false, nil
				}
			} else if str == filter.Value {
				return false, nil
			}
		case schema.OpContains:
			if !found || !strings.Contains(str, filter.Value) {
				return false, nil
			}
		default:
			return false, fmt.Errorf("worker: unknown filter operator %q", filter.Op)
		}
	}
	return true, nil
}
