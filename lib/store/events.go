// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/granary-project/granary/lib/schema"
)

// AppendEvent appends one row to the event log and fills in the
// assigned ID and CreatedAt. Events are immutable after this.
func (s *Store) AppendEvent(ctx context.Context, event *schema.Event) error {
	if event.Type == "" {
		return fmt.Errorf("store: event type is required")
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	event.CreatedAt = s.clock.Now().UTC()

	err = sqlitex.Execute(conn, `
		INSERT INTO events (type, entity_type, entity_id, actor, session_id, payload, created_at)
		VALUES (:type, :entity_type, :entity_id, :actor, :session_id, :payload, :created_at)`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":type":        event.Type,
				":entity_type": event.EntityType,
				":entity_id":   event.EntityID,
				":actor":       event.Actor,
				":session_id":  event.SessionID,
				":payload":     string(event.Payload),
				":created_at":  event.CreatedAt.UnixNano(),
			},
		})
	if err != nil {
		return fmt.Errorf("store: appending event: %w", err)
	}

	event.ID = conn.LastInsertRowID()
	return nil
}

// ListEventsSince returns events of the given type with id strictly
// greater than afterID, ordered by id ascending, at most limit rows.
// This is the poller's storage-level pre-filter; payload predicates
// are evaluated by the caller.
func (s *Store) ListEventsSince(ctx context.Context, eventType string, afterID int64, limit int) ([]schema.Event, error) {
	if limit <= 0 {
		return nil, nil
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var events []schema.Event
	err = sqlitex.Execute(conn, `
		SELECT id, type, entity_type, entity_id, actor, session_id, payload, created_at
		FROM events
		WHERE type = :type AND id > :after_id
		ORDER BY id ASC
		LIMIT :limit`,
		&sqlitex.ExecOptions{
			Named: map[string]any{
				":type":     eventType,
				":after_id": afterID,
				":limit":    limit,
			},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				events = append(events, eventFromRow(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: listing events: %w", err)
	}
	return events, nil
}

// GetEvent returns one event by id.
func (s *Store) GetEvent(ctx context.Context, id int64) (schema.Event, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return schema.Event{}, err
	}
	defer s.pool.Put(conn)

	var event schema.Event
	found := false
	err = sqlitex.Execute(conn, `
		SELECT id, type, entity_type, entity_id, actor, session_id, payload, created_at
		FROM events WHERE id = :id`,
		&sqlitex.ExecOptions{
			Named: map[string]any{":id": id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				event = eventFromRow(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return schema.Event{}, fmt.Errorf("store: getting event %d: %w", id, err)
	}
	if !found {
		return schema.Event{}, fmt.Errorf("store: event %d: %w", id, ErrNotFound)
	}
	return event, nil
}

func eventFromRow(stmt *sqlite.Stmt) schema.Event {
	event := schema.Event{
		ID:         stmt.ColumnInt64(0),
		Type:       stmt.ColumnText(1),
		EntityType: stmt.ColumnText(2),
		EntityID:   stmt.ColumnText(3),
		Actor:      stmt.ColumnText(4),
		SessionID:  stmt.ColumnText(5),
		CreatedAt:  columnTime(stmt.ColumnInt64(7)),
	}
	if payload := stmt.ColumnText(6); payload != "" {
		event.Payload = json.RawMessage(payload)
	}
	return event
}
