// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/json"
	"time"
)

// Event is one immutable row of the append-only event log. Events are
// written by the tracker (task created, session ended, comment added)
// and consumed by worker runtimes. They are never mutated or deleted
// while a worker may still poll them.
type Event struct {
	// ID is the monotonically increasing log position. Assigned by the
	// store on append; zero until then.
	ID int64 `json:"id" cbor:"id"`

	// Type is the event type string, e.g. "task.completed". Workers
	// subscribe to exactly one type.
	Type string `json:"type" cbor:"type"`

	// EntityType and EntityID identify the tracker record the event is
	// about ("task", "project", "session", ...).
	EntityType string `json:"entity_type" cbor:"entity_type"`
	EntityID   string `json:"entity_id" cbor:"entity_id"`

	// Actor is who caused the event: a user name, an agent identifier,
	// or "system".
	Actor string `json:"actor" cbor:"actor"`

	// SessionID optionally ties the event to an agent session.
	SessionID string `json:"session_id,omitempty" cbor:"session_id,omitempty"`

	// Payload is the raw JSON body. Template placeholders and filter
	// predicates resolve paths into this value.
	Payload json.RawMessage `json:"payload,omitempty" cbor:"payload,omitempty"`

	// CreatedAt is when the event was appended.
	CreatedAt time.Time `json:"created_at" cbor:"created_at"`
}

// FilterOp is a filter comparison operator.
type FilterOp string

const (
	// OpEquals matches when the field's string form equals Value. An
	// absent field matches only when Value is empty.
	OpEquals FilterOp = "equals"

	// OpNotEquals matches when the field's string form differs from
	// Value.
	OpNotEquals FilterOp = "not_equals"

	// OpContains matches when the field's string form contains Value
	// as a substring. An absent field never matches.
	OpContains FilterOp = "contains"
)

// Filter is one predicate over an event payload. A worker holds an
// ordered list of filters; an event is dispatched only when every
// filter matches (AND semantics).
type Filter struct {
	// Field is a dot path into the payload, with numeric segments
	// indexing arrays: "pull_request.labels.0.name".
	Field string `json:"field" cbor:"field"`

	// Op is the comparison operator.
	Op FilterOp `json:"op" cbor:"op"`

	// Value is the comparison operand.
	Value string `json:"value" cbor:"value"`
}

// Valid reports whether the operator is one of the known values.
func (op FilterOp) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains:
		return true
	}
	return false
}
