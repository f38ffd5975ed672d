// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package template resolves {dot.path} placeholders in worker command
// templates against an event and, for pipelines, the outputs of
// earlier steps.
//
// Recognized root namespaces:
//
//	{event.id} {event.type} {event.entity_type} {event.entity_id}
//	{event.actor} {event.session_id} {event.created_at}   — envelope
//	{steps.<name>.stdout} {steps.<name>.exit_code}        — pipeline
//	{prev.stdout} {prev.exit_code}                        — pipeline
//	{anything.else.0.here}                                — payload path
//
// Resolution is deliberately forgiving: a missing or unresolvable path
// renders as the empty string, never an error. Substitution failures
// must not crash a worker that is reacting to arbitrary payloads.
package template
