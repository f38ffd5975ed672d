// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"strconv"
	"strings"
	"time"

	"github.com/granary-project/granary/lib/schema"
)

// PipelineContext maps a step name to its captured output. The
// executor also records the most recent step under the "prev" alias,
// so {prev.stdout} always addresses the step before the current one.
// Run-scoped and ephemeral: discarded when the pipeline finishes.
type PipelineContext map[string]schema.StepOutput

// Resolve substitutes every {placeholder} in template. Placeholders
// resolve independently; a template without placeholders passes
// through unchanged. pctx may be nil for single-command workers, in
// which case {steps.*} and {prev.*} resolve empty like any other miss.
//
// An unclosed "{" consumes the rest of the template silently. Existing
// worker configurations rely on this, so it is kept as documented
// behavior rather than reported as an error.
func Resolve(template string, event *schema.Event, pctx PipelineContext) string {
	if !strings.ContainsRune(template, '{') {
		return template
	}

	// Decode the payload once per call; every payload placeholder in
	// the template shares the decoded value. A malformed payload
	// resolves all payload paths to empty.
	payload, err := Decode(event.Payload)
	if err != nil {
		payload = nil
	}

	var out strings.Builder
	out.Grow(len(template))

	rest := template
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			out.WriteString(rest)
			return out.String()
		}
		out.WriteString(rest[:open])

		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			// Unclosed placeholder: the remainder is consumed.
			return out.String()
		}

		path := rest[open+1 : open+end]
		out.WriteString(resolvePath(path, event, payload, pctx))
		rest = rest[open+end+1:]
	}
}

// ResolveAll maps Resolve over a slice, for argument lists.
func ResolveAll(templates []string, event *schema.Event, pctx PipelineContext) []string {
	if len(templates) == 0 {
		return nil
	}
	resolved := make([]string, len(templates))
	for i, t := range templates {
		resolved[i] = Resolve(t, event, pctx)
	}
	return resolved
}

// resolvePath resolves one placeholder path. "{}" resolves empty — an
// empty path hits no namespace and falls through the payload miss.
func resolvePath(path string, event *schema.Event, payload any, pctx PipelineContext) string {
	segments := strings.Split(path, ".")

	switch segments[0] {
	case "event":
		if len(segments) != 2 {
			return ""
		}
		return envelopeField(event, segments[1])

	case "steps":
		if len(segments) != 3 {
			return ""
		}
		return stepField(pctx, segments[1], segments[2])

	case "prev":
		if len(segments) != 2 {
			return ""
		}
		return stepField(pctx, "prev", segments[1])
	}

	value, ok := Lookup(payload, path)
	if !ok {
		return ""
	}
	return Stringify(value)
}

// envelopeField renders one field of the event envelope (not the
// payload).
func envelopeField(event *schema.Event, field string) string {
	switch field {
	case "id":
		return strconv.FormatInt(event.ID, 10)
	case "type":
		return event.Type
	case "entity_type":
		return event.EntityType
	case "entity_id":
		return event.EntityID
	case "actor":
		return event.Actor
	case "session_id":
		return event.SessionID
	case "created_at":
		return event.CreatedAt.UTC().Format(time.RFC3339)
	}
	return ""
}

// stepField renders stdout or exit_code for a recorded step output.
func stepField(pctx PipelineContext, name, field string) string {
	output, ok := pctx[name]
	if !ok {
		return ""
	}
	switch field {
	case "stdout":
		return output.Stdout
	case "exit_code":
		return strconv.Itoa(output.ExitCode)
	}
	return ""
}
