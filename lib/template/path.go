// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package template

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Decode parses a raw JSON payload into a generic value for path
// lookup. Numbers decode as json.Number so integers render without
// float formatting. An empty payload decodes to nil (every lookup
// misses).
func Decode(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

// Lookup walks a dot path into a decoded JSON value. Numeric segments
// index arrays; all other segments index object keys. Returns the
// value and true on a hit, or (nil, false) for any miss: unknown key,
// out-of-bounds index, or a segment applied to a scalar.
func Lookup(root any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	current := root
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// Stringify coerces a decoded JSON value to its template rendering:
// strings pass through, numbers and booleans render canonically, nil
// renders empty, and objects/arrays render as compact JSON.
func Stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	case float64:
		// Payloads decoded elsewhere (without UseNumber) can still
		// reach here; render integers without the decimal point.
		return strconv.FormatFloat(typed, 'f', -1, 64)
	default:
		rendered, err := json.Marshal(typed)
		if err != nil {
			return ""
		}
		return string(rendered)
	}
}
