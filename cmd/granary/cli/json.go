// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"os"
	"reflect"
)

// JSONOutput adds a --json switch to any params struct that embeds it.
// Commands call [JSONOutput.EmitJSON] first and fall through to their
// table rendering when the flag is off.
type JSONOutput struct {
	OutputJSON bool `json:"-" flag:"json" desc:"output as JSON"`
}

// EmitJSON writes result to stdout as indented JSON when --json is
// set. The first return value tells the caller whether output was
// handled; when it is false the caller renders text instead.
//
// A nil slice is emitted as [] rather than null so scripted consumers
// can always iterate the result.
func (j *JSONOutput) EmitJSON(result any) (bool, error) {
	if !j.OutputJSON {
		return false, nil
	}
	value := reflect.ValueOf(result)
	if value.Kind() == reflect.Slice && value.IsNil() {
		result = reflect.MakeSlice(value.Type(), 0, 0).Interface()
	}
	return true, WriteJSON(result)
}

// WriteJSON renders value as indented JSON on stdout.
func WriteJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
