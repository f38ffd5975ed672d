// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// FlagsFromParams builds a flag set from the tagged fields of params,
// which must point to a struct. Binding failures panic: the tags are
// compile-time artifacts, so a bad tag is a programming error.
//
// Typical use inside a command constructor:
//
//	var params struct {
//	    cli.JSONOutput
//	    Limit int `flag:"limit,n" desc:"maximum rows" default:"50"`
//	}
//	Flags: func() *pflag.FlagSet {
//	    return cli.FlagsFromParams("list", &params)
//	}
func FlagsFromParams(name string, params any) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	if err := BindFlags(params, flagSet); err != nil {
		panic(fmt.Sprintf("cli.FlagsFromParams(%q): %v", name, err))
	}
	return flagSet
}

// BindFlags walks the struct behind params and registers one pflag per
// tagged field.
//
// Recognized tags:
//
//	flag:"name" or flag:"name,n"  — flag name, optional shorthand
//	desc:"..."                    — help text
//	default:"..."                 — default value, parsed per field type
//
// Fields without a flag tag are ignored. Embedded structs (such as
// [JSONOutput]) are walked recursively. Supported field types are
// string, bool, int, int64, [time.Duration], and []string.
func BindFlags(params any, flagSet *pflag.FlagSet) error {
	value := reflect.ValueOf(params)
	if value.Kind() != reflect.Ptr || value.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("params must be a pointer to a struct, got %T", params)
	}
	return bindStruct(value.Elem(), flagSet)
}

func bindStruct(structValue reflect.Value, flagSet *pflag.FlagSet) error {
	for i := 0; i < structValue.NumField(); i++ {
		field := structValue.Type().Field(i)
		target := structValue.Field(i)

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			if err := bindStruct(target, flagSet); err != nil {
				return fmt.Errorf("embedded %s: %w", field.Name, err)
			}
			continue
		}

		tag := field.Tag.Get("flag")
		if tag == "" {
			continue
		}
		if !target.CanAddr() {
			return fmt.Errorf("field %s: not addressable", field.Name)
		}

		name, shorthand, _ := strings.Cut(tag, ",")
		err := register(target.Addr().Interface(), flagSet, binding{
			name:         name,
			shorthand:    shorthand,
			description:  field.Tag.Get("desc"),
			defaultValue: field.Tag.Get("default"),
		})
		if err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
	}
	return nil
}

type binding struct {
	name         string
	shorthand    string
	description  string
	defaultValue string
}

// register binds one field pointer to flagSet according to its type.
func register(pointer any, flagSet *pflag.FlagSet, b binding) error {
	switch target := pointer.(type) {
	case *string:
		flagSet.StringVarP(target, b.name, b.shorthand, b.defaultValue, b.description)
		return nil

	case *bool:
		value, err := defaultFor(b, strconv.ParseBool)
		if err != nil {
			return err
		}
		flagSet.BoolVarP(target, b.name, b.shorthand, value, b.description)
		return nil

	case *int:
		value, err := defaultFor(b, strconv.Atoi)
		if err != nil {
			return err
		}
		flagSet.IntVarP(target, b.name, b.shorthand, value, b.description)
		return nil

	case *int64:
		value, err := defaultFor(b, func(s string) (int64, error) {
			return strconv.ParseInt(s, 10, 64)
		})
		if err != nil {
			return err
		}
		flagSet.Int64VarP(target, b.name, b.shorthand, value, b.description)
		return nil

	case *time.Duration:
		value, err := defaultFor(b, time.ParseDuration)
		if err != nil {
			return err
		}
		flagSet.DurationVarP(target, b.name, b.shorthand, value, b.description)
		return nil

	case *[]string:
		var value []string
		if b.defaultValue != "" {
			value = strings.Split(b.defaultValue, ",")
		}
		flagSet.StringSliceVarP(target, b.name, b.shorthand, value, b.description)
		return nil

	default:
		return fmt.Errorf("unsupported type %T for flag --%s", pointer, b.name)
	}
}

// defaultFor parses the binding's default tag with parse, returning
// the zero value when the tag is absent.
func defaultFor[T any](b binding, parse func(string) (T, error)) (T, error) {
	var zero T
	if b.defaultValue == "" {
		return zero, nil
	}
	value, err := parse(b.defaultValue)
	if err != nil {
		return zero, fmt.Errorf("default for --%s: %w", b.name, err)
	}
	return value, nil
}
