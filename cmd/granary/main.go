// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/granary-project/granary/lib/process"
)

func main() {
	if err := Root().Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}
