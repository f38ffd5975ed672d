// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds small helpers shared by Granary tests:
// channel operations with timeout safety valves and condition polling.
// Production code must not import this package.
package testutil
