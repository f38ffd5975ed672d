// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Granary-daemon is the long-lived host process for Granary workers.
// It owns the shared SQLite store, runs one scheduler loop per active
// worker, restores workers after a crash, enforces log retention, and
// serves the control surface (worker and run lifecycle, log access)
// over a Unix socket consumed by the granary CLI.
package main
