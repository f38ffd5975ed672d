// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package store is Granary's SQLite persistence layer: the append-only
// event log, worker and run records, and the tracker's projects and
// tasks, all in one database file.
//
// Concurrency model: many worker runtimes and the daemon share one
// Store. Row updates that more than one party may issue (worker
// status, run status) are version-checked — the update carries the
// version the caller read, and a concurrent change makes it fail with
// ErrVersionConflict instead of silently overwriting. The event log is
// append-only and needs no versioning.
//
// Timestamps are stored as Unix nanoseconds so ordering comparisons
// happen in SQL without parsing.
package store
