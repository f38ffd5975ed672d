// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the event-driven worker runtime: the
// per-worker scheduler loop that polls the event log, spawns child
// processes or pipelines for matching events, bounds concurrency,
// retries failures with exponential backoff, and shuts down without
// orphaning children. The Manager owns one Runtime per active worker
// and exposes the daemon-side start/stop/restore/prune surface.
package worker
