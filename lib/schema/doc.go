// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the record types shared across Granary: events,
// workers, runs, pipeline steps, and the tracker's projects and tasks.
// These types are the contract between the store, the worker runtime, the
// daemon control surface, and the CLI — they carry both JSON tags (config
// files, event payloads) and CBOR tags (daemon IPC).
package schema
