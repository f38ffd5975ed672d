// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipc defines the CBOR-encoded message types for the
// daemon↔CLI Unix socket protocol. Both cmd/granary-daemon and
// cmd/granary import this package so the wire types are defined once
// rather than mirrored.
package ipc
