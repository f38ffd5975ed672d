// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec centralizes CBOR encoding for the daemon control
// surface. All IPC traffic goes through Marshal/Unmarshal or the
// stream Encoder/Decoder so every component shares one deterministic
// configuration; nothing outside this package imports fxamacker/cbor
// directly.
package codec
