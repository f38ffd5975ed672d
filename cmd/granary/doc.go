// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Granary is the command-line interface for the Granary tracker and
// worker system. Tracker records (projects, tasks, events) and worker
// definitions are read and written directly in the shared SQLite
// store; worker and run lifecycle operations go through the
// granary-daemon control socket.
package main
