// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides OS-level control of spawned children.
//
// Every child Granary spawns — a worker's single command or a pipeline
// step — is started as the leader of a new process group (GroupAttr),
// so that a runner which forks helpers is signalled as a unit.
// Terminate, Kill, Pause, and Resume all target the group, not just
// the leader.
//
// Pause and Resume use stop/continue signals and are POSIX-only. On
// platforms without process-group stop/continue semantics they return
// a descriptive error; stopping a run still works everywhere via Kill.
package process
