// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction.
//
// Production code accepts a Clock instead of calling time.Now,
// time.After, time.NewTicker, or time.Sleep directly. Real() is backed
// by the standard library; Fake() is a deterministic clock for tests
// that advances only when Advance is called.
//
// The worker runtime's tick loop, retry backoff waits, and shutdown
// grace periods all go through a Clock, so scheduler tests never sleep
// on the wall clock:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	runtime := worker.NewRuntime(worker.RuntimeConfig{Clock: c, ...})
//	// ... start the loop ...
//	c.WaitForTimers(1)          // loop has registered its tick
//	c.Advance(time.Second)      // fire the tick deterministically
package clock
