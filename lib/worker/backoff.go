// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"math/rand"
	"time"
)

// maxBackoffShift caps the exponential multiplier at 2^10 so the wait
// between retries stays bounded no matter how high the attempt count.
const maxBackoffShift = 10

// RetryDelay returns the wait before re-dispatching a failed run:
// base * 2^min(attempt-1, 10), plus jitter drawn uniformly from
// [0, delay/4]. Jitter spreads out retries of runs that failed in the
// same tick.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	shift := attempt - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := base << shift
	if delay <= 0 {
		return 0
	}
	return delay + time.Duration(rand.Int63n(int64(delay/4+1)))
}
