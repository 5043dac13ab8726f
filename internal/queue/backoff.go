// Copyright (c) 2026 MangaTrack. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package queue

import (
	"math/rand"
	"time"
)

const (
	// maxDelay caps the exponential schedule.
	maxDelay = 15 * time.Minute
	// jitterFraction is the share of the delay randomized to spread
	// retry storms (full delay ± half the fraction).
	jitterFraction = 0.25
)

// NextDelay returns the retry delay after the given attempt (1-based):
// base * 2^(attempt-1), capped at 15 minutes, with ±12.5% jitter.
func NextDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}

	jitterRange := float64(delay) * jitterFraction
	jitter := (rand.Float64() - 0.5) * jitterRange

	final := time.Duration(float64(delay) + jitter)
	if final < 0 {
		final = base
	}
	return final
}
