// Package retry computes backoff delays shared by the music generator and
// the backend transports.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// jitterRatio bounds the random perturbation applied to a computed delay.
const jitterRatio = 0.1

// Delay returns min(base*2^attempt, max) perturbed by jitter. r must be in
// [0, 1). Below max the jitter is bidirectional (±10%) and the result is
// clamped to max. Once the computed delay reaches max the jitter only pulls
// downward, keeping the result within [0.9*max, max].
func Delay(attempt int, base, max time.Duration, r float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 || max <= 0 {
		return 0
	}

	delay := max
	// base <= max>>attempt guarantees the shift cannot overflow
	if attempt < 63 && base <= max>>uint(attempt) {
		if scaled := base << uint(attempt); scaled < max {
			delay = scaled
		}
	}

	if delay >= max {
		return max - time.Duration(float64(max)*jitterRatio*r)
	}

	jittered := delay + time.Duration(float64(delay)*jitterRatio*(2*r-1))
	if jittered > max {
		return max
	}
	return jittered
}

// Jitter returns a value in [0, 1) for Delay.
func Jitter() float64 {
	return rand.Float64()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
