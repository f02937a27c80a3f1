package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelay_NoJitterMidpoint(t *testing.T) {
	// r=0.5 cancels the bidirectional jitter
	assert.Equal(t, 2*time.Second, Delay(1, time.Second, 5*time.Second, 0.5))
	assert.Equal(t, 4*time.Second, Delay(2, time.Second, 5*time.Second, 0.5))
}

func TestDelay_StrictlyIncreasesUntilSaturation(t *testing.T) {
	base, max := time.Second, 5*time.Second

	for attempt := 1; attempt < 3; attempt++ {
		// worst case: current attempt jitters up, next attempt jitters down
		current := Delay(attempt, base, max, 0.999)
		next := Delay(attempt+1, base, max, 0)
		assert.Greater(t, next, current, "attempt %d", attempt)
	}
}

func TestDelay_SaturatedStaysWithinBand(t *testing.T) {
	base, max := time.Second, 5*time.Second
	low := time.Duration(float64(max) * 0.9)

	for attempt := 3; attempt < 70; attempt++ {
		for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
			d := Delay(attempt, base, max, r)
			require.GreaterOrEqual(t, d, low, "attempt %d r %v", attempt, r)
			require.LessOrEqual(t, d, max, "attempt %d r %v", attempt, r)
		}
	}
}

func TestDelay_BidirectionalJitterBelowMax(t *testing.T) {
	base, max := time.Second, time.Minute

	lo := Delay(2, base, max, 0)
	hi := Delay(2, base, max, 0.999)
	assert.InDelta(t, float64(3600*time.Millisecond), float64(lo), float64(time.Millisecond))
	assert.Greater(t, hi, 4*time.Second)
	assert.LessOrEqual(t, hi, time.Duration(float64(4*time.Second)*1.1))
}

func TestDelay_NeverExceedsMaxNearSaturation(t *testing.T) {
	// 4.8s is within 10% of max, upward jitter must clamp
	d := Delay(0, 4800*time.Millisecond, 5*time.Second, 0.999)
	assert.LessOrEqual(t, d, 5*time.Second)
}

func TestDelay_ZeroConfig(t *testing.T) {
	assert.Zero(t, Delay(3, 0, time.Second, 0.5))
	assert.Zero(t, Delay(3, time.Second, 0, 0.5))
}

func TestSleep_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
