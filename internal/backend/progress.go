package backend

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/pkg/logger"
)

// finalizingPercent is reported while a succeeded job has no artifact yet.
const finalizingPercent = 99.0

// elapsedProgress synthesizes a percentage from the time since a job was
// started, for providers that do not report one. Readings never go down for
// a job while this process tracks it.
type elapsedProgress struct {
	store    StartTimes
	now      func() time.Time
	expected time.Duration
	cap      float64

	mu   sync.Mutex
	high map[string]float64
}

func newElapsedProgress(store StartTimes, now func() time.Time, expected time.Duration, cap float64) *elapsedProgress {
	if now == nil {
		now = time.Now
	}
	return &elapsedProgress{
		store:    store,
		now:      now,
		expected: expected,
		cap:      cap,
		high:     make(map[string]float64),
	}
}

// started records the start of jobID, replacing any earlier record.
func (e *elapsedProgress) started(ctx context.Context, jobID string) {
	e.mu.Lock()
	delete(e.high, jobID)
	e.mu.Unlock()

	if err := e.store.Save(ctx, jobID, e.now()); err != nil {
		logger.L().Warn("progress.save_start_failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// elapsed returns the time since jobID started. A missing record is created
// now, so the next reading measures from this call.
func (e *elapsedProgress) elapsed(ctx context.Context, jobID string) time.Duration {
	now := e.now()
	start, ok, err := e.store.Load(ctx, jobID)
	if err != nil {
		logger.L().Warn("progress.load_start_failed", zap.String("job_id", jobID), zap.Error(err))
	}
	if !ok || err != nil {
		_ = e.store.Save(ctx, jobID, now)
		return 0
	}
	if d := now.Sub(start); d > 0 {
		return d
	}
	return 0
}

// base returns the capped elapsed-time percentage for jobID.
func (e *elapsedProgress) base(ctx context.Context, jobID string) (float64, time.Duration) {
	d := e.elapsed(ctx, jobID)
	if e.expected <= 0 {
		return 0, d
	}
	return math.Min(e.cap, float64(d)/float64(e.expected)*100), d
}

// clamp raises p to the highest reading seen for jobID and records it.
func (e *elapsedProgress) clamp(jobID string, p float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if hw, ok := e.high[jobID]; ok && hw > p {
		return hw
	}
	e.high[jobID] = p
	return p
}

// forget drops all state for a job that reached a terminal result.
func (e *elapsedProgress) forget(ctx context.Context, jobID string) {
	e.mu.Lock()
	delete(e.high, jobID)
	e.mu.Unlock()
	_ = e.store.Forget(ctx, jobID)
}

// timeStatus renders "[elapsed/expected]" for status messages.
func (e *elapsedProgress) timeStatus(d time.Duration) string {
	return fmt.Sprintf("[%ds/%ds]", int(d.Seconds()), int(e.expected.Seconds()))
}
