package backend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/pkg/logger"
	"github.com/makeasinger/studio/internal/pkg/retry"
)

// Poller blocks until a job reaches a terminal state or the timeout passes.
// It owns no goroutines and is safe to run inside any pool worker.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewPoller returns a Poller using the wall clock.
func NewPoller(interval, timeout time.Duration) *Poller {
	return &Poller{
		Interval: interval,
		Timeout:  timeout,
		now:      time.Now,
		sleep:    retry.Sleep,
	}
}

// Wait polls b for jobID. On success it returns GetResult's value. A failed
// job yields ErrJobFailed and an expired timeout ErrTimedOut. A poll error
// ends the wait immediately.
func (p *Poller) Wait(ctx context.Context, b Backend, jobID string) (*model.GenerationResult, error) {
	now, sleep := p.now, p.sleep
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = retry.Sleep
	}

	log := logger.L().With(zap.String("component", "backend.poller"), zap.String("backend", b.Name()), zap.String("job_id", jobID))
	start := now()
	attempt := 0

	for now().Sub(start) < p.Timeout {
		attempt++
		progress, err := b.CheckProgress(ctx, jobID)
		if err != nil {
			log.Warn("poll.check_failed", zap.Int("attempt", attempt), zap.Error(err))
			return nil, fmt.Errorf("check progress: %w", err)
		}

		log.Debug("poll.progress",
			zap.Int("attempt", attempt),
			zap.String("status", string(progress.Status)),
			zap.Float64("percent", progress.Percent),
			zap.String("message", progress.Message),
		)

		switch progress.Status {
		case model.JobSucceeded:
			return b.GetResult(ctx, jobID)
		case model.JobFailed:
			return nil, fmt.Errorf("%w: %s", ErrJobFailed, progress.Message)
		}

		if err := sleep(ctx, p.Interval); err != nil {
			return nil, err
		}
	}

	log.Warn("poll.timed_out", zap.Duration("timeout", p.Timeout), zap.Int("attempts", attempt))
	return nil, fmt.Errorf("%w after %v", ErrTimedOut, p.Timeout)
}
