package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/pipeline"
	"github.com/makeasinger/studio/internal/pkg/logger"
)

// JobStore is the part of the story service the worker writes through.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error
	CompleteJob(ctx context.Context, jobID string, result *model.StoryResult) error
	FailJob(ctx context.Context, jobID string, errMsg string) error
}

// Runner runs the media pipeline for one script.
type Runner interface {
	Run(ctx context.Context, script *model.Script, outputDir string, observe pipeline.Observer) (*model.PipelineResult, error)
}

// Publisher stores pipeline artifacts.
type Publisher interface {
	Publish(ctx context.Context, jobID string, total int, res *model.PipelineResult) (*model.StoryResult, error)
}

// Broadcaster pushes job events to subscribers.
type Broadcaster interface {
	BroadcastProgress(jobID string, progress int, status model.StoryStatus, step string)
	BroadcastTask(jobID string, ev model.TaskEvent)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

const (
	progressStarted    = 5
	progressPipeline   = 90
	progressPublishing = 95
)

// StoryWorker processes story jobs
type StoryWorker struct {
	jobs       JobStore
	runner     Runner
	publisher  Publisher
	hub        Broadcaster
	outputRoot string
}

// NewStoryWorker creates a new story worker
func NewStoryWorker(jobs JobStore, runner Runner, publisher Publisher, hub Broadcaster, outputRoot string) *StoryWorker {
	return &StoryWorker{
		jobs:       jobs,
		runner:     runner,
		publisher:  publisher,
		hub:        hub,
		outputRoot: outputRoot,
	}
}

// ProcessTask handles story task processing
func (w *StoryWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.StoryJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	log := logger.L().With(zap.String("component", "worker.story"), zap.String("job_id", jobID))

	job, err := w.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status == model.StoryCanceled {
		log.Info("story.skipped_canceled")
		return nil
	}

	log.Info("story.started", zap.Int("segments", len(payload.Script.Story)))
	w.updateProgress(ctx, jobID, progressStarted, "Generating story media...")

	outputDir := filepath.Join(w.outputRoot, jobID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		w.failJob(ctx, jobID, fmt.Sprintf("Failed to create output directory: %v", err))
		return err
	}

	res, err := w.runner.Run(ctx, &payload.Script, outputDir, func(ev model.TaskEvent) {
		w.hub.BroadcastTask(jobID, ev)
		progress := progressStarted + (progressPipeline-progressStarted)*ev.Finished/ev.Total
		w.updateProgress(ctx, jobID, progress, fmt.Sprintf("Finished %d of %d tasks", ev.Finished, ev.Total))
	})
	if err != nil {
		w.failJob(ctx, jobID, fmt.Sprintf("Pipeline failed: %v", err))
		return fmt.Errorf("run pipeline: %w: %w", err, asynq.SkipRetry)
	}
	if res.Failed() {
		w.failJob(ctx, jobID, "All story segments failed to render")
		return fmt.Errorf("story %s: %w: %w", jobID, errNoSegments, asynq.SkipRetry)
	}

	w.updateProgress(ctx, jobID, progressPublishing, "Publishing artifacts...")
	result, err := w.publisher.Publish(ctx, jobID, len(payload.Script.Story), res)
	if err != nil {
		w.failJob(ctx, jobID, fmt.Sprintf("Publishing failed: %v", err))
		return err
	}

	if err := w.jobs.CompleteJob(ctx, jobID, result); err != nil {
		w.failJob(ctx, jobID, "Failed to save result")
		return err
	}

	w.hub.BroadcastComplete(jobID, result)
	log.Info("story.completed",
		zap.Int("segments", len(result.Segments)),
		zap.Int("segments_total", result.SegmentsTotal),
	)
	return nil
}

var errNoSegments = errors.New("no segment survived")

func (w *StoryWorker) updateProgress(ctx context.Context, jobID string, progress int, step string) {
	if err := w.jobs.UpdateJobProgress(ctx, jobID, progress, step); err != nil {
		logger.L().Warn("story.progress_update_failed", zap.String("job_id", jobID), zap.Error(err))
	}
	w.hub.BroadcastProgress(jobID, progress, model.StoryRunning, step)
}

func (w *StoryWorker) failJob(ctx context.Context, jobID, errMsg string) {
	if err := w.jobs.FailJob(ctx, jobID, errMsg); err != nil {
		logger.L().Warn("story.fail_update_failed", zap.String("job_id", jobID), zap.Error(err))
	}
	w.hub.BroadcastError(jobID, "STORY_FAILED", errMsg)
}
