package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/studio/internal/model"
)

const (
	TaskTypeStory = "story:process"
	QueueStories  = "stories"

	jobTTL = 24 * time.Hour
)

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrJobNotCompleted    = errors.New("job not completed")
	ErrJobAlreadyFinished = errors.New("job already finished")
)

// TaskEnqueuer is the subset of asynq.Client used to queue story jobs.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// StoryService handles story job management
type StoryService struct {
	redis    *redis.Client
	enqueuer TaskEnqueuer
	now      func() time.Time
}

func NewStoryService(redisClient *redis.Client, enqueuer TaskEnqueuer) *StoryService {
	return &StoryService{
		redis:    redisClient,
		enqueuer: enqueuer,
		now:      time.Now,
	}
}

// StartStory queues a new story job
func (s *StoryService) StartStory(ctx context.Context, userID string, req *model.StoryStartRequest) (*model.StoryStartResponse, error) {
	for _, src := range []*model.MusicSource{req.Script.BackgroundMusic, req.Script.ClosingCredits} {
		if src == nil {
			continue
		}
		if err := ValidateSource(src); err != nil {
			return nil, err
		}
	}

	jobID := uuid.New().String()
	now := s.now()

	scriptBytes, err := json.Marshal(req.Script)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal script: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		UserID:    userID,
		Status:    model.StoryQueued,
		Script:    scriptBytes,
		CreatedAt: now,
	}
	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	task, err := NewStoryTask(jobID, &req.Script)
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.enqueuer.EnqueueContext(ctx, task,
		asynq.Queue(QueueStories),
		asynq.TaskID(jobID),
		asynq.MaxRetry(1),
		asynq.Timeout(2*time.Hour),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.StoryStartResponse{
		JobID:     jobID,
		Status:    model.StoryQueued,
		Segments:  len(req.Script.Story),
		CreatedAt: now,
	}, nil
}

// GetStatus returns the current status of a story job
func (s *StoryService) GetStatus(ctx context.Context, jobID string) (*model.StoryStatusResponse, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.StoryStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the result of a completed story job
func (s *StoryService) GetResult(ctx context.Context, jobID string) (*model.StoryResult, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.StorySucceeded {
		return nil, ErrJobNotCompleted
	}

	var result model.StoryResult
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}

	return &result, nil
}

// CancelStory marks a job canceled. Remote generation already in flight
// keeps running; the worker discards its output.
func (s *StoryService) CancelStory(ctx context.Context, jobID string) (*model.StoryCancelResponse, error) {
	err := s.mutateJob(ctx, jobID, func(job *model.Job) (bool, error) {
		if job.Status.IsFinished() {
			return false, ErrJobAlreadyFinished
		}
		now := s.now()
		job.Status = model.StoryCanceled
		job.CompletedAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	return &model.StoryCancelResponse{
		Success: true,
		JobID:   jobID,
		Status:  model.StoryCanceled,
	}, nil
}

// UpdateJobProgress updates job progress (called by worker)
func (s *StoryService) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error {
	return s.mutateJob(ctx, jobID, func(job *model.Job) (bool, error) {
		if job.Status.IsFinished() {
			return false, nil
		}
		job.Progress = progress
		job.CurrentStep = step
		if job.Status == model.StoryQueued {
			now := s.now()
			job.Status = model.StoryRunning
			job.StartedAt = &now
		}
		return true, nil
	})
}

// CompleteJob marks job as succeeded (called by worker). A job that was
// canceled or already finished is left as is.
func (s *StoryService) CompleteJob(ctx context.Context, jobID string, result *model.StoryResult) error {
	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	return s.mutateJob(ctx, jobID, func(job *model.Job) (bool, error) {
		if job.Status.IsFinished() {
			return false, nil
		}
		now := s.now()
		job.Status = model.StorySucceeded
		job.Progress = 100
		job.CurrentStep = ""
		job.Result = resultBytes
		job.CompletedAt = &now
		return true, nil
	})
}

// FailJob marks job as failed (called by worker)
func (s *StoryService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	return s.mutateJob(ctx, jobID, func(job *model.Job) (bool, error) {
		if job.Status.IsFinished() {
			return false, nil
		}
		now := s.now()
		job.Status = model.StoryFailed
		job.Error = &errMsg
		job.CompletedAt = &now
		return true, nil
	})
}

// maxJobUpdateRetries bounds optimistic-lock retries of one job update.
const maxJobUpdateRetries = 10

// mutateJob applies fn to the stored job under WATCH, so a concurrent
// writer makes the update start over from the new state. fn reports
// whether the job must be written back.
func (s *StoryService) mutateJob(ctx context.Context, jobID string, fn func(job *model.Job) (bool, error)) error {
	key := jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrJobNotFound
			}
			return err
		}
		var job model.Job
		if err := json.Unmarshal(data, &job); err != nil {
			return err
		}

		write, err := fn(&job)
		if err != nil || !write {
			return err
		}
		updated, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, jobTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxJobUpdateRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("update job %s: %w", jobID, redis.TxFailedErr)
}

// GetJob loads the job record for jobID.
func (s *StoryService) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func (s *StoryService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func jobKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// NewStoryTask builds the asynq task for a story job.
func NewStoryTask(jobID string, script *model.Script) (*asynq.Task, error) {
	data, err := json.Marshal(model.StoryJobPayload{JobID: jobID, Script: *script})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeStory, data), nil
}
