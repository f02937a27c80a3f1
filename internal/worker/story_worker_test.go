package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/pipeline"
)

type memJobs struct {
	mu       sync.Mutex
	job      model.Job
	progress []int
	result   *model.StoryResult
	failure  string
}

func (m *memJobs) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if jobID != m.job.ID {
		return nil, errors.New("job not found")
	}
	j := m.job
	return &j, nil
}

func (m *memJobs) UpdateJobProgress(_ context.Context, _ string, progress int, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, progress)
	m.job.Status = model.StoryRunning
	return nil
}

func (m *memJobs) CompleteJob(_ context.Context, _ string, result *model.StoryResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = result
	m.job.Status = model.StorySucceeded
	return nil
}

func (m *memJobs) FailJob(_ context.Context, _ string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = errMsg
	m.job.Status = model.StoryFailed
	return nil
}

type fakeRunner struct {
	result *model.PipelineResult
	err    error
	events []model.TaskEvent
	calls  int
}

func (r *fakeRunner) Run(_ context.Context, _ *model.Script, _ string, observe pipeline.Observer) (*model.PipelineResult, error) {
	r.calls++
	for _, ev := range r.events {
		observe(ev)
	}
	return r.result, r.err
}

type passthroughPublisher struct{}

func (passthroughPublisher) Publish(_ context.Context, jobID string, total int, res *model.PipelineResult) (*model.StoryResult, error) {
	return &model.StoryResult{JobID: jobID, Segments: res.Segments, SegmentsTotal: total, Poster: res.Poster}, nil
}

type recordingHub struct {
	mu        sync.Mutex
	tasks     int
	completed bool
	errors    []string
}

func (h *recordingHub) BroadcastProgress(string, int, model.StoryStatus, string) {}

func (h *recordingHub) BroadcastTask(string, model.TaskEvent) {
	h.mu.Lock()
	h.tasks++
	h.mu.Unlock()
}

func (h *recordingHub) BroadcastComplete(string, interface{}) {
	h.mu.Lock()
	h.completed = true
	h.mu.Unlock()
}

func (h *recordingHub) BroadcastError(_ string, code, _ string) {
	h.mu.Lock()
	h.errors = append(h.errors, code)
	h.mu.Unlock()
}

func storyTask(t *testing.T, jobID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(model.StoryJobPayload{
		JobID:  jobID,
		Script: model.Script{Title: "The Fox", Style: "watercolor", Story: []string{"a", "b", "c"}},
	})
	require.NoError(t, err)
	return asynq.NewTask("story:process", data)
}

func TestStoryWorker_Completes(t *testing.T) {
	jobs := &memJobs{job: model.Job{ID: "job-1", Status: model.StoryQueued}}
	runner := &fakeRunner{
		result: &model.PipelineResult{Segments: []string{"s0", "s2"}, Poster: "p.png"},
		events: []model.TaskEvent{
			{Kind: model.TaskSegment, Index: 2, Success: true, Finished: 1, Total: 2},
			{Kind: model.TaskSegment, Index: 0, Success: true, Finished: 2, Total: 2},
		},
	}
	hub := &recordingHub{}
	w := NewStoryWorker(jobs, runner, passthroughPublisher{}, hub, t.TempDir())

	require.NoError(t, w.ProcessTask(context.Background(), storyTask(t, "job-1")))

	require.NotNil(t, jobs.result)
	assert.Equal(t, []string{"s0", "s2"}, jobs.result.Segments)
	assert.Equal(t, 3, jobs.result.SegmentsTotal)
	assert.Equal(t, []int{5, 47, 90, 95}, jobs.progress)
	assert.Equal(t, 2, hub.tasks)
	assert.True(t, hub.completed)
}

func TestStoryWorker_AllSegmentsFailed(t *testing.T) {
	jobs := &memJobs{job: model.Job{ID: "job-1", Status: model.StoryQueued}}
	hub := &recordingHub{}
	w := NewStoryWorker(jobs, &fakeRunner{result: &model.PipelineResult{}}, passthroughPublisher{}, hub, t.TempDir())

	err := w.ProcessTask(context.Background(), storyTask(t, "job-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, model.StoryFailed, jobs.job.Status)
	assert.Equal(t, []string{"STORY_FAILED"}, hub.errors)
	assert.Nil(t, jobs.result)
}

func TestStoryWorker_SkipsCanceledJob(t *testing.T) {
	jobs := &memJobs{job: model.Job{ID: "job-1", Status: model.StoryCanceled}}
	runner := &fakeRunner{}
	w := NewStoryWorker(jobs, runner, passthroughPublisher{}, &recordingHub{}, t.TempDir())

	require.NoError(t, w.ProcessTask(context.Background(), storyTask(t, "job-1")))
	assert.Zero(t, runner.calls)
}

func TestStoryWorker_BadPayload(t *testing.T) {
	w := NewStoryWorker(&memJobs{}, &fakeRunner{}, passthroughPublisher{}, &recordingHub{}, t.TempDir())
	err := w.ProcessTask(context.Background(), asynq.NewTask("story:process", []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
