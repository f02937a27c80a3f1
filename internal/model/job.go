package model

import (
	"encoding/json"
	"time"
)

// StoryStatus is the lifecycle state of a queued story job.
type StoryStatus string

const (
	StoryQueued    StoryStatus = "queued"
	StoryRunning   StoryStatus = "running"
	StorySucceeded StoryStatus = "succeeded"
	StoryFailed    StoryStatus = "failed"
	StoryCanceled  StoryStatus = "canceled"
)

// IsFinished reports whether the job can no longer change state.
func (s StoryStatus) IsFinished() bool {
	return s == StorySucceeded || s == StoryFailed || s == StoryCanceled
}

// Job is a story job record stored in Redis.
type Job struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId,omitempty"`
	Status      StoryStatus     `json:"status"`
	Progress    int             `json:"progress"`
	CurrentStep string          `json:"currentStep,omitempty"`
	Error       *string         `json:"error,omitempty"`
	Script      json.RawMessage `json:"script,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// StoryStartRequest is the body of POST /api/stories.
type StoryStartRequest struct {
	Script Script `json:"script" validate:"required"`
}

type StoryStartResponse struct {
	JobID     string      `json:"jobId"`
	Status    StoryStatus `json:"status"`
	Segments  int         `json:"segments"`
	CreatedAt time.Time   `json:"createdAt"`
}

type StoryStatusResponse struct {
	JobID       string      `json:"jobId"`
	Status      StoryStatus `json:"status"`
	Progress    int         `json:"progress"`
	CurrentStep string      `json:"currentStep,omitempty"`
	Error       *string     `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// StoryResult is the stored outcome of a successful story job. Artifact
// locations are public URLs when publishing is on, local paths otherwise.
type StoryResult struct {
	JobID           string    `json:"jobId"`
	Segments        []string  `json:"segments"`
	SegmentsTotal   int       `json:"segmentsTotal"`
	BackgroundMusic string    `json:"backgroundMusic,omitempty"`
	ClosingCredits  string    `json:"closingCredits,omitempty"`
	ClosingLyrics   string    `json:"closingLyrics,omitempty"`
	Poster          string    `json:"poster,omitempty"`
	CompletedAt     time.Time `json:"completedAt"`
}

type StoryCancelResponse struct {
	Success bool        `json:"success"`
	JobID   string      `json:"jobId"`
	Status  StoryStatus `json:"status"`
}

// StoryJobPayload is the asynq task payload.
type StoryJobPayload struct {
	JobID  string `json:"jobId"`
	Script Script `json:"script"`
}
