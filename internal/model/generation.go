package model

import "time"

// GenerationMode selects between instrumental and lyrical generation.
type GenerationMode string

const (
	ModeInstrumental GenerationMode = "instrumental"
	ModeLyrical      GenerationMode = "lyrical"
)

// JobStatus is the lifecycle state of a remote generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// IsTerminal reports whether polling can stop.
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// GenerationRequest is what a backend is asked to produce. It is treated as
// immutable once submitted; retries and the fallback reuse the same value.
type GenerationRequest struct {
	Prompt   string         `json:"prompt"`
	Title    string         `json:"title,omitempty"`
	Tags     string         `json:"tags,omitempty"`
	Duration int            `json:"duration,omitempty"` // seconds, 0 lets the backend decide
	Lyrics   string         `json:"lyrics,omitempty"`   // story text for lyrical requests
	Mode     GenerationMode `json:"mode"`
}

// IsLyrical reports whether the request asks for sung lyrics.
func (r *GenerationRequest) IsLyrical() bool {
	return r.Mode == ModeLyrical
}

// GenerationJob tracks one accepted submission until it reaches a terminal result.
type GenerationJob struct {
	ID        string
	Backend   string
	CreatedAt time.Time
}

// JobProgress is a single progress reading for a job.
type JobProgress struct {
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
	Percent float64   `json:"percent"` // 0..100
}

// GenerationResult is the outcome of a generation. AudioPath is empty and
// Success false when nothing was produced.
type GenerationResult struct {
	AudioPath string `json:"audioPath,omitempty"`
	Lyrics    string `json:"lyrics,omitempty"`
	Success   bool   `json:"success"`
}

// FailedResult is the shared empty failure value.
func FailedResult() *GenerationResult {
	return &GenerationResult{}
}
