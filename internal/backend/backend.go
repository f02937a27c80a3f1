// Package backend adapts remote music generation providers to one job
// lifecycle: start a job, poll its progress, fetch its artifact.
package backend

import (
	"context"
	"errors"

	"github.com/makeasinger/studio/internal/model"
)

// Backend is implemented once per generation provider. Implementations own
// their transport and auth retry policy; callers only see clean errors.
type Backend interface {
	// Name identifies the backend in logs.
	Name() string
	// StartGeneration submits req and returns without waiting for the job.
	StartGeneration(ctx context.Context, req *model.GenerationRequest) (string, error)
	// CheckProgress reads the most recent known state of jobID. Safe to
	// call any number of times.
	CheckProgress(ctx context.Context, jobID string) (*model.JobProgress, error)
	// GetResult fetches the artifact of a succeeded job. A download
	// failure here is reported as ErrDownloadFailed.
	GetResult(ctx context.Context, jobID string) (*model.GenerationResult, error)
}

var (
	// ErrJobFailed means the remote job reached a failed terminal state.
	ErrJobFailed = errors.New("generation job failed")
	// ErrTimedOut means the job did not finish within the poll timeout.
	ErrTimedOut = errors.New("generation job timed out")
	// ErrDownloadFailed means generation succeeded but the artifact could
	// not be retrieved.
	ErrDownloadFailed = errors.New("artifact download failed")
	// ErrNotReady means GetResult was called before the job succeeded.
	ErrNotReady = errors.New("generation result not ready")

	ErrAuth                = errors.New("backend authentication failed")
	ErrTransport           = errors.New("backend transport error")
	ErrProtocol            = errors.New("unexpected backend response")
	ErrInsufficientCredits = errors.New("backend credits are insufficient")
	ErrInvalidRequest      = errors.New("invalid generation request")
	ErrUnknownJob          = errors.New("unknown generation job")
	ErrNotConfigured       = errors.New("backend is not configured")
)
