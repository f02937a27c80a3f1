package service

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/pkg/logger"
)

// Publisher turns a pipeline result into a stored story result. With a
// storage client every artifact is uploaded and referenced by URL;
// without one the local paths are kept.
type Publisher struct {
	storage client.StorageClient
	now     func() time.Time
}

// NewPublisher creates a publisher. storage may be nil.
func NewPublisher(storage client.StorageClient) *Publisher {
	return &Publisher{storage: storage, now: time.Now}
}

// Publish stores the artifacts of res for jobID. A failed upload removes
// everything already uploaded for the job.
func (p *Publisher) Publish(ctx context.Context, jobID string, total int, res *model.PipelineResult) (*model.StoryResult, error) {
	out := &model.StoryResult{
		JobID:           jobID,
		Segments:        append([]string(nil), res.Segments...),
		SegmentsTotal:   total,
		BackgroundMusic: res.BackgroundMusic,
		ClosingCredits:  res.ClosingCredits,
		ClosingLyrics:   res.ClosingLyrics,
		Poster:          res.Poster,
		CompletedAt:     p.now(),
	}
	if p.storage == nil {
		return out, nil
	}

	var uploaded []string
	upload := func(local string) (string, error) {
		if local == "" {
			return "", nil
		}
		key := path.Join("stories", jobID, filepath.Base(local))
		url, err := p.uploadFile(ctx, key, local)
		if err != nil {
			return "", err
		}
		uploaded = append(uploaded, key)
		return url, nil
	}

	var err error
	for i, seg := range out.Segments {
		if out.Segments[i], err = upload(seg); err != nil {
			return nil, p.rollback(ctx, uploaded, err)
		}
	}
	for _, field := range []*string{&out.BackgroundMusic, &out.ClosingCredits, &out.Poster} {
		if *field, err = upload(*field); err != nil {
			return nil, p.rollback(ctx, uploaded, err)
		}
	}
	return out, nil
}

func (p *Publisher) uploadFile(ctx context.Context, key, local string) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(local); err == nil {
		contentType = mt.String()
	}
	return p.storage.Upload(ctx, key, f, contentType)
}

func (p *Publisher) rollback(ctx context.Context, keys []string, cause error) error {
	for _, key := range keys {
		if err := p.storage.Delete(ctx, key); err != nil {
			logger.L().Warn("publish.rollback_failed", zap.String("key", key), zap.Error(err))
		}
	}
	return fmt.Errorf("publish artifacts: %w", cause)
}
