package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/backend"
	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/pkg/logger"
	"github.com/makeasinger/studio/internal/pkg/retry"
)

// DefaultMaxRetries is the number of primary attempts before falling back.
const DefaultMaxRetries = 5

var errNoArtifact = errors.New("backend returned no artifact")

// MusicGenerator drives a primary backend with bounded retries and a single
// fallback attempt. It never returns an error; failure is a result with
// Success false.
type MusicGenerator struct {
	primary  backend.Backend
	fallback backend.Backend
	poller   *backend.Poller

	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	sleep    func(context.Context, time.Duration) error
	jitter   func() float64
	copyFile func(src, dst string) error
	now      func() time.Time
}

// NewMusicGenerator wraps set with the retry policy from cfg.
func NewMusicGenerator(set *backend.Set, cfg config.MusicConfig) *MusicGenerator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Minute
	}
	g := &MusicGenerator{
		primary:    set.Primary,
		fallback:   set.Fallback,
		poller:     backend.NewPoller(cfg.PollInterval, cfg.PollTimeout),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
		sleep:      retry.Sleep,
		jitter:     retry.Jitter,
		copyFile:   copyFile,
		now:        time.Now,
	}
	if g.maxRetries <= 0 {
		g.maxRetries = DefaultMaxRetries
	}
	if g.baseDelay <= 0 {
		g.baseDelay = time.Second
	}
	if g.maxDelay <= 0 {
		g.maxDelay = 5 * time.Second
	}
	return g
}

func (g *MusicGenerator) log() *zap.Logger {
	return logger.L().With(zap.String("component", "service.music_generator"))
}

// Generate produces audio for req. When outputPath is set the artifact is
// copied there; if the copy fails the original artifact path is returned.
func (g *MusicGenerator) Generate(ctx context.Context, req *model.GenerationRequest, outputPath string) *model.GenerationResult {
	log := g.log().With(zap.String("mode", string(req.Mode)), zap.String("primary", g.primary.Name()))

	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retry.Delay(attempt, g.baseDelay, g.maxDelay, g.jitter())
			log.Info("music.retry_scheduled",
				zap.Int("attempt", attempt+1),
				zap.Int("max_retries", g.maxRetries),
				zap.Duration("delay", delay),
			)
			if err := g.sleep(ctx, delay); err != nil {
				log.Warn("music.retry_aborted", zap.Error(err))
				return model.FailedResult()
			}
		}

		res, err := g.attempt(ctx, g.primary, req)
		if err == nil {
			return g.finish(res, req, outputPath)
		}
		log.Warn("music.attempt_failed", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	if g.fallback == nil {
		log.Error("music.generation_failed", zap.Int("attempts", g.maxRetries))
		return model.FailedResult()
	}

	// Lyrical requests never fall back: the fallback consumes lyrics
	// differently from the primary.
	if req.IsLyrical() {
		log.Error("music.generation_failed", zap.Int("attempts", g.maxRetries), zap.String("fallback", "skipped for lyrical request"))
		return model.FailedResult()
	}

	log.Info("music.fallback_attempt", zap.String("fallback", g.fallback.Name()))
	res, err := g.attempt(ctx, g.fallback, req)
	if err != nil {
		log.Error("music.fallback_failed", zap.String("fallback", g.fallback.Name()), zap.Error(err))
		return model.FailedResult()
	}
	return g.finish(res, req, outputPath)
}

// attempt runs one start-and-wait cycle. Any failure, including a panic in
// the backend, is returned as an error.
func (g *MusicGenerator) attempt(ctx context.Context, b backend.Backend, req *model.GenerationRequest) (res *model.GenerationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("backend %s panicked: %v", b.Name(), r)
		}
	}()

	jobID, err := b.StartGeneration(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("start generation: %w", err)
	}
	if jobID == "" {
		return nil, fmt.Errorf("start generation: %w", errNoArtifact)
	}
	job := model.GenerationJob{ID: jobID, Backend: b.Name(), CreatedAt: g.now()}

	res, err = g.poller.Wait(ctx, b, job.ID)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	if res == nil || !res.Success || res.AudioPath == "" {
		return nil, fmt.Errorf("job %s: %w", job.ID, errNoArtifact)
	}

	g.log().Info("music.job_completed",
		zap.String("backend", job.Backend),
		zap.String("job_id", job.ID),
		zap.Duration("took", g.now().Sub(job.CreatedAt)),
	)
	return res, nil
}

func (g *MusicGenerator) finish(res *model.GenerationResult, req *model.GenerationRequest, outputPath string) *model.GenerationResult {
	out := *res
	out.Success = true
	if req.IsLyrical() && out.Lyrics == "" {
		out.Lyrics = req.Lyrics
	}

	if outputPath == "" {
		return &out
	}
	outputPath = matchExt(outputPath, out.AudioPath)
	if outputPath == out.AudioPath {
		return &out
	}
	if err := g.copyFile(out.AudioPath, outputPath); err != nil {
		g.log().Warn("music.copy_failed",
			zap.String("src", out.AudioPath),
			zap.String("dst", outputPath),
			zap.Error(err),
		)
		return &out
	}
	out.AudioPath = outputPath
	return &out
}

// matchExt gives dst the extension of the artifact at src, so a WAV
// artifact is never stored under an .mp3 name.
func matchExt(dst, src string) string {
	ext := filepath.Ext(src)
	if ext == "" || strings.EqualFold(ext, filepath.Ext(dst)) {
		return dst
	}
	return strings.TrimSuffix(dst, filepath.Ext(dst)) + ext
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
