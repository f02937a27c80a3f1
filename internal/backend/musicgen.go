package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/pkg/logger"
)

const (
	// musicgenClipSeconds is the longest clip generated in one pass; longer
	// requests are looped by the sidecar.
	musicgenClipSeconds          = 25
	musicgenTokensPerSecondAudio = 50
	musicgenTokensPerSecondRate  = 8
	musicgenProgressCap          = 95.0

	// musicgenJobTTL bounds how long an entry nobody collects stays in the
	// job table, e.g. after its poll timed out.
	musicgenJobTTL = time.Hour
)

// musicgenJob is one in-process generation tracked by the job table.
type musicgenJob struct {
	status     model.JobStatus
	message    string
	percent    float64
	path       string
	err        error
	genStarted time.Time
	created    time.Time
	clip       int
}

// MusicGen drives a local MusicGen inference sidecar. Generation runs in one
// goroutine per job; the model is loaded on first use exactly once.
type MusicGen struct {
	cfg config.MusicGenConfig
	tr  *transport
	now func() time.Time

	loadMu sync.Mutex
	loaded bool
	load   singleflight.Group

	mu   sync.Mutex
	jobs map[string]*musicgenJob
	wg   sync.WaitGroup
}

func NewMusicGen(cfg config.MusicGenConfig, tcfg TransportConfig) *MusicGen {
	return &MusicGen{
		cfg:  cfg,
		tr:   newTransport("MusicGen", tcfg, nil),
		now:  time.Now,
		jobs: make(map[string]*musicgenJob),
	}
}

func (m *MusicGen) Name() string { return "musicgen" }

func (m *MusicGen) log() *zap.Logger {
	return logger.L().With(zap.String("component", "backend.musicgen"))
}

// ensureLoaded loads the model in the sidecar. Concurrent first callers
// share one load; a failed load is retried by the next caller.
func (m *MusicGen) ensureLoaded(ctx context.Context) error {
	m.loadMu.Lock()
	loaded := m.loaded
	m.loadMu.Unlock()
	if loaded {
		return nil
	}

	_, err, _ := m.load.Do("model", func() (any, error) {
		m.loadMu.Lock()
		if m.loaded {
			m.loadMu.Unlock()
			return nil, nil
		}
		m.loadMu.Unlock()

		m.log().Info("musicgen.model_loading", zap.String("model", m.cfg.Model))
		if _, err := m.tr.doJSON(ctx, http.MethodPost, m.cfg.ServiceURL+"/models/load", map[string]string{"model": m.cfg.Model}); err != nil {
			return nil, fmt.Errorf("load model %s: %w", m.cfg.Model, err)
		}

		m.loadMu.Lock()
		m.loaded = true
		m.loadMu.Unlock()
		m.log().Info("musicgen.model_loaded", zap.String("model", m.cfg.Model))
		return nil, nil
	})
	return err
}

func (m *MusicGen) StartGeneration(ctx context.Context, req *model.GenerationRequest) (string, error) {
	if req.Prompt == "" {
		return "", fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}

	duration := req.Duration
	if duration <= 0 {
		duration = DefaultInstrumentalDuration
	}
	jobID := fmt.Sprintf("musicgen_%s_%s", m.now().Format("20060102_150405"), uuid.NewString()[:8])

	now := m.now()
	m.mu.Lock()
	m.sweepLocked(now)
	m.jobs[jobID] = &musicgenJob{status: model.JobPending, message: "Starting", created: now, clip: min(musicgenClipSeconds, duration)}
	m.mu.Unlock()

	prompt := req.Prompt
	bg := context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.generate(bg, jobID, prompt, duration)
	}()

	return jobID, nil
}

// sweepLocked drops entries older than musicgenJobTTL. m.mu must be held.
func (m *MusicGen) sweepLocked(now time.Time) {
	for id, j := range m.jobs {
		if now.Sub(j.created) > musicgenJobTTL {
			delete(m.jobs, id)
			m.log().Warn("musicgen.job_expired", zap.String("job_id", id), zap.String("status", string(j.status)))
		}
	}
}

func (m *MusicGen) update(jobID string, fn func(j *musicgenJob)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		fn(j)
	}
}

func (m *MusicGen) generate(ctx context.Context, jobID, prompt string, duration int) {
	fail := func(err error) {
		m.log().Warn("musicgen.generation_failed", zap.String("job_id", jobID), zap.Error(err))
		m.update(jobID, func(j *musicgenJob) {
			j.status, j.message, j.percent, j.err = model.JobFailed, "Failed", 0, err
		})
	}

	m.update(jobID, func(j *musicgenJob) { j.status, j.message = model.JobProcessing, "Loading model" })
	if err := m.ensureLoaded(ctx); err != nil {
		fail(err)
		return
	}

	m.update(jobID, func(j *musicgenJob) {
		j.message, j.percent, j.genStarted = "Generating audio", 20, m.now()
	})

	payload, err := json.Marshal(map[string]any{
		"model":          m.cfg.Model,
		"prompt":         prompt,
		"duration":       duration,
		"clip_duration":  min(musicgenClipSeconds, duration),
		"max_new_tokens": min(musicgenClipSeconds, duration) * musicgenTokensPerSecondAudio,
	})
	if err != nil {
		fail(err)
		return
	}

	resp, err := m.tr.send(ctx, http.MethodPost, m.cfg.ServiceURL+"/generate", payload)
	if err != nil {
		fail(err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fail(fmt.Errorf("%w: generate returned HTTP %d", ErrProtocol, resp.StatusCode))
		return
	}

	m.update(jobID, func(j *musicgenJob) { j.message, j.percent = "Saving audio", 98 })
	path, err := m.tr.saveBody(resp, m.cfg.AudioDir, artifactName("musicgen", jobID, m.now(), ".wav"))
	if err != nil {
		fail(err)
		return
	}

	m.update(jobID, func(j *musicgenJob) {
		j.status, j.message, j.percent, j.path = model.JobSucceeded, "Complete", 100, path
	})
}

func (m *MusicGen) CheckProgress(_ context.Context, jobID string) (*model.JobProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}

	// a failed job is terminal and never reaches GetResult
	if j.status == model.JobFailed {
		delete(m.jobs, jobID)
		msg := j.message
		if j.err != nil {
			msg = j.err.Error()
		}
		return &model.JobProgress{Status: model.JobFailed, Message: msg}, nil
	}

	percent := j.percent
	if j.status == model.JobProcessing && !j.genStarted.IsZero() && j.percent < 98 {
		total := float64(j.clip * musicgenTokensPerSecondAudio)
		tokens := min(total, m.now().Sub(j.genStarted).Seconds()*musicgenTokensPerSecondRate)
		if estimated := min(musicgenProgressCap, tokens/total*100); estimated > percent {
			percent = estimated
			j.percent = estimated
		}
	}
	return &model.JobProgress{Status: j.status, Message: j.message, Percent: percent}, nil
}

func (m *MusicGen) GetResult(_ context.Context, jobID string) (*model.GenerationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if j.err != nil {
		delete(m.jobs, jobID)
		return nil, fmt.Errorf("%w: %v", ErrJobFailed, j.err)
	}
	if j.status != model.JobSucceeded {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, j.status)
	}
	delete(m.jobs, jobID)
	return &model.GenerationResult{AudioPath: j.path, Success: true}, nil
}

// Wait blocks until every generation goroutine has returned.
func (m *MusicGen) Wait() {
	m.wg.Wait()
}
