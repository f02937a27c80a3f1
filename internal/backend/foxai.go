package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/pkg/logger"
)

const (
	foxaiExpectedDuration = 180 * time.Second
	foxaiProgressCap      = 95.0
	foxaiDefaultStyle     = "pop"
)

var foxaiModels = map[string]string{
	"V3_5":       "chirp-v3-5",
	"V4":         "chirp-v4",
	"chirp-v3-5": "chirp-v3-5",
	"chirp-v4":   "chirp-v4",
}

// LyricWriter turns story text into song lyrics and a matching style.
type LyricWriter interface {
	WriteLyrics(ctx context.Context, story string) (style, lyrics string, err error)
}

// FoxAI is the fallback hosted backend. Lyrical requests have their lyrics
// written by an LLM before submission.
type FoxAI struct {
	cfg      config.FoxAIConfig
	tr       *transport
	writer   LyricWriter
	progress *elapsedProgress
	now      func() time.Time

	mu     sync.Mutex
	lyrics map[string]string
}

// NewFoxAI builds the adapter. writer may be nil, in which case the story
// text is submitted as the lyrics.
func NewFoxAI(cfg config.FoxAIConfig, tcfg TransportConfig, store StartTimes, writer LyricWriter) *FoxAI {
	f := &FoxAI{cfg: cfg, writer: writer, now: time.Now, lyrics: make(map[string]string)}
	f.tr = newTransport("FoxAI", tcfg, func(r *http.Request) {
		r.Header.Set("api-key", cfg.APIKey)
	})
	f.progress = newElapsedProgress(store, f.clock, foxaiExpectedDuration, foxaiProgressCap)
	return f
}

func (f *FoxAI) clock() time.Time { return f.now() }

func (f *FoxAI) Name() string { return "foxai" }

func (f *FoxAI) IsConfigured() bool {
	return f.cfg.APIKey != ""
}

func (f *FoxAI) logf(format string, args ...any) {
	logger.LegacyPrintf("backend.foxai", "[FoxAI] "+format, args...)
}

func (f *FoxAI) model() string {
	if m, ok := foxaiModels[f.cfg.Model]; ok {
		return m
	}
	if f.cfg.Model != "" {
		f.logf("invalid model %q, defaulting to chirp-v3-5", f.cfg.Model)
	}
	return "chirp-v3-5"
}

func (f *FoxAI) StartGeneration(ctx context.Context, req *model.GenerationRequest) (string, error) {
	if !f.IsConfigured() {
		return "", fmt.Errorf("%w: foxai api key is not set", ErrNotConfigured)
	}

	var (
		data   map[string]any
		lyrics string
	)
	if req.IsLyrical() && req.Lyrics != "" {
		var err error
		data, lyrics, err = f.lyricalPayload(ctx, req)
		if err != nil {
			return "", err
		}
	} else {
		data = f.instrumentalPayload(req)
	}

	body, err := f.tr.doJSON(ctx, http.MethodPost, f.cfg.BaseURL+"/gateway/generate", data)
	if err != nil {
		return "", err
	}

	res := gjson.ParseBytes(body)
	if code := res.Get("code").Int(); code != 0 {
		return "", fmt.Errorf("%w: api error %d: %s", ErrProtocol, code, res.Get("msg").String())
	}
	songID := res.Get("data.0.song_id").String()
	if songID == "" {
		return "", fmt.Errorf("%w: no song id in response", ErrProtocol)
	}

	if lyrics != "" {
		f.mu.Lock()
		f.lyrics[songID] = lyrics
		f.mu.Unlock()
	}
	f.progress.started(ctx, songID)
	f.logf("started generation song=%s", songID)
	return songID, nil
}

func (f *FoxAI) instrumentalPayload(req *model.GenerationRequest) map[string]any {
	duration := req.Duration
	if duration <= 0 {
		duration = DefaultInstrumentalDuration
	}
	prompt := fmt.Sprintf("Create a %d-second %s", duration, req.Prompt)
	if req.Title != "" {
		prompt = fmt.Sprintf("%s titled '%s'", prompt, req.Title)
	}
	return map[string]any{
		"prompt":            prompt,
		"make_instrumental": true,
		"model_version":     f.model(),
		"title":             orDefault(req.Title, "Generated Instrumental"),
		"tags":              orDefault(req.Tags, "instrumental"),
		"duration":          duration,
	}
}

func (f *FoxAI) lyricalPayload(ctx context.Context, req *model.GenerationRequest) (map[string]any, string, error) {
	style, lyrics := foxaiDefaultStyle, req.Lyrics
	if f.writer != nil {
		s, l, err := f.writer.WriteLyrics(ctx, req.Lyrics)
		if err != nil {
			return nil, "", fmt.Errorf("write lyrics: %w", err)
		}
		if s != "" {
			style = s
		}
		if l != "" {
			lyrics = l
		}
	}

	duration := req.Duration
	if duration <= 0 {
		duration = DefaultCreditsDuration
	}
	prompt := fmt.Sprintf("Create a %d-second %s song", duration, style)
	if req.Title != "" {
		prompt = fmt.Sprintf("%s titled '%s'", prompt, req.Title)
	}
	prompt = fmt.Sprintf("%s with these exact lyrics:\n%s", prompt, lyrics)

	return map[string]any{
		"prompt":            prompt,
		"make_instrumental": false,
		"model_version":     f.model(),
		"title":             orDefault(req.Title, "Generated Song"),
		"tags":              orDefault(req.Tags, style),
		"duration":          duration,
		"lyrics":            lyrics,
	}, lyrics, nil
}

// song returns the query entry for jobID.
func (f *FoxAI) song(ctx context.Context, jobID string) (gjson.Result, error) {
	body, err := f.tr.doJSON(ctx, http.MethodGet, f.cfg.BaseURL+"/gateway/query?ids="+url.QueryEscape(jobID), nil)
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.ParseBytes(body)
	if !res.IsArray() {
		return gjson.Result{}, fmt.Errorf("%w: invalid response format", ErrProtocol)
	}
	var song gjson.Result
	res.ForEach(func(_, item gjson.Result) bool {
		if item.Get("id").String() == jobID {
			song = item
			return false
		}
		return true
	})
	if !song.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: song %s not found", ErrProtocol, jobID)
	}
	return song, nil
}

func (f *FoxAI) CheckProgress(ctx context.Context, jobID string) (*model.JobProgress, error) {
	song, err := f.song(ctx, jobID)
	if err != nil {
		return nil, err
	}

	status := song.Get("status").String()
	switch status {
	case "complete":
		if song.Get("audio_url").String() == "" {
			return &model.JobProgress{Status: model.JobProcessing, Message: "Finalizing", Percent: f.progress.clamp(jobID, finalizingPercent)}, nil
		}
		return &model.JobProgress{Status: model.JobSucceeded, Message: "Complete", Percent: 100}, nil
	case "error":
		f.progress.forget(ctx, jobID)
		f.dropLyrics(jobID)
		msg := fmt.Sprintf("Error: %s - %s",
			orDefault(song.Get("meta_data.error_type").String(), "Unknown error"),
			song.Get("meta_data.error_message").String())
		return &model.JobProgress{Status: model.JobFailed, Message: msg}, nil
	}

	kind := "background_music.mp3"
	if strings.Contains(strings.ToLower(song.Get("meta_data.prompt").String()), "with lyrics") {
		kind = "closing_credits.mp3"
	}
	base, _ := f.progress.base(ctx, jobID)
	return &model.JobProgress{
		Status:  model.JobProcessing,
		Message: fmt.Sprintf("%s (%s)", status, kind),
		Percent: f.progress.clamp(jobID, base),
	}, nil
}

func (f *FoxAI) GetResult(ctx context.Context, jobID string) (*model.GenerationResult, error) {
	song, err := f.song(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if song.Get("status").String() != "complete" {
		return nil, fmt.Errorf("%w: status %s", ErrNotReady, song.Get("status").String())
	}
	audioURL := song.Get("audio_url").String()
	if audioURL == "" {
		return nil, fmt.Errorf("%w: no audio url", ErrNotReady)
	}

	path, err := f.tr.download(ctx, audioURL, f.cfg.AudioDir, artifactName("foxai", jobID, f.now(), ".mp3"))
	f.progress.forget(ctx, jobID)
	lyrics := f.dropLyrics(jobID)
	if err != nil {
		return nil, err
	}
	return &model.GenerationResult{AudioPath: path, Lyrics: lyrics, Success: true}, nil
}

func (f *FoxAI) dropLyrics(jobID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := f.lyrics[jobID]
	delete(f.lyrics, jobID)
	return l
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
