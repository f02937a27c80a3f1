package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/pkg/logger"
)

const (
	sunoExpectedDuration = 120 * time.Second
	sunoProgressCap      = 99.0

	// DefaultCreditsDuration is the lyrical track length when none is requested.
	DefaultCreditsDuration = 60
	// DefaultInstrumentalDuration is the instrumental length when none is requested.
	DefaultInstrumentalDuration = 30

	sunoCallbackURL = "https://example.com/callback"
)

var sunoModels = map[string]bool{"V3_5": true, "V4": true}

// SunoAPI is the primary hosted backend. It speaks the task based
// generate/record-info API and synthesizes progress from elapsed time.
type SunoAPI struct {
	cfg      config.SunoConfig
	tr       *transport
	progress *elapsedProgress
	now      func() time.Time
}

// NewSunoAPI builds the adapter. store records job start times.
func NewSunoAPI(cfg config.SunoConfig, tcfg TransportConfig, store StartTimes) *SunoAPI {
	s := &SunoAPI{cfg: cfg, now: time.Now}
	s.tr = newTransport("Suno API", tcfg, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	})
	s.progress = newElapsedProgress(store, s.clock, sunoExpectedDuration, sunoProgressCap)
	return s
}

func (s *SunoAPI) clock() time.Time { return s.now() }

func (s *SunoAPI) Name() string { return "suno" }

// IsConfigured returns true if the client has valid configuration
func (s *SunoAPI) IsConfigured() bool {
	return s.cfg.APIKey != ""
}

func (s *SunoAPI) logf(format string, args ...any) {
	logger.LegacyPrintf("backend.suno", "[Suno API] "+format, args...)
}

func (s *SunoAPI) model() string {
	if sunoModels[s.cfg.Model] {
		return s.cfg.Model
	}
	if s.cfg.Model != "" {
		s.logf("invalid model %q, defaulting to V3_5", s.cfg.Model)
	}
	return "V3_5"
}

// sunoPayload builds the generate request body.
func (s *SunoAPI) sunoPayload(req *model.GenerationRequest) (map[string]any, error) {
	duration := req.Duration
	if duration <= 0 {
		duration = DefaultInstrumentalDuration
		if req.IsLyrical() {
			duration = DefaultCreditsDuration
		}
	}

	prompt := fmt.Sprintf("Create a %d-second %s", duration, req.Prompt)
	if req.Title != "" {
		prompt = fmt.Sprintf("%s titled '%s'", prompt, req.Title)
	}

	custom := req.Title != "" || req.Tags != ""
	if custom {
		switch {
		case req.Title == "":
			return nil, fmt.Errorf("%w: title is required in custom mode", ErrInvalidRequest)
		case req.Tags == "":
			return nil, fmt.Errorf("%w: style tags are required in custom mode", ErrInvalidRequest)
		case !req.IsLyrical() && req.Prompt == "":
			return nil, fmt.Errorf("%w: prompt is required in custom mode for instrumental", ErrInvalidRequest)
		}
	}

	data := map[string]any{
		"customMode":  custom,
		"callBackUrl": sunoCallbackURL,
		"model":       s.model(),
	}
	if req.IsLyrical() && req.Lyrics != "" {
		data["prompt"] = clip(prompt, 3000)
		data["lyrics"] = clip(req.Lyrics, 3000)
		data["instrumental"] = false
	} else {
		limit := 400
		if custom {
			limit = 3000
		}
		data["prompt"] = clip(prompt, limit)
		data["instrumental"] = true
	}
	if custom {
		data["style"] = clip(req.Tags, 200)
		data["title"] = clip(req.Title, 80)
	}
	return data, nil
}

func (s *SunoAPI) StartGeneration(ctx context.Context, req *model.GenerationRequest) (string, error) {
	if !s.IsConfigured() {
		return "", fmt.Errorf("%w: suno api key is not set", ErrNotConfigured)
	}

	data, err := s.sunoPayload(req)
	if err != nil {
		return "", err
	}

	body, err := s.tr.doJSON(ctx, http.MethodPost, s.cfg.BaseURL+"/generate", data)
	if err != nil {
		return "", err
	}

	code := gjson.GetBytes(body, "code").Int()
	msg := gjson.GetBytes(body, "msg").String()
	if code == 429 && strings.Contains(strings.ToLower(msg), "credits are insufficient") {
		s.logf("insufficient credits: %s", msg)
		return "", fmt.Errorf("%w: %s", ErrInsufficientCredits, msg)
	}
	if code != 200 {
		return "", fmt.Errorf("%w: api error %d: %s", ErrProtocol, code, msg)
	}

	jobID := gjson.GetBytes(body, "data.taskId").String()
	if jobID == "" {
		return "", fmt.Errorf("%w: no task id in response", ErrProtocol)
	}

	s.progress.started(ctx, jobID)
	s.logf("started generation task=%s", jobID)
	return jobID, nil
}

func (s *SunoAPI) recordInfo(ctx context.Context, jobID string) (gjson.Result, error) {
	endpoint := s.cfg.BaseURL + "/generate/record-info?taskId=" + url.QueryEscape(jobID)
	body, err := s.tr.doJSON(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.ParseBytes(body)
	if code := res.Get("code").Int(); code != 200 {
		return gjson.Result{}, fmt.Errorf("%w: api error %d: %s", ErrProtocol, code, res.Get("msg").String())
	}
	return res.Get("data"), nil
}

func (s *SunoAPI) CheckProgress(ctx context.Context, jobID string) (*model.JobProgress, error) {
	data, err := s.recordInfo(ctx, jobID)
	if err != nil {
		return nil, err
	}

	status := strings.ToUpper(data.Get("status").String())
	title := gjson.Get(data.Get("param").String(), "title").String()
	if title == "" {
		title = "Untitled"
	}

	base, elapsed := s.progress.base(ctx, jobID)
	ts := s.progress.timeStatus(elapsed)

	p := &model.JobProgress{Status: model.JobProcessing}
	switch status {
	case "PENDING":
		p.Status = model.JobPending
		p.Message = fmt.Sprintf("%s - Initializing %s", title, ts)
		p.Percent = min(20.0, base)
	case "TEXT_SUCCESS":
		p.Message = fmt.Sprintf("%s - Processing lyrics %s", title, ts)
		p.Percent = min(sunoProgressCap, base+20)
	case "PROCESSING":
		p.Message = fmt.Sprintf("%s - Processing %s", title, ts)
		p.Percent = base
	case "SUCCESS", "FIRST_SUCCESS":
		if data.Get("response.sunoData.0.streamAudioUrl").String() != "" {
			return &model.JobProgress{Status: model.JobSucceeded, Message: "complete", Percent: 100}, nil
		}
		p.Message = fmt.Sprintf("%s - Finalizing %s", title, ts)
		p.Percent = finalizingPercent
	case "CREATE_TASK_FAILED", "GENERATE_AUDIO_FAILED", "CALLBACK_EXCEPTION", "SENSITIVE_WORD_ERROR":
		s.progress.forget(ctx, jobID)
		return &model.JobProgress{Status: model.JobFailed, Message: fmt.Sprintf("%s - Error: %s", title, sunoFailureText(status))}, nil
	default:
		s.logf("unexpected status %q for task=%s", status, jobID)
		p.Message = fmt.Sprintf("%s - %s %s", title, strings.ToLower(status), ts)
		p.Percent = base
	}

	p.Percent = s.progress.clamp(jobID, p.Percent)
	return p, nil
}

func sunoFailureText(status string) string {
	switch status {
	case "CREATE_TASK_FAILED":
		return "Task creation failed"
	case "GENERATE_AUDIO_FAILED":
		return "Audio generation failed"
	case "CALLBACK_EXCEPTION":
		return "Callback failed"
	default:
		return "Contains sensitive words"
	}
}

func (s *SunoAPI) GetResult(ctx context.Context, jobID string) (*model.GenerationResult, error) {
	data, err := s.recordInfo(ctx, jobID)
	if err != nil {
		return nil, err
	}

	status := strings.ToUpper(data.Get("status").String())
	if status != "SUCCESS" && status != "FIRST_SUCCESS" {
		return nil, fmt.Errorf("%w: status %s", ErrNotReady, status)
	}
	audioURL := data.Get("response.sunoData.0.streamAudioUrl").String()
	if audioURL == "" {
		return nil, fmt.Errorf("%w: no stream audio url", ErrNotReady)
	}

	path, err := s.tr.download(ctx, audioURL, s.cfg.AudioDir, artifactName("suno", jobID, s.now(), ".mp3"))
	s.progress.forget(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.GenerationResult{
		AudioPath: path,
		Lyrics:    gjson.Get(data.Get("param").String(), "lyrics").String(),
		Success:   true,
	}, nil
}

// clip truncates s to at most n runes.
func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
