package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/auth"
	"github.com/makeasinger/studio/internal/middleware"
	"github.com/makeasinger/studio/internal/model"
	"github.com/makeasinger/studio/internal/service"
	"github.com/makeasinger/studio/pkg/response"
)

const testSecret = "test-secret"

type fakeJobs struct {
	startErr  error
	jobErr    error
	startedBy string
	started   *model.StoryStartRequest
}

func (f *fakeJobs) StartStory(_ context.Context, userID string, req *model.StoryStartRequest) (*model.StoryStartResponse, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.startedBy = userID
	f.started = req
	return &model.StoryStartResponse{JobID: "job-1", Status: model.StoryQueued, Segments: len(req.Script.Story)}, nil
}

func (f *fakeJobs) GetStatus(_ context.Context, jobID string) (*model.StoryStatusResponse, error) {
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	return &model.StoryStatusResponse{JobID: jobID, Status: model.StoryRunning, Progress: 40}, nil
}

func (f *fakeJobs) GetResult(_ context.Context, jobID string) (*model.StoryResult, error) {
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	return &model.StoryResult{JobID: jobID, Segments: []string{"a.mp4"}, SegmentsTotal: 1}, nil
}

func (f *fakeJobs) CancelStory(_ context.Context, jobID string) (*model.StoryCancelResponse, error) {
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	return &model.StoryCancelResponse{Success: true, JobID: jobID, Status: model.StoryCanceled}, nil
}

func setupApp(t *testing.T, jobs StoryJobs) (*fiber.App, string) {
	t.Helper()

	verifier := auth.NewHMACVerifier(testSecret)
	token, err := verifier.Issue("user-1", "user@example.com", time.Hour)
	require.NoError(t, err)

	h := NewStoryHandler(jobs, validator.New())
	app := fiber.New()
	app.Get("/auth/verify", NewAuthHandler(verifier).Verify)

	stories := app.Group("/api/stories", middleware.Authenticate(verifier))
	stories.Post("/", h.Start)
	stories.Get("/:jobId/status", h.Status)
	stories.Get("/:jobId/result", h.Result)
	stories.Post("/:jobId/cancel", h.Cancel)
	return app, token
}

func doRequest(t *testing.T, app *fiber.App, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func parseJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body response.ErrorResponse
	parseJSON(t, resp, &body)
	return body.Error.Code
}

func validScript() map[string]interface{} {
	return map[string]interface{}{
		"script": map[string]interface{}{
			"title": "The Fox",
			"style": "watercolor",
			"story": []string{"A fox wakes.", "It runs."},
		},
	}
}

func TestStart_Accepted(t *testing.T) {
	jobs := &fakeJobs{}
	app, token := setupApp(t, jobs)

	resp := doRequest(t, app, http.MethodPost, "/api/stories", token, validScript())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body model.StoryStartResponse
	parseJSON(t, resp, &body)
	assert.Equal(t, "job-1", body.JobID)
	assert.Equal(t, 2, body.Segments)
	assert.Equal(t, "user-1", jobs.startedBy)
	assert.Equal(t, "The Fox", jobs.started.Script.Title)
}

func TestStart_RequiresToken(t *testing.T) {
	app, _ := setupApp(t, &fakeJobs{})

	resp := doRequest(t, app, http.MethodPost, "/api/stories", "", validScript())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, response.CodeUnauthorized, errorCode(t, resp))
}

func TestStart_ValidationFailures(t *testing.T) {
	app, token := setupApp(t, &fakeJobs{})

	tests := []struct {
		name string
		body interface{}
	}{
		{"empty story", map[string]interface{}{"script": map[string]interface{}{"style": "noir", "story": []string{}}}},
		{"missing style", map[string]interface{}{"script": map[string]interface{}{"story": []string{"x"}}}},
		{"bad caption style", map[string]interface{}{"script": map[string]interface{}{"style": "noir", "story": []string{"x"}, "captionStyle": "wobbly"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doRequest(t, app, http.MethodPost, "/api/stories", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, response.CodeValidationError, errorCode(t, resp))
		})
	}
}

func TestStart_BadMusicSource(t *testing.T) {
	app, token := setupApp(t, &fakeJobs{startErr: service.ErrMusicSourceAmbiguous})

	resp := doRequest(t, app, http.MethodPost, "/api/stories", token, validScript())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusAndResult(t *testing.T) {
	app, token := setupApp(t, &fakeJobs{})

	resp := doRequest(t, app, http.MethodGet, "/api/stories/job-9/status", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status model.StoryStatusResponse
	parseJSON(t, resp, &status)
	assert.Equal(t, "job-9", status.JobID)
	assert.Equal(t, 40, status.Progress)

	resp = doRequest(t, app, http.MethodGet, "/api/stories/job-9/result", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result model.StoryResult
	parseJSON(t, resp, &result)
	assert.Equal(t, []string{"a.mp4"}, result.Segments)
}

func TestJobErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		method string
		path   string
		status int
		code   string
	}{
		{"not found", service.ErrJobNotFound, http.MethodGet, "/api/stories/x/status", http.StatusNotFound, response.CodeNotFound},
		{"not ready", service.ErrJobNotCompleted, http.MethodGet, "/api/stories/x/result", http.StatusConflict, response.CodeNotReady},
		{"finished", service.ErrJobAlreadyFinished, http.MethodPost, "/api/stories/x/cancel", http.StatusConflict, response.CodeConflict},
		{"redis down", errors.New("connection refused"), http.MethodGet, "/api/stories/x/status", http.StatusInternalServerError, response.CodeServiceError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, token := setupApp(t, &fakeJobs{jobErr: tt.err})
			resp := doRequest(t, app, tt.method, tt.path, token, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.code, errorCode(t, resp))
		})
	}
}

func TestCancel(t *testing.T) {
	app, token := setupApp(t, &fakeJobs{})

	resp := doRequest(t, app, http.MethodPost, "/api/stories/job-3/cancel", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body model.StoryCancelResponse
	parseJSON(t, resp, &body)
	assert.True(t, body.Success)
	assert.Equal(t, model.StoryCanceled, body.Status)
}

func TestAuthVerify_SetsIdentityHeaders(t *testing.T) {
	app, token := setupApp(t, &fakeJobs{})

	resp := doRequest(t, app, http.MethodGet, "/auth/verify", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "user-1", resp.Header.Get("X-User-Id"))
	assert.Equal(t, "user@example.com", resp.Header.Get("X-User-Email"))

	resp = doRequest(t, app, http.MethodGet, "/auth/verify", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	app.Get("/health", Health(map[string]Pinger{
		"redis": func(context.Context) error { return nil },
		"media": func(context.Context) error { return errors.New("unreachable") },
	}))

	resp := doRequest(t, app, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var body struct {
		Status       string            `json:"status"`
		Dependencies map[string]string `json:"dependencies"`
	}
	parseJSON(t, resp, &body)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Dependencies["redis"])
}
