package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
)

func TestGroqClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer groq-key", r.Header.Get("Authorization"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		var req ChatCompletionRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama", req.Model)
		assert.Len(t, req.Messages, 2)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"ok\":true}"}}]}`))
	}))
	defer srv.Close()

	c := NewGroqClient(&config.GroqConfig{APIKey: "groq-key", BaseURL: srv.URL, Model: "llama"})
	c.sleep = func(context.Context, time.Duration) error { return nil }

	out, err := c.ChatCompletion(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGroqClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewGroqClient(&config.GroqConfig{APIKey: "k", BaseURL: srv.URL})
	c.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := c.ChatCompletion(context.Background(), "sys", "user")
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, NewGroqClient(&config.GroqConfig{}).IsConfigured())
}

func TestMediaClient_RenderSegment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/segments", r.URL.Path)
		var req SegmentRenderRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, model.CaptionDynamic, req.CaptionStyle)
		_ = json.NewEncoder(w).Encode(SegmentRenderResponse{Index: req.Index, OutputPath: "/out/segment_3.mp4", Duration: 4.2})
	}))
	defer srv.Close()

	c := NewMediaClient(&config.MediaConfig{ServiceURL: srv.URL, Timeout: 5})
	res, err := c.RenderSegment(context.Background(), &SegmentRenderRequest{
		Index: 3, Total: 5, Sentence: "A fox ran.", CaptionStyle: model.CaptionDynamic, OutputDir: "/out",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Index)
	assert.Equal(t, "/out/segment_3.mp4", res.OutputPath)
}

func TestMediaClient_PosterSafetyRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"Your request was rejected by our safety system"}`))
	}))
	defer srv.Close()

	c := NewMediaClient(&config.MediaConfig{ServiceURL: srv.URL, Timeout: 5})
	_, err := c.RenderPoster(context.Background(), &PosterRenderRequest{Prompt: "p", OutputPath: "/out/poster.png"})
	require.ErrorIs(t, err, ErrSafetyRejected)
}

func TestMediaClient_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewMediaClient(&config.MediaConfig{ServiceURL: srv.URL, Timeout: 5})
	assert.Error(t, c.HealthCheck(context.Background()))
}

func TestR2Client_UploadAndDelete(t *testing.T) {
	var (
		mu      sync.Mutex
		puts    = map[string]string{}
		deletes []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			puts[r.URL.Path] = r.Header.Get("Content-Type") + ":" + string(body)
			w.WriteHeader(http.StatusOK)
		case http.MethodDelete:
			deletes = append(deletes, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	c, err := NewR2Client(&config.R2Config{
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
		BucketName:      "media",
		Endpoint:        srv.URL,
		PublicURL:       "https://cdn.example.com/",
	})
	require.NoError(t, err)

	url, err := c.Upload(context.Background(), "stories/job-1/segment_0.mp4", strings.NewReader("video"), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/stories/job-1/segment_0.mp4", url)
	assert.Equal(t, "video/mp4:video", puts["/media/stories/job-1/segment_0.mp4"])

	require.NoError(t, c.Delete(context.Background(), "stories/job-1/segment_0.mp4"))
	assert.Equal(t, []string{"/media/stories/job-1/segment_0.mp4"}, deletes)
}

func TestNewR2Client_RequiresCredentials(t *testing.T) {
	_, err := NewR2Client(&config.R2Config{BucketName: "media"})
	assert.ErrorIs(t, err, ErrStorageNotConfigured)

	_, err = NewR2Client(&config.R2Config{AccessKeyID: "id", SecretAccessKey: "s", BucketName: "media"})
	assert.ErrorIs(t, err, ErrStorageNotConfigured)
}
