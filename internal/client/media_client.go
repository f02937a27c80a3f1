package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/makeasinger/studio/internal/config"
	"github.com/makeasinger/studio/internal/model"
)

// ErrSafetyRejected means the image model refused the prompt.
var ErrSafetyRejected = errors.New("rejected by safety system")

// MediaRenderer defines the operations of the media sidecar, which owns
// speech synthesis, image generation, captioning and video encoding.
type MediaRenderer interface {
	RenderSegment(ctx context.Context, req *SegmentRenderRequest) (*SegmentRenderResponse, error)
	RenderPoster(ctx context.Context, req *PosterRenderRequest) (*PosterRenderResponse, error)
	HealthCheck(ctx context.Context) error
}

// MediaClient implements MediaRenderer for the media microservice
type MediaClient struct {
	httpClient *http.Client
	baseURL    string
}

// SegmentRenderRequest asks for one narrated, captioned video segment
type SegmentRenderRequest struct {
	Index              int                `json:"index"`
	Total              int                `json:"total"`
	Sentence           string             `json:"sentence"`
	Style              string             `json:"style"`
	Context            string             `json:"context,omitempty"`
	CaptionStyle       model.CaptionStyle `json:"caption_style"`
	PreloadedImagesDir string             `json:"preloaded_images_dir,omitempty"`
	OutputDir          string             `json:"output_dir"`
}

// SegmentRenderResponse is the rendered segment
type SegmentRenderResponse struct {
	Index      int     `json:"index"`
	OutputPath string  `json:"output_path"`
	Duration   float64 `json:"duration"`
}

// PosterRenderRequest asks for a poster image
type PosterRenderRequest struct {
	Prompt     string `json:"prompt"`
	OutputPath string `json:"output_path"`
	Size       string `json:"size,omitempty"`
}

// PosterRenderResponse is the rendered poster
type PosterRenderResponse struct {
	OutputPath string `json:"output_path"`
}

// NewMediaClient creates a new media sidecar client
func NewMediaClient(cfg *config.MediaConfig) *MediaClient {
	return &MediaClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// RenderSegment renders one story sentence into a video segment
func (c *MediaClient) RenderSegment(ctx context.Context, req *SegmentRenderRequest) (*SegmentRenderResponse, error) {
	var result SegmentRenderResponse
	if err := c.post(ctx, "/segments", req, &result); err != nil {
		return nil, err
	}
	if result.OutputPath == "" {
		return nil, fmt.Errorf("media service returned no output path for segment %d", req.Index)
	}
	return &result, nil
}

// RenderPoster generates a poster image from a prompt
func (c *MediaClient) RenderPoster(ctx context.Context, req *PosterRenderRequest) (*PosterRenderResponse, error) {
	var result PosterRenderResponse
	if err := c.post(ctx, "/posters", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the media service is available
func (c *MediaClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("media service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// post sends a POST request with JSON body and parses the response
func (c *MediaClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnprocessableEntity && bytes.Contains(bytes.ToLower(respBody), []byte("safety")) {
		return fmt.Errorf("%w: %s", ErrSafetyRejected, string(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("media service error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *MediaClient) IsConfigured() bool {
	return c.baseURL != ""
}
