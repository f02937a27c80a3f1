package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/makeasinger/studio/internal/pkg/logger"
	"github.com/makeasinger/studio/internal/pkg/retry"
)

// TransportConfig is the retry policy an adapter applies to its own HTTP calls.
type TransportConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	AuthCooldown time.Duration
	Timeout      time.Duration
}

// DefaultTransportConfig mirrors the provider clients' defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxRetries:   5,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		AuthCooldown: 2 * time.Second,
		Timeout:      120 * time.Second,
	}
}

// transport sends provider requests. Network errors, 5xx and 429 responses
// are retried with exponential backoff; 401 is retried after a fixed
// cool-down. Callers only see ErrAuth, ErrTransport or ErrProtocol.
type transport struct {
	tag        string // log prefix, e.g. "Suno API"
	httpClient *http.Client
	cfg        TransportConfig
	authorize  func(*http.Request)
	sleep      func(context.Context, time.Duration) error
}

func newTransport(tag string, cfg TransportConfig, authorize func(*http.Request)) *transport {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &transport{
		tag:        tag,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		authorize:  authorize,
		sleep:      retry.Sleep,
	}
}

func (t *transport) logf(format string, args ...any) {
	logger.LegacyPrintf("backend.transport", "["+t.tag+"] "+format, args...)
}

// send performs the request, retrying per policy. The returned response may
// carry any status other than 401, 429 or 5xx; the caller closes its body.
func (t *transport) send(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := retry.Delay(attempt-1, t.cfg.BaseDelay, t.cfg.MaxDelay, retry.Jitter())
			if errors.Is(lastErr, ErrAuth) {
				wait = t.cfg.AuthCooldown
			}
			if err := t.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if t.authorize != nil {
			t.authorize(req)
		}

		t.logf("→ %s %s", method, url)
		resp, err := t.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			t.logf("✗ %s %s — request failed: %v", method, url, err)
			lastErr = fmt.Errorf("%w: %v", ErrTransport, err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			drain(resp)
			t.logf("✗ %s %s — authentication failed (401), retrying after %v", method, url, t.cfg.AuthCooldown)
			lastErr = fmt.Errorf("%w: status 401", ErrAuth)
			continue
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			msg := drain(resp)
			t.logf("✗ %d %s %s — %s", resp.StatusCode, method, url, msg)
			lastErr = fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, msg)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// doJSON sends a JSON request and returns the raw 2xx response body.
func (t *transport) doJSON(ctx context.Context, method, url string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = b
	}

	resp, err := t.send(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.logf("✗ %s %s — failed to read response: %v", method, url, err)
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	t.logf("← %d %s %s — %s", resp.StatusCode, method, url, truncate(string(respBody), 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProtocol, resp.StatusCode, truncate(string(respBody), 256))
	}
	return respBody, nil
}

// download streams url into dir/name. Any failure is ErrDownloadFailed.
func (t *transport) download(ctx context.Context, url, dir, name string) (string, error) {
	resp, err := t.send(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: HTTP %d", ErrDownloadFailed, resp.StatusCode)
	}
	return t.saveBody(resp, dir, name)
}

// saveBody writes resp's body to dir/name. The caller closes the body.
func (t *transport) saveBody(resp *http.Response, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	t.logf("✓ downloaded %d bytes to %s", n, path)
	return path, nil
}

func drain(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return string(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// artifactName builds the unique per-job file name shared by all adapters.
func artifactName(prefix, jobID string, now time.Time, ext string) string {
	return fmt.Sprintf("%s_%s_%s%s", prefix, jobID, now.Format("20060102_150405"), ext)
}
