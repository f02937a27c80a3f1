package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/studio/internal/auth"
)

func whoami(c *fiber.Ctx) error {
	return c.SendString(GetUserID(c))
}

func get(t *testing.T, app *fiber.App, header map[string]string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestAuthenticate(t *testing.T) {
	verifier := auth.NewHMACVerifier("secret")
	token, err := verifier.Issue("user-7", "u7@example.com", time.Hour)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/", Authenticate(verifier), whoami)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := get(t, app, map[string]string{"Authorization": tt.header})
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestGatewayAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/", GatewayAuth(), whoami)

	resp := get(t, app, map[string]string{"X-User-Id": "user-9"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, app, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStoryLimit(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() {
		rdb.FlushDB(context.Background())
		rdb.Close()
	})
	rdb.FlushDB(context.Background())

	app := fiber.New()
	app.Get("/", GatewayAuth(), NewRateLimiter(rdb).StoryLimit(2), whoami)

	header := map[string]string{"X-User-Id": "limited"}
	assert.Equal(t, http.StatusOK, get(t, app, header).StatusCode)
	assert.Equal(t, http.StatusOK, get(t, app, header).StatusCode)

	resp := get(t, app, header)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	other := map[string]string{"X-User-Id": "someone-else"}
	assert.Equal(t, http.StatusOK, get(t, app, other).StatusCode)
}

func TestLimit_FailsOpenWithoutRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { rdb.Close() })

	app := fiber.New()
	app.Get("/", GatewayAuth(), NewRateLimiter(rdb).StoryLimit(1), whoami)

	resp := get(t, app, map[string]string{"X-User-Id": "user-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
