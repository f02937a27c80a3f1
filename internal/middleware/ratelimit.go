package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/makeasinger/studio/internal/pkg/logger"
	"github.com/makeasinger/studio/pkg/response"
)

// RateLimiter counts requests per user in fixed Redis-backed windows.
type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit allows max requests per window for each authenticated user. A
// non-positive max disables the limit. Redis errors let the request through.
func (rl *RateLimiter) Limit(scope string, max int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || max <= 0 {
			return c.Next()
		}

		key := "ratelimit:" + scope + ":" + userID
		count, ttl, err := rl.hit(c.UserContext(), key, window)
		if err != nil {
			logger.L().Warn("ratelimit.redis_failed", zap.String("key", key), zap.Error(err))
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(max))
		if count > int64(max) {
			c.Set("Retry-After", strconv.Itoa(int(ttl.Round(time.Second)/time.Second)))
			c.Set("X-RateLimit-Remaining", "0")
			return response.RateLimited(c)
		}
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(max)-count, 10))
		return c.Next()
	}
}

// hit increments key and starts its window on the first hit of the window.
func (rl *RateLimiter) hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return incr.Val(), ttl.Val(), nil
}

// StoryLimit caps how many story jobs a user may start per hour.
func (rl *RateLimiter) StoryLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("stories", maxPerHour, time.Hour)
}
