package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// StartTimes records when each job was started so progress can be
// synthesized from elapsed time across polls. Save overwrites by key.
type StartTimes interface {
	Save(ctx context.Context, jobID string, t time.Time) error
	Load(ctx context.Context, jobID string) (time.Time, bool, error)
	Forget(ctx context.Context, jobID string) error
}

// MemoryStartTimes keeps start times in process memory.
type MemoryStartTimes struct {
	cache *gocache.Cache
}

// NewMemoryStartTimes returns a store whose entries expire after ttl.
func NewMemoryStartTimes(ttl time.Duration) *MemoryStartTimes {
	return &MemoryStartTimes{cache: gocache.New(ttl, ttl/2)}
}

func (m *MemoryStartTimes) Save(_ context.Context, jobID string, t time.Time) error {
	m.cache.SetDefault(jobID, t)
	return nil
}

func (m *MemoryStartTimes) Load(_ context.Context, jobID string) (time.Time, bool, error) {
	v, ok := m.cache.Get(jobID)
	if !ok {
		return time.Time{}, false, nil
	}
	t, ok := v.(time.Time)
	return t, ok, nil
}

func (m *MemoryStartTimes) Forget(_ context.Context, jobID string) error {
	m.cache.Delete(jobID)
	return nil
}

// RedisStartTimes shares start times between processes.
type RedisStartTimes struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStartTimes(client *redis.Client, prefix string, ttl time.Duration) *RedisStartTimes {
	return &RedisStartTimes{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisStartTimes) key(jobID string) string {
	return r.prefix + jobID
}

func (r *RedisStartTimes) Save(ctx context.Context, jobID string, t time.Time) error {
	if err := r.client.Set(ctx, r.key(jobID), t.UnixMilli(), r.ttl).Err(); err != nil {
		return fmt.Errorf("save start time: %w", err)
	}
	return nil
}

func (r *RedisStartTimes) Load(ctx context.Context, jobID string) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, r.key(jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load start time: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse start time %q: %w", raw, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (r *RedisStartTimes) Forget(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, r.key(jobID)).Err()
}
