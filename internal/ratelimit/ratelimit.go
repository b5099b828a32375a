package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter decides whether a brand may ingest another event right now.
type Limiter interface {
	Allow(ctx context.Context, brandID string) bool
}

// =============================================
// In-memory fixed-window limiter
// =============================================

type windowCounter struct {
	windowStart time.Time
	count       int64
}

// WindowLimiter enforces a per-brand fixed-window rate limit in memory.
// Windows are aligned to the wall clock: a fresh window starts when the
// current one ends, there is no sliding behavior.
type WindowLimiter struct {
	mu       sync.Mutex
	counters map[string]*windowCounter
	limit    int64
	window   time.Duration
	now      func() time.Time
}

// NewWindowLimiter creates an in-memory limiter allowing limit events
// per brand per window.
func NewWindowLimiter(limit int64, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		counters: make(map[string]*windowCounter),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

func (l *WindowLimiter) Allow(ctx context.Context, brandID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	start := now.Truncate(l.window)

	c, ok := l.counters[brandID]
	if !ok || c.windowStart != start {
		c = &windowCounter{windowStart: start}
		l.counters[brandID] = c
	}

	c.count++
	return c.count <= l.limit
}

// Cleanup drops counters from expired windows. Call periodically to
// bound memory with many brands.
func (l *WindowLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.now().Truncate(l.window)
	for brandID, c := range l.counters {
		if c.windowStart != start {
			delete(l.counters, brandID)
		}
	}
}

// =============================================
// Redis fixed-window limiter
// =============================================

// RedisWindowLimiter enforces the same fixed-window limit across
// multiple instances using Redis counters. It fails open: if Redis is
// unreachable the event is allowed rather than dropped.
type RedisWindowLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisWindowLimiter creates a Redis-backed limiter allowing limit
// events per brand per window.
func NewRedisWindowLimiter(client *redis.Client, limit int64, window time.Duration, logger *zap.Logger) *RedisWindowLimiter {
	return &RedisWindowLimiter{
		client: client,
		limit:  limit,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

func (l *RedisWindowLimiter) Allow(ctx context.Context, brandID string) bool {
	bucket := l.now().Truncate(l.window).Unix()
	key := fmt.Sprintf("ratelimit:%s:%d", brandID, bucket)

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		if l.logger != nil {
			l.logger.Warn("rate limit check failed, allowing event",
				zap.String("brand_id", brandID),
				zap.Error(err))
		}
		return true
	}

	return incr.Val() <= l.limit
}
