package memory

import (
	"context"
	"math"
	"sync"
	"time"

	"bizsuite-orchestrator/internal/core/ports"

	"github.com/juju/clock"
	"golang.org/x/time/rate"
)

// RateLimiter is a per-process ports.RateLimiter backed by token buckets.
// A quota of limit per window becomes a bucket of size limit refilled at
// limit/window, so bursts up to limit are allowed.
type RateLimiter struct {
	clock clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	limit    int64
	window   time.Duration
	lastSeen time.Time
}

func NewRateLimiter(clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.WallClock
	}
	return &RateLimiter{clock: clk, buckets: make(map[string]*bucket)}
}

func (l *RateLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	if limit < 1 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || b.limit != limit || b.window != window {
		every := rate.Every(window / time.Duration(limit))
		b = &bucket{limiter: rate.NewLimiter(every, int(limit)), limit: limit, window: window}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.evictIdle(now)

	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)
	remaining := int64(math.Max(0, math.Floor(tokens)))

	// Time until the bucket is full again.
	missing := float64(limit) - tokens
	refill := time.Duration(missing / float64(b.limiter.Limit()) * float64(time.Second))
	resetAt := now.Add(refill)
	if !allowed {
		// The next token, not a full bucket, is what a rejected caller waits for.
		resetAt = now.Add(time.Duration((1 - tokens) / float64(b.limiter.Limit()) * float64(time.Second)))
	}

	return &ports.RateLimitResult{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   int64(math.Ceil(float64(resetAt.UnixNano()) / float64(time.Second))),
	}, nil
}

// evictIdle drops buckets untouched for two windows; they would be full anyway.
func (l *RateLimiter) evictIdle(now time.Time) {
	if len(l.buckets)%256 != 0 {
		return
	}
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > 2*b.window {
			delete(l.buckets, k)
		}
	}
}
