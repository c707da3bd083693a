package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"bizsuite-orchestrator/internal/core/ports"

	"github.com/juju/clock"
	goredis "github.com/redis/go-redis/v9"
)

// RateLimitStore implements ports.RateLimiter with fixed-window counters
// shared by every orchestrator instance.
type RateLimitStore struct {
	client *goredis.Client
	clock  clock.Clock
}

func NewRateLimitStore(client *goredis.Client, clk clock.Clock) *RateLimitStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &RateLimitStore{client: client, clock: clk}
}

// Allow counts one request against key in the current window. The counter
// and its expiry are written in one MULTI so a crash between them cannot
// leave a counter without a TTL.
func (s *RateLimitStore) Allow(ctx context.Context, key string, limit int64, window time.Duration) (*ports.RateLimitResult, error) {
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	windowID := s.clock.Now().Unix() / secs
	redisKey := keyPrefix + "ratelimit:" + key + ":" + strconv.FormatInt(windowID, 10)

	var incr *goredis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, redisKey)
		p.ExpireNX(ctx, redisKey, time.Duration(secs)*time.Second+time.Second)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit: %w", err)
	}
	count := incr.Val()

	return &ports.RateLimitResult{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		ResetAt:   (windowID + 1) * secs,
	}, nil
}
