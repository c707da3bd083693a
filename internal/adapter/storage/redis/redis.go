// Package redis backs inbound dedupe and API rate limiting with Redis so
// every orchestrator instance shares them.
package redis

import (
	"context"
	"fmt"
	"time"

	"bizsuite-orchestrator/config"
	"bizsuite-orchestrator/pkg/logger"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// keyPrefix namespaces every key the orchestrator writes.
const keyPrefix = "orc:"

const pingTimeout = 2 * time.Second

func options(cfg config.RedisConfig) (*goredis.Options, error) {
	var opts *goredis.Options
	if cfg.URL != "" {
		parsed, err := goredis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &goredis.Options{Addr: cfg.Addr(), Password: cfg.Password, DB: cfg.DB}
	}
	opts.ClientName = logger.ServiceName
	return opts, nil
}

// NewClient connects and pings once; an unreachable server is an error.
func NewClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*goredis.Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", opts.Addr, err)
	}

	log.Debug().Str("addr", opts.Addr).Int("db", opts.DB).Msg("redis client ready")
	return client, nil
}

// HealthCheck reports on the dedupe and rate limit backend.
type HealthCheck struct {
	client *goredis.Client
}

func NewHealthCheck(client *goredis.Client) *HealthCheck {
	return &HealthCheck{client: client}
}

func (h *HealthCheck) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return h.client.Ping(ctx).Err()
}

func (h *HealthCheck) Name() string { return "redis" }
