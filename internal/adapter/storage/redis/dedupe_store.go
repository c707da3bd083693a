package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// DedupeStore implements ports.DedupeStore using Redis SET NX, so a provider
// retry hitting another instance is still recognised.
type DedupeStore struct {
	client *goredis.Client
}

func NewDedupeStore(client *goredis.Client) *DedupeStore {
	return &DedupeStore{client: client}
}

func dedupeKey(scope, key string) string {
	return keyPrefix + "dedupe:" + scope + ":" + key
}

// CheckAndSet atomically records key under scope for ttl.
// Returns true if the key is new, false if it was seen within ttl.
func (s *DedupeStore) CheckAndSet(ctx context.Context, scope, key string, ttl time.Duration) (bool, error) {
	result, err := s.client.SetArgs(ctx, dedupeKey(scope, key), 1, goredis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis dedupe check: %w", err)
	}
	return result == "OK", nil
}

// Forget deletes the key so the next CheckAndSet succeeds.
func (s *DedupeStore) Forget(ctx context.Context, scope, key string) error {
	if err := s.client.Del(ctx, dedupeKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("redis dedupe forget: %w", err)
	}
	return nil
}
