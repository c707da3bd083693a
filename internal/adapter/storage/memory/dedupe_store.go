package memory

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"
)

// DedupeStore is an in-memory ports.DedupeStore used when Redis is disabled.
// Keys are only remembered by this process.
type DedupeStore struct {
	clock clock.Clock

	mu   sync.Mutex
	keys map[string]time.Time
}

func NewDedupeStore(clk clock.Clock) *DedupeStore {
	if clk == nil {
		clk = clock.WallClock
	}
	return &DedupeStore{clock: clk, keys: make(map[string]time.Time)}
}

func (s *DedupeStore) CheckAndSet(ctx context.Context, scope, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	k := scope + ":" + key
	if exp, ok := s.keys[k]; ok && exp.After(now) {
		return false, nil
	}
	s.keys[k] = now.Add(ttl)

	// Opportunistic sweep keeps the map bounded by live keys.
	if len(s.keys)%1024 == 0 {
		for kk, exp := range s.keys {
			if !exp.After(now) {
				delete(s.keys, kk)
			}
		}
	}
	return true, nil
}

func (s *DedupeStore) Forget(ctx context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, scope+":"+key)
	return nil
}
