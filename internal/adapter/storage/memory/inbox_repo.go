package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bizsuite-orchestrator/internal/core/domain"

	"github.com/google/uuid"
	"github.com/juju/clock"
)

// InboxRepo is an in-memory ports.InboxRepository with claim leases.
type InboxRepo struct {
	clock clock.Clock

	mu     sync.Mutex
	msgs   map[uuid.UUID]*domain.InboundMessage
	leases map[uuid.UUID]time.Time
}

func NewInboxRepo(clk clock.Clock) *InboxRepo {
	if clk == nil {
		clk = clock.WallClock
	}
	return &InboxRepo{
		clock:  clk,
		msgs:   make(map[uuid.UUID]*domain.InboundMessage),
		leases: make(map[uuid.UUID]time.Time),
	}
}

func (r *InboxRepo) Enqueue(ctx context.Context, msg *domain.InboundMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *msg
	cp.Payload = msg.Payload.Clone()
	r.msgs[msg.ID] = &cp
	return nil
}

// ClaimPending leases the oldest pending messages whose previous lease expired.
func (r *InboxRepo) ClaimPending(ctx context.Context, limit int, claimUntil time.Time) ([]domain.InboundMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var ready []*domain.InboundMessage
	for id, m := range r.msgs {
		if m.Status != domain.InboxStatusPending {
			continue
		}
		if lease, ok := r.leases[id]; ok && lease.After(now) {
			continue
		}
		ready = append(ready, m)
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].ReceivedAt.Before(ready[j].ReceivedAt) })
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}

	out := make([]domain.InboundMessage, 0, len(ready))
	for _, m := range ready {
		r.leases[m.ID] = claimUntil
		cp := *m
		cp.Payload = m.Payload.Clone()
		out = append(out, cp)
	}
	return out, nil
}

func (r *InboxRepo) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return fmt.Errorf("inbox message %s not found", id)
	}
	m.Status = domain.InboxStatusProcessed
	m.ProcessedAt = &at
	delete(r.leases, id)
	return nil
}

func (r *InboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, deadLetter bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return fmt.Errorf("inbox message %s not found", id)
	}
	m.Attempts++
	m.LastError = &lastError
	if deadLetter {
		m.Status = domain.InboxStatusDeadLettered
	}
	delete(r.leases, id)
	return nil
}

// Get returns a copy of a message. Used by tests and diagnostics.
func (r *InboxRepo) Get(id uuid.UUID) (*domain.InboundMessage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return nil, false
	}
	cp := *m
	return &cp, true
}
