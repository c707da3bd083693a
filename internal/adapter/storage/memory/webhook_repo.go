package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"

	"github.com/google/uuid"
)

// EndpointRepo is an in-memory ports.WebhookEndpointRepository.
type EndpointRepo struct {
	mu        sync.RWMutex
	endpoints map[uuid.UUID]domain.WebhookEndpoint
}

func NewEndpointRepo() *EndpointRepo {
	return &EndpointRepo{endpoints: make(map[uuid.UUID]domain.WebhookEndpoint)}
}

// Save inserts or replaces an endpoint. Endpoint management belongs to tenant
// admin tooling; this is how it seeds the memory driver.
func (r *EndpointRepo) Save(ep domain.WebhookEndpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[ep.ID] = cloneEndpoint(ep)
}

func (r *EndpointRepo) ListActiveByTenant(ctx context.Context, tenantID string) ([]domain.WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.WebhookEndpoint
	for _, ep := range r.endpoints {
		if ep.TenantID == tenantID && ep.Active {
			out = append(out, cloneEndpoint(ep))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *EndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return nil, nil
	}
	cp := cloneEndpoint(ep)
	return &cp, nil
}

func (r *EndpointRepo) RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(ep *domain.WebhookEndpoint) {
		ep.FailureCount = 0
		ep.LastTriggeredAt = &at
	})
}

func (r *EndpointRepo) RecordFailure(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(ep *domain.WebhookEndpoint) {
		ep.FailureCount++
		ep.LastTriggeredAt = &at
	})
}

func (r *EndpointRepo) update(id uuid.UUID, fn func(*domain.WebhookEndpoint)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep, ok := r.endpoints[id]
	if !ok {
		return fmt.Errorf("webhook endpoint %s not found", id)
	}
	fn(&ep)
	ep.UpdatedAt = time.Now().UTC()
	r.endpoints[id] = ep
	return nil
}

func cloneEndpoint(ep domain.WebhookEndpoint) domain.WebhookEndpoint {
	ep.Events = append([]string(nil), ep.Events...)
	if ep.Headers != nil {
		h := make(map[string]string, len(ep.Headers))
		for k, v := range ep.Headers {
			h[k] = v
		}
		ep.Headers = h
	}
	return ep
}

// DeliveryLogRepo is an in-memory, append-only ports.DeliveryLogRepository.
type DeliveryLogRepo struct {
	mu   sync.RWMutex
	rows []domain.WebhookDeliveryLog
}

func NewDeliveryLogRepo() *DeliveryLogRepo {
	return &DeliveryLogRepo{}
}

func (r *DeliveryLogRepo) Append(ctx context.Context, log *domain.WebhookDeliveryLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log.Success {
		for _, row := range r.rows {
			if row.Success && row.WebhookID == log.WebhookID && row.EventID == log.EventID {
				return nil
			}
		}
	}
	r.rows = append(r.rows, *log)
	return nil
}

func (r *DeliveryLogRepo) HasSuccess(ctx context.Context, webhookID uuid.UUID, eventID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, row := range r.rows {
		if row.Success && row.WebhookID == webhookID && row.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (r *DeliveryLogRepo) LastAttempt(ctx context.Context, webhookID uuid.UUID, eventID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	last := 0
	for _, row := range r.rows {
		if row.WebhookID == webhookID && row.EventID == eventID && row.Attempt > last {
			last = row.Attempt
		}
	}
	return last, nil
}

func (r *DeliveryLogRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDeliveryLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, row := range r.rows {
		if row.ID == id {
			cp := row
			return &cp, nil
		}
	}
	return nil, nil
}

// List returns matching rows, newest first.
func (r *DeliveryLogRepo) List(ctx context.Context, filter ports.DeliveryLogFilter) ([]domain.WebhookDeliveryLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.WebhookDeliveryLog
	for i := len(r.rows) - 1; i >= 0; i-- {
		row := r.rows[i]
		if filter.TenantID != "" && row.TenantID != filter.TenantID {
			continue
		}
		if filter.WebhookID != nil && row.WebhookID != *filter.WebhookID {
			continue
		}
		if filter.EventID != "" && row.EventID != filter.EventID {
			continue
		}
		if filter.Success != nil && row.Success != *filter.Success {
			continue
		}
		out = append(out, row)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
