package ports

//go:generate mockgen -source=repositories.go -destination=mocks/repositories_mock.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"bizsuite-orchestrator/internal/core/domain"

	"github.com/google/uuid"
)

// ErrAlreadyExists is returned when a unique key is violated.
var ErrAlreadyExists = errors.New("already exists")

// WebhookEndpointRepository reads tenant endpoints and maintains the
// dispatcher-owned counters. Endpoint CRUD belongs to tenant admin tooling.
type WebhookEndpointRepository interface {
	ListActiveByTenant(ctx context.Context, tenantID string) ([]domain.WebhookEndpoint, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error)
	// RecordSuccess resets failure_count and sets last_triggered_at.
	RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error
	// RecordFailure increments failure_count and sets last_triggered_at.
	RecordFailure(ctx context.Context, id uuid.UUID, at time.Time) error
}

// DeliveryLogFilter narrows delivery log listings.
type DeliveryLogFilter struct {
	TenantID  string
	WebhookID *uuid.UUID
	EventID   string
	Success   *bool
	Limit     int
}

// DeliveryLogRepository is the append-only audit trail of delivery attempts.
type DeliveryLogRepository interface {
	// Append inserts a row. A second successful row for the same
	// (webhook_id, event_id) is silently ignored.
	Append(ctx context.Context, log *domain.WebhookDeliveryLog) error
	HasSuccess(ctx context.Context, webhookID uuid.UUID, eventID string) (bool, error)
	LastAttempt(ctx context.Context, webhookID uuid.UUID, eventID string) (int, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDeliveryLog, error)
	List(ctx context.Context, filter DeliveryLogFilter) ([]domain.WebhookDeliveryLog, error)
}

// SagaRunFilter narrows saga run listings.
type SagaRunFilter struct {
	TenantID string
	SagaName string
	Statuses []domain.SagaStatus
	Limit    int
}

// SagaRunStore persists saga runs. Get and FindByTrigger return nil, nil when
// nothing matches.
type SagaRunStore interface {
	// Create returns ErrAlreadyExists when a run for the same
	// (saga_name, trigger_event_id) exists.
	Create(ctx context.Context, run *domain.SagaRun) error
	Update(ctx context.Context, run *domain.SagaRun) error
	Get(ctx context.Context, id uuid.UUID) (*domain.SagaRun, error)
	FindByTrigger(ctx context.Context, sagaName, eventID string) (*domain.SagaRun, error)
	List(ctx context.Context, filter SagaRunFilter) ([]domain.SagaRun, error)
}

// InboxRepository holds verified inbound webhooks between ack and publish.
type InboxRepository interface {
	Enqueue(ctx context.Context, msg *domain.InboundMessage) error
	// ClaimPending leases up to limit pending messages until claimUntil.
	ClaimPending(ctx context.Context, limit int, claimUntil time.Time) ([]domain.InboundMessage, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string, deadLetter bool) error
}

// EventLog keeps published events for the replay window.
type EventLog interface {
	Append(ctx context.Context, evt domain.DomainEvent) error
	Get(ctx context.Context, id string) (*domain.DomainEvent, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}
