package ports

//go:generate mockgen -source=services.go -destination=mocks/services_mock.go -package=mocks

import (
	"context"
	"net/http"
	"time"

	"bizsuite-orchestrator/internal/core/domain"

	"github.com/google/uuid"
)

// EncryptionService handles AES-256-GCM encryption/decryption.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload []byte) string
	Verify(secretKey string, payload []byte, signature string) bool
}

// TokenService validates admin API bearer tokens.
type TokenService interface {
	Generate(tenantID, userID string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	TenantID string
	UserID   string
}

// DedupeStore remembers keys for a TTL.
type DedupeStore interface {
	// CheckAndSet atomically records key under scope.
	// Returns true if the key is new, false if it was already seen.
	CheckAndSet(ctx context.Context, scope, key string, ttl time.Duration) (bool, error)
	// Forget removes key so a later CheckAndSet treats it as new.
	Forget(ctx context.Context, scope, key string) error
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// RateLimiter checks a request against a windowed quota.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// --- Service Ports (Business Logic) ---

// PublishInput is the caller-supplied part of a DomainEvent.
type PublishInput struct {
	Type     string
	TenantID string
	Payload  domain.Payload
	Metadata domain.EventMetadata
}

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, in PublishInput) (domain.DomainEvent, error)
}

// SagaService exposes saga runs to operators and approvers.
type SagaService interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.SagaRun, error)
	List(ctx context.Context, filter SagaRunFilter) ([]domain.SagaRun, error)
	Approve(ctx context.Context, id uuid.UUID, actor string) (*domain.SagaRun, error)
	Reject(ctx context.Context, id uuid.UUID, actor, reason string) (*domain.SagaRun, error)
	Abort(ctx context.Context, id uuid.UUID, actor, reason string) (*domain.SagaRun, error)
}

// InboundAck is returned to the third party once a webhook is accepted.
type InboundAck struct {
	Received  bool   `json:"received"`
	EventType string `json:"event_type"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// InboundService verifies and accepts third-party webhooks.
type InboundService interface {
	Accept(ctx context.Context, provider string, headers http.Header, body []byte) (*InboundAck, error)
}

// DeliveryService exposes the delivery audit trail and operator replay.
type DeliveryService interface {
	ListDeliveries(ctx context.Context, filter DeliveryLogFilter) ([]domain.WebhookDeliveryLog, error)
	ReplayDelivery(ctx context.Context, tenantID string, logID uuid.UUID) (*domain.WebhookDeliveryLog, error)
}
