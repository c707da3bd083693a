package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxDeliveryResponseBody caps the response body stored on a delivery log row.
const MaxDeliveryResponseBody = 2000

// WebhookEndpoint is a tenant-owned outbound subscription. Events holds
// subscribed type patterns ("order.*", "payment.recorded", "*").
type WebhookEndpoint struct {
	ID              uuid.UUID         `json:"id"`
	TenantID        string            `json:"tenant_id"`
	URL             string            `json:"url"`
	SecretEnc       string            `json:"-"` // AES-GCM encrypted, never expose
	Events          []string          `json:"events"`
	Active          bool              `json:"active"`
	Headers         map[string]string `json:"headers,omitempty"`
	FailureCount    int               `json:"failure_count"`
	LastTriggeredAt *time.Time        `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// WebhookDeliveryLog records one delivery attempt. Rows are never mutated.
type WebhookDeliveryLog struct {
	ID             uuid.UUID `json:"id"`
	WebhookID      uuid.UUID `json:"webhook_id"`
	EventID        string    `json:"event_id"`
	EventType      string    `json:"event_type"`
	TenantID       string    `json:"tenant_id"`
	URL            string    `json:"url"`
	ResponseStatus *int      `json:"response_status,omitempty"`
	ResponseBody   *string   `json:"response_body,omitempty"`
	Success        bool      `json:"success"`
	DurationMs     int64     `json:"duration_ms"`
	Attempt        int       `json:"attempt"`
	Error          *string   `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// DeliveryBody is the JSON document POSTed to a tenant endpoint.
type DeliveryBody struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	TenantID  string    `json:"tenant_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}

// NewDeliveryBody builds the outbound body for an event.
func NewDeliveryBody(evt DomainEvent) DeliveryBody {
	return DeliveryBody{
		EventID:   evt.ID,
		EventType: evt.Type,
		TenantID:  evt.TenantID,
		Timestamp: evt.Metadata.Timestamp,
		Payload:   evt.Payload,
	}
}

// TruncateBody cuts s to MaxDeliveryResponseBody characters.
func TruncateBody(s string) string {
	r := []rune(s)
	if len(r) <= MaxDeliveryResponseBody {
		return s
	}
	return string(r[:MaxDeliveryResponseBody])
}
