package domain

import (
	"time"

	"github.com/google/uuid"
)

// InboxStatus is the processing state of an accepted inbound webhook.
type InboxStatus string

const (
	InboxStatusPending      InboxStatus = "pending"
	InboxStatusProcessed    InboxStatus = "processed"
	InboxStatusDeadLettered InboxStatus = "dead_lettered"
)

// InboundMessage is a verified third-party webhook that has been acknowledged
// but not yet published on the EventBus.
type InboundMessage struct {
	ID          uuid.UUID   `json:"id"`
	Provider    string      `json:"provider"`
	EventType   string      `json:"event_type"`
	TenantID    string      `json:"tenant_id"`
	Payload     Payload     `json:"payload"`
	Status      InboxStatus `json:"status"`
	Attempts    int         `json:"attempts"`
	LastError   *string     `json:"last_error,omitempty"`
	ReceivedAt  time.Time   `json:"received_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}

// Source returns the EventBus source tag for the message.
func (m *InboundMessage) Source() string {
	return "webhook:" + m.Provider
}
