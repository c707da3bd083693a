package domain

import (
	"strings"
	"time"
)

// Payload is the structured body of a domain event. It is normalised through
// JSON on publish, so values are the types encoding/json produces.
type Payload map[string]any

// EventMetadata carries provenance for a DomainEvent.
type EventMetadata struct {
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
	UserID        *string   `json:"user_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// DomainEvent is an immutable record of a business fact. ID is the
// idempotency key used by every downstream consumer.
type DomainEvent struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	TenantID string        `json:"tenant_id"`
	Payload  Payload       `json:"payload"`
	Metadata EventMetadata `json:"metadata"`
}

// Namespace returns the first segment of the dotted event type.
func (e DomainEvent) Namespace() string {
	if i := strings.IndexByte(e.Type, '.'); i > 0 {
		return e.Type[:i]
	}
	return e.Type
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Payload(t).Clone())
	case Payload:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// String returns the value at key when it is a string.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}
