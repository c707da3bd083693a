package eventbus

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/internal/observability/metrics"
	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/logger"

	"github.com/juju/clock"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Handler consumes a published event. Returned errors and panics are logged
// by the bus and never reach the publisher or other handlers.
type Handler func(ctx context.Context, evt domain.DomainEvent) error

type subscription struct {
	id      uint64
	pattern string
	name    string
	handler Handler
}

// Bus is an in-process publish/subscribe hub for domain events. Handlers for
// one event run synchronously in registration order.
type Bus struct {
	log     zerolog.Logger
	clock   clock.Clock
	schemas *SchemaRegistry
	events  ports.EventLog
	metrics *metrics.Metrics

	mu     sync.RWMutex
	subs   []subscription
	nextID uint64

	idMu    sync.Mutex
	entropy io.Reader
}

// Option configures a Bus.
type Option func(*Bus)

// WithClock overrides the wall clock used for event timestamps.
func WithClock(c clock.Clock) Option {
	return func(b *Bus) { b.clock = c }
}

// WithSchemas enables payload validation at publish time.
func WithSchemas(r *SchemaRegistry) Option {
	return func(b *Bus) { b.schemas = r }
}

// WithEventLog records every published event for operator replay.
func WithEventLog(l ports.EventLog) Option {
	return func(b *Bus) { b.events = l }
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// New creates a Bus.
func New(log zerolog.Logger, opts ...Option) *Bus {
	b := &Bus{
		log:     logger.Component(log, "eventbus"),
		clock:   clock.WallClock,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers handler for events matching pattern. name identifies
// the subscriber in logs and metrics. The returned func removes the
// subscription.
func (b *Bus) Subscribe(pattern, name string, handler Handler) (func(), error) {
	if !ValidPattern(pattern) {
		return nil, fmt.Errorf("eventbus: invalid pattern %q", pattern)
	}
	if handler == nil {
		return nil, fmt.Errorf("eventbus: nil handler for %q", pattern)
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, name: name, handler: handler})
	b.mu.Unlock()

	b.log.Debug().Str("pattern", pattern).Str("subscriber", name).Msg("subscriber registered")

	return func() { b.unsubscribe(id) }, nil
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish assigns an id and timestamp to the event, validates its payload and
// fans it out to every matching subscriber. It fails only on malformed input.
func (b *Bus) Publish(ctx context.Context, in ports.PublishInput) (domain.DomainEvent, error) {
	if in.Type == "" {
		return domain.DomainEvent{}, apperror.ErrMissingEventType()
	}
	if in.TenantID == "" {
		return domain.DomainEvent{}, apperror.ErrMissingTenant()
	}
	if !ValidType(in.Type) {
		return domain.DomainEvent{}, apperror.ErrInvalidEventType(in.Type)
	}

	payload, err := normalize(in.Payload)
	if err != nil {
		return domain.DomainEvent{}, apperror.ErrInvalidPayload(err)
	}
	if err := b.schemas.Validate(in.Type, payload); err != nil {
		return domain.DomainEvent{}, apperror.ErrInvalidPayload(err)
	}

	now := b.clock.Now().UTC()
	meta := in.Metadata
	meta.Timestamp = now
	if meta.UserID != nil {
		uid := *meta.UserID
		meta.UserID = &uid
	}

	evt := domain.DomainEvent{
		ID:       b.newID(now),
		Type:     in.Type,
		TenantID: in.TenantID,
		Payload:  domain.Payload(payload),
		Metadata: meta,
	}

	if b.events != nil {
		if err := b.events.Append(ctx, evt); err != nil {
			b.log.Error().Err(err).Str("event_id", evt.ID).Msg("failed to append event log")
		}
	}
	b.metrics.EventPublished(evt.Type)

	b.dispatch(ctx, evt)
	return evt, nil
}

func (b *Bus) dispatch(ctx context.Context, evt domain.DomainEvent) {
	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if MatchPattern(s.pattern, evt.Type) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		// Each handler sees its own copy of the payload.
		cp := evt
		cp.Payload = evt.Payload.Clone()
		b.invoke(ctx, s, cp)
	}
}

func (b *Bus) invoke(ctx context.Context, s subscription, evt domain.DomainEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.SubscriberFailed(s.name)
			b.log.Error().
				Interface("panic", r).
				Str("subscriber", s.name).
				Str("event_id", evt.ID).
				Str("event_type", evt.Type).
				Msg("subscriber panicked")
		}
	}()

	if err := s.handler(ctx, evt); err != nil {
		b.metrics.SubscriberFailed(s.name)
		b.log.Error().
			Err(err).
			Str("subscriber", s.name).
			Str("event_id", evt.ID).
			Str("event_type", evt.Type).
			Msg("subscriber failed")
	}
}

func (b *Bus) newID(now time.Time) string {
	b.idMu.Lock()
	defer b.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), b.entropy).String()
}

// normalize deep-copies p through JSON so the published event shares no
// memory with the caller and holds only JSON-native values.
func normalize(p domain.Payload) (map[string]any, error) {
	if p == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
