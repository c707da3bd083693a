package memory

import (
	"context"
	"sync"
	"time"

	"bizsuite-orchestrator/internal/core/domain"
)

// EventLog is an in-memory ports.EventLog.
type EventLog struct {
	mu     sync.RWMutex
	events map[string]domain.DomainEvent
}

func NewEventLog() *EventLog {
	return &EventLog{events: make(map[string]domain.DomainEvent)}
}

func (l *EventLog) Append(ctx context.Context, evt domain.DomainEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	evt.Payload = evt.Payload.Clone()
	l.events[evt.ID] = evt
	return nil
}

func (l *EventLog) Get(ctx context.Context, id string) (*domain.DomainEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	evt, ok := l.events[id]
	if !ok {
		return nil, nil
	}
	evt.Payload = evt.Payload.Clone()
	return &evt, nil
}

func (l *EventLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int64
	for id, evt := range l.events {
		if evt.Metadata.Timestamp.Before(before) {
			delete(l.events, id)
			n++
		}
	}
	return n, nil
}
