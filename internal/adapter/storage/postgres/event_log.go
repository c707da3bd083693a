package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bizsuite-orchestrator/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// EventLog implements ports.EventLog on the domain_events table.
type EventLog struct {
	pool Pool
}

// NewEventLog creates a new EventLog.
func NewEventLog(pool Pool) *EventLog {
	return &EventLog{pool: pool}
}

// Append stores a published event. Re-appending the same id is a no-op.
func (l *EventLog) Append(ctx context.Context, evt domain.DomainEvent) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	meta, err := json.Marshal(evt.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO domain_events (id, type, tenant_id, payload, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		evt.ID, evt.Type, evt.TenantID, payload, meta, evt.Metadata.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert domain event: %w", err)
	}
	return nil
}

// Get fetches an event by id, or nil when it was pruned or never logged.
func (l *EventLog) Get(ctx context.Context, id string) (*domain.DomainEvent, error) {
	var (
		evt           domain.DomainEvent
		payload, meta []byte
	)
	err := l.pool.QueryRow(ctx,
		`SELECT id, type, tenant_id, payload, metadata FROM domain_events WHERE id = $1`, id,
	).Scan(&evt.ID, &evt.Type, &evt.TenantID, &payload, &meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get domain event: %w", err)
	}
	if err := json.Unmarshal(payload, &evt.Payload); err != nil {
		return nil, fmt.Errorf("decode event payload: %w", err)
	}
	if err := json.Unmarshal(meta, &evt.Metadata); err != nil {
		return nil, fmt.Errorf("decode event metadata: %w", err)
	}
	return &evt, nil
}

// Prune deletes events created before the cut-off.
func (l *EventLog) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := l.pool.Exec(ctx, `DELETE FROM domain_events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune domain events: %w", err)
	}
	return tag.RowsAffected(), nil
}
