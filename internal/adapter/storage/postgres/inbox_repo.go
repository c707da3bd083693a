package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bizsuite-orchestrator/internal/core/domain"

	"github.com/google/uuid"
)

// InboxRepo implements ports.InboxRepository on the inbound_inbox table.
type InboxRepo struct {
	pool Pool
}

// NewInboxRepo creates a new InboxRepo.
func NewInboxRepo(pool Pool) *InboxRepo {
	return &InboxRepo{pool: pool}
}

// Enqueue stores a verified inbound webhook as pending.
func (r *InboxRepo) Enqueue(ctx context.Context, msg *domain.InboundMessage) error {
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		return fmt.Errorf("marshal inbox payload: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO inbound_inbox (id, provider, event_type, tenant_id, payload, status, attempts, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		msg.ID, msg.Provider, msg.EventType, msg.TenantID, payload, string(msg.Status), msg.Attempts, msg.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert inbox message: %w", err)
	}
	return nil
}

// ClaimPending leases the oldest pending rows whose previous lease has
// expired. SKIP LOCKED keeps concurrent workers off each other's rows.
func (r *InboxRepo) ClaimPending(ctx context.Context, limit int, claimUntil time.Time) ([]domain.InboundMessage, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE inbound_inbox SET claimed_until = $1
		 WHERE id IN (
		     SELECT id FROM inbound_inbox
		     WHERE status = 'pending' AND (claimed_until IS NULL OR claimed_until <= NOW())
		     ORDER BY received_at
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, provider, event_type, tenant_id, payload, status, attempts, last_error, received_at, processed_at`,
		claimUntil, limit)
	if err != nil {
		return nil, fmt.Errorf("claim inbox messages: %w", err)
	}
	defer rows.Close()

	var out []domain.InboundMessage
	for rows.Next() {
		var (
			m       domain.InboundMessage
			payload []byte
			status  string
		)
		if err := rows.Scan(&m.ID, &m.Provider, &m.EventType, &m.TenantID, &payload, &status,
			&m.Attempts, &m.LastError, &m.ReceivedAt, &m.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan inbox message: %w", err)
		}
		m.Status = domain.InboxStatus(status)
		if err := json.Unmarshal(payload, &m.Payload); err != nil {
			return nil, fmt.Errorf("decode inbox payload %s: %w", m.ID, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MarkProcessed completes a message.
func (r *InboxRepo) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE inbound_inbox SET status = 'processed', processed_at = $1, claimed_until = NULL WHERE id = $2`,
		at, id)
	if err != nil {
		return fmt.Errorf("mark inbox message processed: %w", err)
	}
	return nil
}

// MarkFailed records a failed publish and releases the lease. deadLetter
// parks the row for good.
func (r *InboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, lastError string, deadLetter bool) error {
	status := string(domain.InboxStatusPending)
	if deadLetter {
		status = string(domain.InboxStatusDeadLettered)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE inbound_inbox SET attempts = attempts + 1, last_error = $1, status = $2, claimed_until = NULL WHERE id = $3`,
		lastError, status, id)
	if err != nil {
		return fmt.Errorf("mark inbox message failed: %w", err)
	}
	return nil
}
