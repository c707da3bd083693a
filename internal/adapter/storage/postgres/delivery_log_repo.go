package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const defaultListLimit = 100

// DeliveryLogRepo implements ports.DeliveryLogRepository. Rows are only ever
// inserted.
type DeliveryLogRepo struct {
	pool Pool
}

// NewDeliveryLogRepo creates a new DeliveryLogRepo.
func NewDeliveryLogRepo(pool Pool) *DeliveryLogRepo {
	return &DeliveryLogRepo{pool: pool}
}

const deliveryLogColumns = `id, webhook_id, event_id, event_type, tenant_id, url, response_status, response_body, success, duration_ms, attempt, error, created_at`

// Append inserts a delivery attempt. The partial unique index on successful
// rows makes a second success for the same endpoint and event a no-op.
func (r *DeliveryLogRepo) Append(ctx context.Context, l *domain.WebhookDeliveryLog) error {
	query := `INSERT INTO webhook_delivery_logs (` + deliveryLogColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (webhook_id, event_id) WHERE success DO NOTHING`
	_, err := r.pool.Exec(ctx, query,
		l.ID, l.WebhookID, l.EventID, l.EventType, l.TenantID, l.URL,
		l.ResponseStatus, l.ResponseBody, l.Success, l.DurationMs, l.Attempt, l.Error, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery log: %w", err)
	}
	return nil
}

// HasSuccess reports whether the event was already delivered to the endpoint.
func (r *DeliveryLogRepo) HasSuccess(ctx context.Context, webhookID uuid.UUID, eventID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM webhook_delivery_logs WHERE webhook_id = $1 AND event_id = $2 AND success)`,
		webhookID, eventID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check delivery success: %w", err)
	}
	return exists, nil
}

// LastAttempt returns the highest attempt number logged, or 0.
func (r *DeliveryLogRepo) LastAttempt(ctx context.Context, webhookID uuid.UUID, eventID string) (int, error) {
	var attempt int
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(attempt), 0) FROM webhook_delivery_logs WHERE webhook_id = $1 AND event_id = $2`,
		webhookID, eventID).Scan(&attempt)
	if err != nil {
		return 0, fmt.Errorf("last delivery attempt: %w", err)
	}
	return attempt, nil
}

// GetByID fetches one delivery log row.
func (r *DeliveryLogRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookDeliveryLog, error) {
	l, err := scanDeliveryLog(r.pool.QueryRow(ctx,
		`SELECT `+deliveryLogColumns+` FROM webhook_delivery_logs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get delivery log: %w", err)
	}
	return l, nil
}

// List returns rows matching filter, newest first.
func (r *DeliveryLogRepo) List(ctx context.Context, filter ports.DeliveryLogFilter) ([]domain.WebhookDeliveryLog, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.WebhookID != nil {
		add("webhook_id = $%d", *filter.WebhookID)
	}
	if filter.EventID != "" {
		add("event_id = $%d", filter.EventID)
	}
	if filter.Success != nil {
		add("success = $%d", *filter.Success)
	}

	query := `SELECT ` + deliveryLogColumns + ` FROM webhook_delivery_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list delivery logs: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookDeliveryLog
	for rows.Next() {
		l, err := scanDeliveryLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery log: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

func scanDeliveryLog(row pgx.Row) (*domain.WebhookDeliveryLog, error) {
	l := &domain.WebhookDeliveryLog{}
	err := row.Scan(
		&l.ID, &l.WebhookID, &l.EventID, &l.EventType, &l.TenantID, &l.URL,
		&l.ResponseStatus, &l.ResponseBody, &l.Success, &l.DurationMs, &l.Attempt, &l.Error, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}
