package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bizsuite-orchestrator/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// EndpointRepo implements ports.WebhookEndpointRepository.
type EndpointRepo struct {
	pool Pool
}

// NewEndpointRepo creates a new EndpointRepo.
func NewEndpointRepo(pool Pool) *EndpointRepo {
	return &EndpointRepo{pool: pool}
}

const endpointColumns = `id, tenant_id, url, secret_enc, events, active, headers, failure_count, last_triggered_at, created_at, updated_at`

// Create inserts an endpoint. Used by seeding and tenant tooling.
func (r *EndpointRepo) Create(ctx context.Context, ep *domain.WebhookEndpoint) error {
	headers, err := json.Marshal(ep.Headers)
	if err != nil {
		return fmt.Errorf("marshal endpoint headers: %w", err)
	}
	query := `INSERT INTO webhook_endpoints (` + endpointColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.pool.Exec(ctx, query,
		ep.ID, ep.TenantID, ep.URL, ep.SecretEnc, ep.Events, ep.Active, headers,
		ep.FailureCount, ep.LastTriggeredAt, ep.CreatedAt, ep.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook endpoint: %w", err)
	}
	return nil
}

// ListActiveByTenant returns the tenant's active endpoints, oldest first.
func (r *EndpointRepo) ListActiveByTenant(ctx context.Context, tenantID string) ([]domain.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints
		WHERE tenant_id = $1 AND active ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list webhook endpoints: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookEndpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook endpoint: %w", err)
		}
		out = append(out, *ep)
	}
	return out, rows.Err()
}

// GetByID fetches an endpoint by id.
func (r *EndpointRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1`
	ep, err := scanEndpoint(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get webhook endpoint: %w", err)
	}
	return ep, nil
}

// RecordSuccess resets the failure counter.
func (r *EndpointRepo) RecordSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_endpoints SET failure_count = 0, last_triggered_at = $1, updated_at = $1 WHERE id = $2`,
		at, id)
	if err != nil {
		return fmt.Errorf("record endpoint success: %w", err)
	}
	return nil
}

// RecordFailure increments the failure counter.
func (r *EndpointRepo) RecordFailure(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_endpoints SET failure_count = failure_count + 1, last_triggered_at = $1, updated_at = $1 WHERE id = $2`,
		at, id)
	if err != nil {
		return fmt.Errorf("record endpoint failure: %w", err)
	}
	return nil
}

func scanEndpoint(row pgx.Row) (*domain.WebhookEndpoint, error) {
	ep := &domain.WebhookEndpoint{}
	var headers []byte
	if err := row.Scan(
		&ep.ID, &ep.TenantID, &ep.URL, &ep.SecretEnc, &ep.Events, &ep.Active, &headers,
		&ep.FailureCount, &ep.LastTriggeredAt, &ep.CreatedAt, &ep.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &ep.Headers); err != nil {
			return nil, fmt.Errorf("decode endpoint headers: %w", err)
		}
	}
	return ep, nil
}
