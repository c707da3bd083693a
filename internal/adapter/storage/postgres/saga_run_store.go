package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SagaRunStore implements ports.SagaRunStore. Context, trigger and history
// are stored as jsonb.
type SagaRunStore struct {
	pool Pool
}

// NewSagaRunStore creates a new SagaRunStore.
func NewSagaRunStore(pool Pool) *SagaRunStore {
	return &SagaRunStore{pool: pool}
}

const sagaRunColumns = `id, saga_name, tenant_id, trigger_event_id, trigger_event, status, current_step_index, context, step_history, started_at, deadline, approval_deadline, escalated, error, updated_at, finished_at`

type sagaRunDocs struct {
	trigger []byte
	context []byte
	history []byte
}

func encodeSagaRun(run *domain.SagaRun) (sagaRunDocs, error) {
	var d sagaRunDocs
	var err error
	if d.trigger, err = json.Marshal(run.Trigger); err != nil {
		return d, fmt.Errorf("marshal trigger: %w", err)
	}
	sc := run.Context
	if sc == nil {
		sc = domain.SagaContext{}
	}
	if d.context, err = json.Marshal(sc); err != nil {
		return d, fmt.Errorf("marshal context: %w", err)
	}
	history := run.StepHistory
	if history == nil {
		history = []domain.StepRecord{}
	}
	if d.history, err = json.Marshal(history); err != nil {
		return d, fmt.Errorf("marshal step history: %w", err)
	}
	return d, nil
}

// Create inserts a run. A run for the same saga and trigger event yields
// ports.ErrAlreadyExists.
func (s *SagaRunStore) Create(ctx context.Context, run *domain.SagaRun) error {
	docs, err := encodeSagaRun(run)
	if err != nil {
		return err
	}
	query := `INSERT INTO saga_runs (` + sagaRunColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = s.pool.Exec(ctx, query,
		run.ID, run.SagaName, run.TenantID, run.TriggerEventID, docs.trigger, string(run.Status),
		run.CurrentStepIndex, docs.context, docs.history, run.StartedAt, run.Deadline,
		run.ApprovalDeadline, run.Escalated, run.Error, run.UpdatedAt, run.FinishedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ports.ErrAlreadyExists
		}
		return fmt.Errorf("insert saga run: %w", err)
	}
	return nil
}

// Update overwrites the mutable state of a run.
func (s *SagaRunStore) Update(ctx context.Context, run *domain.SagaRun) error {
	docs, err := encodeSagaRun(run)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE saga_runs
		 SET status = $1, current_step_index = $2, context = $3, step_history = $4,
		     approval_deadline = $5, escalated = $6, error = $7, updated_at = $8, finished_at = $9
		 WHERE id = $10`,
		string(run.Status), run.CurrentStepIndex, docs.context, docs.history,
		run.ApprovalDeadline, run.Escalated, run.Error, run.UpdatedAt, run.FinishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("update saga run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update saga run %s: %w", run.ID, pgx.ErrNoRows)
	}
	return nil
}

// Get fetches a run by id.
func (s *SagaRunStore) Get(ctx context.Context, id uuid.UUID) (*domain.SagaRun, error) {
	run, err := scanSagaRun(s.pool.QueryRow(ctx,
		`SELECT `+sagaRunColumns+` FROM saga_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get saga run: %w", err)
	}
	return run, nil
}

// FindByTrigger fetches the run a trigger event started, if any.
func (s *SagaRunStore) FindByTrigger(ctx context.Context, sagaName, eventID string) (*domain.SagaRun, error) {
	run, err := scanSagaRun(s.pool.QueryRow(ctx,
		`SELECT `+sagaRunColumns+` FROM saga_runs WHERE saga_name = $1 AND trigger_event_id = $2`,
		sagaName, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find saga run by trigger: %w", err)
	}
	return run, nil
}

// List returns runs matching filter, most recently started first. Without a
// limit every match is returned so the sweeper sees all open runs.
func (s *SagaRunStore) List(ctx context.Context, filter ports.SagaRunFilter) ([]domain.SagaRun, error) {
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
	if filter.SagaName != "" {
		add("saga_name = $%d", filter.SagaName)
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}

	query := `SELECT ` + sagaRunColumns + ` FROM saga_runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list saga runs: %w", err)
	}
	defer rows.Close()

	var out []domain.SagaRun
	for rows.Next() {
		run, err := scanSagaRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan saga run: %w", err)
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanSagaRun(row pgx.Row) (*domain.SagaRun, error) {
	run := &domain.SagaRun{}
	var (
		status string
		docs   sagaRunDocs
	)
	if err := row.Scan(
		&run.ID, &run.SagaName, &run.TenantID, &run.TriggerEventID, &docs.trigger, &status,
		&run.CurrentStepIndex, &docs.context, &docs.history, &run.StartedAt, &run.Deadline,
		&run.ApprovalDeadline, &run.Escalated, &run.Error, &run.UpdatedAt, &run.FinishedAt,
	); err != nil {
		return nil, err
	}
	run.Status = domain.SagaStatus(status)

	if err := json.Unmarshal(docs.trigger, &run.Trigger); err != nil {
		return nil, fmt.Errorf("decode trigger: %w", err)
	}
	if err := json.Unmarshal(docs.context, &run.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if err := json.Unmarshal(docs.history, &run.StepHistory); err != nil {
		return nil, fmt.Errorf("decode step history: %w", err)
	}
	return run, nil
}
