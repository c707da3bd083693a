package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// healthTimeout bounds one probe so a stuck pool cannot hang /health.
const healthTimeout = 2 * time.Second

// HealthCheck reports the database reachable and its schema clean. It
// implements ports.HealthChecker.
type HealthCheck struct {
	pool Pool
}

func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool}
}

// Ping reads the migration state. A database with no recorded migration is
// healthy; one left dirty by a failed migration is not.
func (h *HealthCheck) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var (
		version int64
		dirty   bool
	)
	err := h.pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	case err != nil:
		return err
	case dirty:
		return fmt.Errorf("schema migration %d is dirty", version)
	}
	return nil
}

func (h *HealthCheck) Name() string {
	return "postgres"
}
