// Package postgres implements the storage ports on PostgreSQL through pgx.
package postgres

import "bizsuite-orchestrator/internal/core/ports"

var (
	_ ports.WebhookEndpointRepository = (*EndpointRepo)(nil)
	_ ports.DeliveryLogRepository     = (*DeliveryLogRepo)(nil)
	_ ports.SagaRunStore              = (*SagaRunStore)(nil)
	_ ports.InboxRepository           = (*InboxRepo)(nil)
	_ ports.EventLog                  = (*EventLog)(nil)
	_ ports.HealthChecker             = (*HealthCheck)(nil)
)
