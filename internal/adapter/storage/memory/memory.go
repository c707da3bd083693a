// Package memory implements every storage port in process memory. It backs
// the "memory" storage driver and the service tests.
package memory

import "bizsuite-orchestrator/internal/core/ports"

var (
	_ ports.WebhookEndpointRepository = (*EndpointRepo)(nil)
	_ ports.DeliveryLogRepository     = (*DeliveryLogRepo)(nil)
	_ ports.SagaRunStore              = (*SagaRunStore)(nil)
	_ ports.InboxRepository           = (*InboxRepo)(nil)
	_ ports.EventLog                  = (*EventLog)(nil)
	_ ports.DedupeStore               = (*DedupeStore)(nil)
	_ ports.RateLimiter               = (*RateLimiter)(nil)
)
