package dto

import (
	"time"

	"bizsuite-orchestrator/internal/core/domain"
)

// PublishEventRequest is the request body for POST /api/v1/events. The
// tenant always comes from the caller's token.
type PublishEventRequest struct {
	Type          string         `json:"type" binding:"required,max=128,event_type"`
	Payload       map[string]any `json:"payload" binding:"required"`
	CorrelationID string         `json:"correlation_id,omitempty" binding:"omitempty,max=128,safe_id"`
}

// EventResponse is returned once an event has been published.
type EventResponse struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	TenantID      string    `json:"tenant_id"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// RejectRequest is the request body for rejecting a pending approval.
type RejectRequest struct {
	Reason string `json:"reason" binding:"required,max=500,reason"`
}

// AbortRequest is the request body for aborting a saga run.
type AbortRequest struct {
	Reason string `json:"reason,omitempty" binding:"omitempty,max=500,reason"`
}

// SagaListQuery holds the query parameters of GET /api/v1/sagas. Status
// accepts repeated or comma separated values.
type SagaListQuery struct {
	Status []string `form:"status"`
	Saga   string   `form:"saga" binding:"omitempty,max=64,safe_id"`
	Limit  int      `form:"limit" binding:"omitempty,min=1,max=500"`
}

// DeliveryListQuery holds the query parameters of GET /api/v1/webhooks/deliveries.
type DeliveryListQuery struct {
	WebhookID string `form:"webhook_id" binding:"omitempty,uuid"`
	EventID   string `form:"event_id" binding:"omitempty,max=64,safe_id"`
	Success   *bool  `form:"success"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// StepRecordResponse is one entry of a run's step history.
type StepRecordResponse struct {
	Step      string `json:"step"`
	Index     int    `json:"index"`
	Status    string `json:"status"`
	Actor     string `json:"actor,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// SagaRunResponse is the API view of a saga run.
type SagaRunResponse struct {
	ID               string               `json:"id"`
	SagaName         string               `json:"saga_name"`
	Status           string               `json:"status"`
	TriggerEventID   string               `json:"trigger_event_id"`
	TriggerEventType string               `json:"trigger_event_type"`
	CurrentStepIndex int                  `json:"current_step_index"`
	Context          map[string]any       `json:"context"`
	StartedAt        string               `json:"started_at"`
	Deadline         string               `json:"deadline"`
	ApprovalDeadline *string              `json:"approval_deadline,omitempty"`
	Escalated        bool                 `json:"escalated"`
	Error            string               `json:"error,omitempty"`
	FinishedAt       *string              `json:"finished_at,omitempty"`
	StepHistory      []StepRecordResponse `json:"step_history"`
}

// SagaRunListResponse wraps a saga run listing.
type SagaRunListResponse struct {
	Runs  []SagaRunResponse `json:"runs"`
	Count int               `json:"count"`
}

// DeliveryLogResponse is the API view of one delivery attempt.
type DeliveryLogResponse struct {
	ID             string  `json:"id"`
	WebhookID      string  `json:"webhook_id"`
	EventID        string  `json:"event_id"`
	EventType      string  `json:"event_type"`
	URL            string  `json:"url"`
	Attempt        int     `json:"attempt"`
	Success        bool    `json:"success"`
	ResponseStatus *int    `json:"response_status,omitempty"`
	ResponseBody   *string `json:"response_body,omitempty"`
	Error          *string `json:"error,omitempty"`
	DurationMs     int64   `json:"duration_ms"`
	CreatedAt      string  `json:"created_at"`
}

// DeliveryLogListResponse wraps a delivery log listing.
type DeliveryLogListResponse struct {
	Deliveries []DeliveryLogResponse `json:"deliveries"`
	Count      int                   `json:"count"`
}

// NewEventResponse maps a published event.
func NewEventResponse(evt domain.DomainEvent) EventResponse {
	return EventResponse{
		ID:            evt.ID,
		Type:          evt.Type,
		TenantID:      evt.TenantID,
		Timestamp:     evt.Metadata.Timestamp,
		CorrelationID: evt.Metadata.CorrelationID,
	}
}

// NewSagaRunResponse maps a saga run.
func NewSagaRunResponse(run *domain.SagaRun) SagaRunResponse {
	resp := SagaRunResponse{
		ID:               run.ID.String(),
		SagaName:         run.SagaName,
		Status:           string(run.Status),
		TriggerEventID:   run.TriggerEventID,
		TriggerEventType: run.Trigger.Type,
		CurrentStepIndex: run.CurrentStepIndex,
		Context:          run.Context,
		StartedAt:        formatTime(run.StartedAt),
		Deadline:         formatTime(run.Deadline),
		ApprovalDeadline: formatTimePtr(run.ApprovalDeadline),
		Escalated:        run.Escalated,
		Error:            run.Error,
		FinishedAt:       formatTimePtr(run.FinishedAt),
		StepHistory:      make([]StepRecordResponse, 0, len(run.StepHistory)),
	}
	if resp.Context == nil {
		resp.Context = map[string]any{}
	}
	for _, rec := range run.StepHistory {
		resp.StepHistory = append(resp.StepHistory, StepRecordResponse{
			Step:      rec.Step,
			Index:     rec.Index,
			Status:    string(rec.Status),
			Actor:     rec.Actor,
			Error:     rec.Error,
			Timestamp: formatTime(rec.Timestamp),
		})
	}
	return resp
}

// NewDeliveryLogResponse maps a delivery log row.
func NewDeliveryLogResponse(l *domain.WebhookDeliveryLog) DeliveryLogResponse {
	return DeliveryLogResponse{
		ID:             l.ID.String(),
		WebhookID:      l.WebhookID.String(),
		EventID:        l.EventID,
		EventType:      l.EventType,
		URL:            l.URL,
		Attempt:        l.Attempt,
		Success:        l.Success,
		ResponseStatus: l.ResponseStatus,
		ResponseBody:   l.ResponseBody,
		Error:          l.Error,
		DurationMs:     l.DurationMs,
		CreatedAt:      formatTime(l.CreatedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
