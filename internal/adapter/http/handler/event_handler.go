package handler

import (
	"bizsuite-orchestrator/internal/adapter/http/dto"
	"bizsuite-orchestrator/internal/adapter/http/middleware"
	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/response"

	"github.com/gin-gonic/gin"
)

// SourceAPI is the metadata source of events published over the admin API.
const SourceAPI = "api"

// EventHandler publishes domain events on behalf of the calling tenant.
type EventHandler struct {
	publisher ports.EventPublisher
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(publisher ports.EventPublisher) *EventHandler {
	return &EventHandler{publisher: publisher}
}

// Publish handles POST /api/v1/events.
func (h *EventHandler) Publish(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var req dto.PublishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	meta := domain.EventMetadata{
		Source:        SourceAPI,
		CorrelationID: req.CorrelationID,
	}
	if user := middleware.UserID(c); user != "" {
		meta.UserID = &user
	}

	evt, err := h.publisher.Publish(c.Request.Context(), ports.PublishInput{
		Type:     req.Type,
		TenantID: tenantID,
		Payload:  domain.Payload(req.Payload),
		Metadata: meta,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, dto.NewEventResponse(evt))
}
