package handler

import (
	"bizsuite-orchestrator/internal/adapter/http/dto"
	"bizsuite-orchestrator/internal/adapter/http/middleware"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DeliveryHandler exposes the outbound delivery audit trail.
type DeliveryHandler struct {
	svc ports.DeliveryService
}

// NewDeliveryHandler creates a new DeliveryHandler.
func NewDeliveryHandler(svc ports.DeliveryService) *DeliveryHandler {
	return &DeliveryHandler{svc: svc}
}

// List handles GET /api/v1/webhooks/deliveries.
func (h *DeliveryHandler) List(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}

	var q dto.DeliveryListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	filter := ports.DeliveryLogFilter{
		TenantID: tenantID,
		EventID:  q.EventID,
		Success:  q.Success,
		Limit:    q.Limit,
	}
	if q.WebhookID != "" {
		id := uuid.MustParse(q.WebhookID) // validated by binding
		filter.WebhookID = &id
	}

	rows, err := h.svc.ListDeliveries(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	out := dto.DeliveryLogListResponse{Deliveries: make([]dto.DeliveryLogResponse, 0, len(rows))}
	for i := range rows {
		out.Deliveries = append(out.Deliveries, dto.NewDeliveryLogResponse(&rows[i]))
	}
	out.Count = len(out.Deliveries)
	response.OK(c, out)
}

// Replay handles POST /api/v1/webhooks/deliveries/:id/replay. The new
// attempt is returned whether or not the endpoint accepted it.
func (h *DeliveryHandler) Replay(c *gin.Context) {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		response.Error(c, apperror.ErrInvalidToken())
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("Delivery"))
		return
	}

	entry, err := h.svc.ReplayDelivery(c.Request.Context(), tenantID, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewDeliveryLogResponse(entry))
}
