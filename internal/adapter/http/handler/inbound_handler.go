package handler

import (
	"errors"
	"io"
	"net/http"

	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/response"

	"github.com/gin-gonic/gin"
)

// InboundHandler receives third-party webhooks. Senders get flat JSON
// bodies rather than the API envelope.
type InboundHandler struct {
	svc ports.InboundService
}

// NewInboundHandler creates a new InboundHandler.
func NewInboundHandler(svc ports.InboundService) *InboundHandler {
	return &InboundHandler{svc: svc}
}

// Receive handles POST /inbound/:provider. The raw body is passed on
// untouched because signatures cover the exact bytes.
func (h *InboundHandler) Receive(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.PlainError(c, apperror.ErrPayloadTooLarge())
			return
		}
		response.PlainError(c, apperror.ErrMalformedBody(err))
		return
	}

	ack, err := h.svc.Accept(c.Request.Context(), c.Param("provider"), c.Request.Header, body)
	if err != nil {
		response.PlainError(c, err)
		return
	}
	response.Plain(c, http.StatusOK, ack)
}
