package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AuditLog records successful operator write operations on the admin API
// (publishing, saga decisions, delivery replays) as structured log lines.
// Routes are matched on their gin pattern, so ids do not affect the mapping.
func AuditLog(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "audit").Logger()
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead || c.Request.Method == http.MethodOptions {
			return
		}

		action, resourceType := mapPathToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		event := log.Info().
			Str("action", action).
			Str("resource_type", resourceType).
			Str("tenant_id", TenantID(c)).
			Str("user_id", UserID(c)).
			Str("request_id", c.GetString(CtxRequestID)).
			Str("ip_address", c.ClientIP()).
			Int("status", c.Writer.Status())
		if id := c.Param("id"); id != "" {
			event = event.Str("resource_id", id)
		}
		event.Msg("operator action")
	}
}

func mapPathToAction(path, method string) (action, resource string) {
	if method != http.MethodPost {
		return "", ""
	}
	switch path {
	case "/api/v1/events":
		return "event.publish", "event"
	case "/api/v1/sagas/:id/approve":
		return "saga.approve", "saga_run"
	case "/api/v1/sagas/:id/reject":
		return "saga.reject", "saga_run"
	case "/api/v1/sagas/:id/abort":
		return "saga.abort", "saga_run"
	case "/api/v1/webhooks/deliveries/:id/replay":
		return "delivery.replay", "webhook_delivery"
	default:
		return "", ""
	}
}
