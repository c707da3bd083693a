package middleware

import (
	"net/http"
	"strings"

	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/response"

	"github.com/gin-gonic/gin"
)

// MaxBodySize caps request bodies at maxBytes. A declared Content-Length
// over the cap is refused with 413 before the handler runs (flat body on
// inbound webhook paths). Streamed bodies fail the read with
// *http.MaxBytesError and the handler maps that to 413.
func MaxBodySize(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			if strings.HasPrefix(c.Request.URL.Path, "/inbound/") {
				response.PlainError(c, apperror.ErrPayloadTooLarge())
			} else {
				response.Error(c, apperror.ErrPayloadTooLarge())
			}
			c.Abort()
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}
