package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	HeaderRequestID = "X-Request-ID"

	// Context keys
	CtxRequestID = "request_id"
	CtxTenantID  = "tenant_id"
	CtxUserID    = "user_id"

	maxRequestIDLen = 128
)

// RequestID propagates the caller's X-Request-ID or assigns a new one. The
// id is stored under CtxRequestID, where the response envelopes pick it up.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		c.Set(CtxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// JWTAuth validates the bearer token of admin API calls and stores the
// caller's tenant and user in the context.
func JWTAuth(tokenSvc ports.TokenService, log zerolog.Logger) gin.HandlerFunc {
	reject := func(c *gin.Context) {
		response.Error(c, apperror.ErrInvalidToken())
		c.Abort()
	}
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			reject(c)
			return
		}
		claims, err := tokenSvc.Validate(token)
		if err != nil || claims.TenantID == "" {
			log.Debug().Err(err).Str("request_id", c.GetString(CtxRequestID)).Msg("bearer token rejected")
			reject(c)
			return
		}

		c.Set(CtxTenantID, claims.TenantID)
		c.Set(CtxUserID, claims.UserID)
		c.Next()
	}
}

// bearerToken extracts the credentials of an RFC 6750 Authorization header.
// The scheme is case-insensitive.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// TenantID returns the authenticated tenant, or "" outside JWTAuth.
func TenantID(c *gin.Context) string {
	return c.GetString(CtxTenantID)
}

// UserID returns the authenticated user, or "" outside JWTAuth.
func UserID(c *gin.Context) string {
	return c.GetString(CtxUserID)
}

// RequestLogger creates a middleware that logs every HTTP request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		if tenant := TenantID(c); tenant != "" {
			event = event.Str("tenant_id", tenant)
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			event = event.Str("error", errs.String())
		}
		event.
			Str("request_id", c.GetString(CtxRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// Recovery turns a handler panic into SYS_001 and logs the stack.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("request_id", c.GetString(CtxRequestID)).
					Str("path", c.Request.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				response.Error(c, apperror.InternalError(fmt.Errorf("panic: %v", r)))
				c.Abort()
			}
		}()
		c.Next()
	}
}
