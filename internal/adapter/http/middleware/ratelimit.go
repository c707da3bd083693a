package middleware

import (
	"fmt"
	"strconv"
	"time"

	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Rate limit groups.
const (
	GroupInbound = "inbound"
	GroupAPI     = "api"
	GroupPublish = "publish"
)

// RateLimitRule defines a rate limit for an endpoint group.
type RateLimitRule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRateLimitRules returns the per-group limits. inbound is the
// per-provider, per-source-address quota for third-party webhooks.
func DefaultRateLimitRules(inbound RateLimitRule) map[string]RateLimitRule {
	if inbound.Limit <= 0 {
		inbound.Limit = 300
	}
	if inbound.Window <= 0 {
		inbound.Window = time.Minute
	}
	return map[string]RateLimitRule{
		GroupInbound: inbound,
		GroupAPI:     {Limit: 120, Window: time.Minute},
		GroupPublish: {Limit: 600, Window: time.Minute},
	}
}

// RateLimiter creates a rate-limiting middleware for a given endpoint group.
// Limiter errors let the request through.
func RateLimiter(limiter ports.RateLimiter, group string, rule RateLimitRule, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("%s:%s", extractIdentifier(c), group)

		result, err := limiter.Allow(c.Request.Context(), key, rule.Limit, rule.Window)
		if err != nil {
			log.Warn().Err(err).Str("group", group).Msg("rate limit check failed, allowing request (degraded mode)")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			retryAfter := result.ResetAt - time.Now().Unix()
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			if group == GroupInbound {
				response.PlainError(c, apperror.ErrRateLimitExceeded())
			} else {
				response.Error(c, apperror.ErrRateLimitExceeded())
			}
			c.Abort()
			return
		}

		c.Next()
	}
}

// extractIdentifier determines the rate limit key source: the tenant for
// authenticated calls, the provider and source address for inbound webhooks.
func extractIdentifier(c *gin.Context) string {
	if tenant := TenantID(c); tenant != "" {
		return "tenant:" + tenant
	}
	if provider := c.Param("provider"); provider != "" {
		return "provider:" + provider + ":" + c.ClientIP()
	}
	return c.ClientIP()
}
