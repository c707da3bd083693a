package handler

import (
	"net/http"

	"bizsuite-orchestrator/internal/adapter/http/middleware"
	"bizsuite-orchestrator/internal/circuitbreaker"
	"bizsuite-orchestrator/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// MaxBodyBytes caps every request body, inbound webhooks included.
const MaxBodyBytes = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Inbound        ports.InboundService
	Publisher      ports.EventPublisher
	Sagas          ports.SagaService
	Deliveries     ports.DeliveryService
	TokenSvc       ports.TokenService
	RateLimiter    ports.RateLimiter // nil = rate limiting disabled
	RateLimits     map[string]middleware.RateLimitRule
	HealthCheckers []ports.HealthChecker
	Breakers       *circuitbreaker.Registry // reported on /health when set
	Metrics        http.Handler             // nil = /metrics not served
	MetricsPath    string
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(MaxBodyBytes))

	r.GET("/health", HealthCheck(deps.Breakers, deps.HealthCheckers...))
	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(deps.Metrics))
	}

	registerDocs(r, "/swagger")

	rules := deps.RateLimits
	if rules == nil {
		rules = middleware.DefaultRateLimitRules(middleware.RateLimitRule{})
	}
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimiter, group, rule, deps.Logger)
	}

	// --- Third-party webhooks: the signature is the authentication ---
	inboundHandler := NewInboundHandler(deps.Inbound)
	r.POST("/inbound/:provider", rl(middleware.GroupInbound), inboundHandler.Receive)

	// --- JWT-authenticated admin API ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	v1 := r.Group("/api/v1", jwtAuth, middleware.AuditLog(deps.Logger))

	eventHandler := NewEventHandler(deps.Publisher)
	v1.POST("/events", rl(middleware.GroupPublish), eventHandler.Publish)

	sagaHandler := NewSagaHandler(deps.Sagas)
	sagas := v1.Group("/sagas", rl(middleware.GroupAPI))
	{
		sagas.GET("", sagaHandler.List)
		sagas.GET("/:id", sagaHandler.Get)
		sagas.POST("/:id/approve", sagaHandler.Approve)
		sagas.POST("/:id/reject", sagaHandler.Reject)
		sagas.POST("/:id/abort", sagaHandler.Abort)
	}

	deliveryHandler := NewDeliveryHandler(deps.Deliveries)
	deliveries := v1.Group("/webhooks/deliveries", rl(middleware.GroupAPI))
	{
		deliveries.GET("", deliveryHandler.List)
		deliveries.POST("/:id/replay", deliveryHandler.Replay)
	}

	return r
}
