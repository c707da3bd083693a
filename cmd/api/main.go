package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bizsuite-orchestrator/config"
	httpHandler "bizsuite-orchestrator/internal/adapter/http/handler"
	"bizsuite-orchestrator/internal/adapter/http/middleware"
	"bizsuite-orchestrator/internal/adapter/storage/memory"
	pgStorage "bizsuite-orchestrator/internal/adapter/storage/postgres"
	redisStorage "bizsuite-orchestrator/internal/adapter/storage/redis"
	"bizsuite-orchestrator/internal/circuitbreaker"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/internal/eventbus"
	"bizsuite-orchestrator/internal/observability/metrics"
	"bizsuite-orchestrator/internal/saga/definitions"
	"bizsuite-orchestrator/internal/service"
	"bizsuite-orchestrator/pkg/logger"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// stores is the persistence behind the orchestrator for one storage driver.
type stores struct {
	endpoints ports.WebhookEndpointRepository
	logs      ports.DeliveryLogRepository
	sagas     ports.SagaRunStore
	inbox     ports.InboxRepository
	events    ports.EventLog
	health    []ports.HealthChecker
	close     func()
}

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Storage.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting BizSuite orchestrator")

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("ORC_JWT_SECRET is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.WallClock

	st, err := openStores(ctx, cfg, clk, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise storage")
	}
	defer st.close()

	// Redis backs dedupe and rate limiting when enabled; otherwise both
	// fall back to process-local stores.
	var (
		dedupe  ports.DedupeStore = memory.NewDedupeStore(clk)
		limiter ports.RateLimiter = memory.NewRateLimiter(clk)
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		dedupe = redisStorage.NewDedupeStore(rdb)
		limiter = redisStorage.NewRateLimitStore(rdb, clk)
		st.health = append(st.health, redisStorage.NewHealthCheck(rdb))
		log.Info().Msg("Redis connected")
	} else {
		log.Warn().Msg("Redis disabled, dedupe and rate limits are per process")
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Core services
	encSvc, err := service.NewEncryptionServiceFromSecret(cfg.AES.Key, cfg.AES.PreviousKeys...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Event bus
	schemas := eventbus.NewSchemaRegistry()
	if err := definitions.RegisterSchemas(schemas); err != nil {
		log.Fatal().Err(err).Msg("Failed to register event schemas")
	}
	bus := eventbus.New(log,
		eventbus.WithClock(clk),
		eventbus.WithSchemas(schemas),
		eventbus.WithEventLog(st.events),
		eventbus.WithMetrics(m),
	)

	// Outbound webhooks
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.Threshold,
		Window:           cfg.Breaker.Window,
		RecoveryTimeout:  cfg.Breaker.Recovery,
	},
		circuitbreaker.WithClock(clk),
		circuitbreaker.WithStateChange(func(name string, from, to circuitbreaker.State) {
			m.BreakerState(name, string(to))
			log.Warn().Str("destination", name).Str("from", string(from)).Str("to", string(to)).Msg("circuit breaker transition")
		}),
	)
	dispatcher := service.NewWebhookDispatcher(service.WebhookDispatcherDeps{
		Endpoints: st.endpoints,
		Logs:      st.logs,
		Events:    st.events,
		Breakers:  breakers,
		EncSvc:    encSvc,
		SigSvc:    sigSvc,
		Clock:     clk,
		Metrics:   m,
	}, service.DispatcherConfig{
		Timeout:     cfg.Webhook.Timeout,
		Workers:     cfg.Webhook.Workers,
		QueueSize:   cfg.Webhook.QueueSize,
		Parallelism: cfg.Webhook.Parallelism,
	}, log)
	if err := dispatcher.Subscribe(bus); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe webhook dispatcher")
	}

	// Inbound webhooks
	inbound := service.NewInboundRouter(service.InboundRouterDeps{
		Secrets:  config.ProviderSecret,
		Verifier: sigSvc,
		Inbox:    st.inbox,
		Dedupe:   dedupe,
		Clock:    clk,
		Metrics:  m,
	}, cfg.Inbound.DedupeTTL, log)
	inboxWorker := service.NewInboxWorker(st.inbox, bus, clk, m, service.InboxWorkerConfig{
		PollInterval: cfg.Inbound.InboxPollInterval,
		BatchSize:    cfg.Inbound.InboxBatch,
		ClaimTTL:     cfg.Inbound.InboxClaimTTL,
		MaxAttempts:  cfg.Inbound.InboxMaxAttempts,
	}, log)

	// Sagas
	orch := service.NewSagaOrchestrator(st.sagas, bus, clk, m, service.SagaOrchestratorConfig{
		DefaultTimeout: cfg.Saga.DefaultTimeout,
		SweepInterval:  cfg.Saga.SweepInterval,
	}, log)
	if err := definitions.Register(orch, definitions.NewCommandPorts(bus).Ports(), definitions.Options{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register sagas")
	}
	if n, err := orch.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("Saga recovery failed")
	} else if n > 0 {
		log.Warn().Int("runs", n).Msg("Compensated saga runs interrupted by the last shutdown")
	}

	// Setup Gin router with all routes
	deps := httpHandler.RouterDeps{
		Inbound:        inbound,
		Publisher:      bus,
		Sagas:          orch,
		Deliveries:     dispatcher,
		TokenSvc:       tokenSvc,
		RateLimiter:    limiter,
		RateLimits:     middleware.DefaultRateLimitRules(middleware.RateLimitRule{Limit: cfg.Inbound.RateLimit, Window: cfg.Inbound.RateWindow}),
		HealthCheckers: st.health,
		Breakers:       breakers,
		Logger:         log,
	}
	if cfg.Metrics.Enabled {
		deps.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
		deps.MetricsPath = cfg.Metrics.Path
	}
	router := httpHandler.SetupRouter(deps)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The dispatcher outlives every producer: it is stopped only after the
	// HTTP server has drained and in-flight sagas have settled.
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan error, 1)
	go func() { dispatchDone <- dispatcher.Run(dispatchCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return inboxWorker.Run(gctx) })
	g.Go(func() error { return orch.RunSweeper(gctx) })
	g.Go(func() error {
		pruneEvents(gctx, st.events, clk, cfg.Storage.EventRetention, log)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Orchestrator stopped with error")
	}
	orch.Wait()

	stopDispatch()
	if err := <-dispatchDone; err != nil {
		log.Error().Err(err).Msg("Webhook dispatcher stopped with error")
	}

	log.Info().Msg("Server exited")
}

// openStores connects the configured storage driver.
func openStores(ctx context.Context, cfg *config.Config, clk clock.Clock, log zerolog.Logger) (*stores, error) {
	if cfg.Storage.Driver == config.StorageDriverMemory {
		log.Warn().Msg("Using in-memory storage, state is lost on restart")
		return &stores{
			endpoints: memory.NewEndpointRepo(),
			logs:      memory.NewDeliveryLogRepo(),
			sagas:     memory.NewSagaRunStore(),
			inbox:     memory.NewInboxRepo(clk),
			events:    memory.NewEventLog(),
			close:     func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info().Msg("PostgreSQL connected")

	if cfg.Database.AutoMigrate {
		if err := pgStorage.Migrate(pool, log); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &stores{
		endpoints: pgStorage.NewEndpointRepo(pool),
		logs:      pgStorage.NewDeliveryLogRepo(pool),
		sagas:     pgStorage.NewSagaRunStore(pool),
		inbox:     pgStorage.NewInboxRepo(pool),
		events:    pgStorage.NewEventLog(pool),
		health:    []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
		close:     pool.Close,
	}, nil
}

// pruneEvents drops event log entries older than retention once an hour.
func pruneEvents(ctx context.Context, events ports.EventLog, clk clock.Clock, retention time.Duration, log zerolog.Logger) {
	if retention <= 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-clk.After(time.Hour):
		}
		n, err := events.Prune(ctx, clk.Now().Add(-retention))
		if err != nil {
			log.Error().Err(err).Msg("event log prune failed")
			continue
		}
		if n > 0 {
			log.Info().Int64("pruned", n).Msg("event log pruned")
		}
	}
}
