package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"bizsuite-orchestrator/internal/circuitbreaker"
	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/internal/eventbus"
	"bizsuite-orchestrator/internal/observability/metrics"
	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/logger"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Outbound webhook headers.
const (
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderEventType        = "X-Event-Type"
	HeaderEventID          = "X-Event-ID"
	HeaderWebhookAttempt   = "X-Webhook-Attempt"
)

// DefaultDeliveryTimeout is the hard bound on one outbound POST.
const DefaultDeliveryTimeout = 10 * time.Second

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DispatcherConfig tunes the dispatcher. Workers == 0 delivers synchronously
// inside HandleEvent.
type DispatcherConfig struct {
	Timeout     time.Duration
	Workers     int
	QueueSize   int
	Parallelism int
}

// WebhookDispatcherDeps groups the dispatcher collaborators.
type WebhookDispatcherDeps struct {
	Endpoints  ports.WebhookEndpointRepository
	Logs       ports.DeliveryLogRepository
	Events     ports.EventLog
	Breakers   *circuitbreaker.Registry
	EncSvc     ports.EncryptionService
	SigSvc     ports.SignatureService
	HTTPClient HTTPClient
	Clock      clock.Clock
	Metrics    *metrics.Metrics
}

// WebhookDispatcher delivers domain events to tenant-registered endpoints.
// It implements ports.DeliveryService.
type WebhookDispatcher struct {
	deps  WebhookDispatcherDeps
	cfg   DispatcherConfig
	log   zerolog.Logger
	queue chan domain.DomainEvent

	// stopMu orders enqueues against the final drain in Run.
	stopMu  sync.RWMutex
	stopped bool
}

// NewWebhookDispatcher creates a new dispatcher.
func NewWebhookDispatcher(deps WebhookDispatcherDeps, cfg DispatcherConfig, log zerolog.Logger) *WebhookDispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDeliveryTimeout
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Breakers == nil {
		deps.Breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{}, circuitbreaker.WithClock(deps.Clock))
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	d := &WebhookDispatcher{
		deps: deps,
		cfg:  cfg,
		log:  logger.Component(log, "webhook-dispatcher"),
	}
	if cfg.Workers > 0 {
		size := cfg.QueueSize
		if size <= 0 {
			size = 1024
		}
		d.queue = make(chan domain.DomainEvent, size)
	}
	return d
}

// Subscribe wires the dispatcher to every event on the bus.
func (d *WebhookDispatcher) Subscribe(bus *eventbus.Bus) error {
	_, err := bus.Subscribe(eventbus.Wildcard, "webhook-dispatcher", d.HandleEvent)
	return err
}

// HandleEvent is the EventBus subscriber. With workers configured it hands
// the event to the queue; a full queue, or a dispatcher whose Run has
// returned, falls back to inline delivery so no event is dropped.
func (d *WebhookDispatcher) HandleEvent(ctx context.Context, evt domain.DomainEvent) error {
	if d.queue == nil {
		return d.DispatchWebhooks(ctx, evt)
	}
	d.stopMu.RLock()
	defer d.stopMu.RUnlock()
	if d.stopped {
		return d.DispatchWebhooks(context.WithoutCancel(ctx), evt)
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		d.log.Warn().Str("event_id", evt.ID).Msg("webhook: dispatch queue full, delivering inline")
		return d.DispatchWebhooks(context.WithoutCancel(ctx), evt)
	}
}

// Run drains the dispatch queue with the configured number of workers until
// ctx is cancelled, then flushes whatever is still queued. Events handled
// after Run returns are delivered inline.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	if d.queue == nil {
		<-ctx.Done()
		return nil
	}

	// Deliveries already taken off the queue finish even after ctx ends;
	// each one is bounded by the delivery timeout.
	deliverCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case evt := <-d.queue:
					d.dispatchLogged(deliverCtx, evt)
				}
			}
		})
	}
	_ = g.Wait()

	d.stopMu.Lock()
	d.stopped = true
	d.stopMu.Unlock()

	for {
		select {
		case evt := <-d.queue:
			d.dispatchLogged(deliverCtx, evt)
		default:
			return nil
		}
	}
}

func (d *WebhookDispatcher) dispatchLogged(ctx context.Context, evt domain.DomainEvent) {
	if err := d.DispatchWebhooks(ctx, evt); err != nil {
		d.log.Error().Err(err).Str("event_id", evt.ID).Msg("webhook: dispatch failed")
	}
}

// DispatchWebhooks delivers evt once to every active endpoint of its tenant
// whose subscriptions match the event type. Delivery failures are recorded,
// never returned; only a failed endpoint lookup is an error.
func (d *WebhookDispatcher) DispatchWebhooks(ctx context.Context, evt domain.DomainEvent) error {
	endpoints, err := d.deps.Endpoints.ListActiveByTenant(ctx, evt.TenantID)
	if err != nil {
		return fmt.Errorf("listing endpoints for tenant %s: %w", evt.TenantID, err)
	}

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Parallelism)
	for _, ep := range endpoints {
		if !ep.Active || !eventbus.MatchAny(ep.Events, evt.Type) {
			continue
		}
		ep := ep
		g.Go(func() error {
			d.deliver(ctx, ep, evt, 1)
			return nil
		})
	}
	return g.Wait()
}

// errBreakerOpen marks a pre-flight rejection.
var errBreakerOpen = errors.New("circuit open")

// deliver performs one attempt. It returns the appended log row, or nil and
// a reason when the attempt was not made.
func (d *WebhookDispatcher) deliver(ctx context.Context, ep domain.WebhookEndpoint, evt domain.DomainEvent, attempt int) (*domain.WebhookDeliveryLog, error) {
	l := d.log.With().
		Str("webhook_id", ep.ID.String()).
		Str("event_id", evt.ID).
		Str("event_type", evt.Type).
		Logger()

	delivered, err := d.deps.Logs.HasSuccess(ctx, ep.ID, evt.ID)
	if err != nil {
		l.Warn().Err(err).Msg("webhook: delivery log lookup failed, delivering anyway")
	} else if delivered {
		l.Debug().Msg("webhook: already delivered, skipping")
		d.deps.Metrics.Delivery(metrics.DeliveryDuplicate)
		return nil, apperror.ErrDeliveryNotReplayable()
	}

	breaker := d.deps.Breakers.Get(ep.ID.String())
	if !breaker.CanExecute() {
		l.Warn().Str("url", ep.URL).Msg("webhook: circuit open, skipping delivery")
		d.deps.Metrics.Delivery(metrics.DeliverySkippedOpen)
		return nil, errBreakerOpen
	}

	entry := &domain.WebhookDeliveryLog{
		ID:        uuid.New(),
		WebhookID: ep.ID,
		EventID:   evt.ID,
		EventType: evt.Type,
		TenantID:  evt.TenantID,
		URL:       ep.URL,
		Attempt:   attempt,
	}

	status, respBody, duration, sendErr := d.send(ctx, ep, evt, attempt)
	now := d.deps.Clock.Now().UTC()

	entry.DurationMs = duration.Milliseconds()
	entry.CreatedAt = now
	if status != 0 {
		entry.ResponseStatus = &status
	}
	if respBody != "" {
		entry.ResponseBody = &respBody
	}
	entry.Success = sendErr == nil && status >= 200 && status < 300
	if !entry.Success {
		msg := fmt.Sprintf("non-2xx response: %d", status)
		if sendErr != nil {
			msg = sendErr.Error()
		}
		entry.Error = &msg
	}

	d.deps.Metrics.DeliveryDuration(duration)
	if entry.Success {
		breaker.RecordSuccess()
		d.deps.Metrics.Delivery(metrics.DeliverySuccess)
		if err := d.deps.Endpoints.RecordSuccess(ctx, ep.ID, now); err != nil {
			l.Error().Err(err).Msg("webhook: failed to reset endpoint failure count")
		}
		l.Info().Int("status", status).Int64("duration_ms", entry.DurationMs).Msg("webhook: delivered")
	} else {
		breaker.RecordFailure()
		d.deps.Metrics.Delivery(metrics.DeliveryFailure)
		if err := d.deps.Endpoints.RecordFailure(ctx, ep.ID, now); err != nil {
			l.Error().Err(err).Msg("webhook: failed to increment endpoint failure count")
		}
		l.Warn().Int("status", status).Str("error", *entry.Error).Msg("webhook: delivery failed")
	}

	if err := d.deps.Logs.Append(ctx, entry); err != nil {
		l.Error().Err(err).Msg("webhook: failed to append delivery log")
	}
	return entry, nil
}

// send POSTs the signed body. A zero status means no response was received.
func (d *WebhookDispatcher) send(ctx context.Context, ep domain.WebhookEndpoint, evt domain.DomainEvent, attempt int) (int, string, time.Duration, error) {
	body, err := json.Marshal(domain.NewDeliveryBody(evt))
	if err != nil {
		return 0, "", 0, fmt.Errorf("marshaling delivery body: %w", err)
	}

	secret, err := d.deps.EncSvc.Decrypt(ep.SecretEnc)
	if err != nil {
		return 0, "", 0, fmt.Errorf("decrypting endpoint secret: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", 0, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderWebhookSignature, d.deps.SigSvc.Sign(secret, body))
	req.Header.Set(HeaderEventType, evt.Type)
	req.Header.Set(HeaderEventID, evt.ID)
	req.Header.Set(HeaderWebhookAttempt, strconv.Itoa(attempt))

	start := d.deps.Clock.Now()
	resp, err := d.deps.HTTPClient.Do(req)
	duration := d.deps.Clock.Now().Sub(start)
	if err != nil {
		return 0, "", duration, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*domain.MaxDeliveryResponseBody))
	return resp.StatusCode, domain.TruncateBody(string(raw)), duration, nil
}

// ListDeliveries returns delivery log rows matching filter.
func (d *WebhookDispatcher) ListDeliveries(ctx context.Context, filter ports.DeliveryLogFilter) ([]domain.WebhookDeliveryLog, error) {
	rows, err := d.deps.Logs.List(ctx, filter)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	return rows, nil
}

// ReplayDelivery re-sends the event of a failed delivery row to the same
// endpoint as a new attempt.
func (d *WebhookDispatcher) ReplayDelivery(ctx context.Context, tenantID string, logID uuid.UUID) (*domain.WebhookDeliveryLog, error) {
	row, err := d.deps.Logs.GetByID(ctx, logID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if row == nil || row.TenantID != tenantID {
		return nil, apperror.ErrNotFound("Delivery")
	}
	if row.Success {
		return nil, apperror.ErrDeliveryNotReplayable()
	}

	ep, err := d.deps.Endpoints.GetByID(ctx, row.WebhookID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if ep == nil || ep.TenantID != tenantID || !ep.Active {
		return nil, apperror.ErrNotFound("Webhook endpoint")
	}

	if d.deps.Events == nil {
		return nil, apperror.ErrEventExpired()
	}
	evt, err := d.deps.Events.Get(ctx, row.EventID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}
	if evt == nil {
		return nil, apperror.ErrEventExpired()
	}

	last, err := d.deps.Logs.LastAttempt(ctx, row.WebhookID, row.EventID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(err)
	}

	entry, err := d.deliver(ctx, *ep, *evt, last+1)
	if errors.Is(err, errBreakerOpen) {
		return nil, apperror.ErrCircuitOpen()
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}
