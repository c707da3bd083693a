package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/internal/observability/metrics"
	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/logger"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// InboxWorkerConfig tunes the inbox drain loop.
type InboxWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	ClaimTTL     time.Duration
	MaxAttempts  int
}

func (c InboxWorkerConfig) withDefaults() InboxWorkerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// InboxWorker publishes accepted inbound webhooks on the EventBus.
type InboxWorker struct {
	inbox     ports.InboxRepository
	publisher ports.EventPublisher
	clock     clock.Clock
	metrics   *metrics.Metrics
	cfg       InboxWorkerConfig
	log       zerolog.Logger
}

// NewInboxWorker constructs the inbox drain loop.
func NewInboxWorker(inbox ports.InboxRepository, publisher ports.EventPublisher, clk clock.Clock, m *metrics.Metrics, cfg InboxWorkerConfig, log zerolog.Logger) *InboxWorker {
	if clk == nil {
		clk = clock.WallClock
	}
	return &InboxWorker{
		inbox:     inbox,
		publisher: publisher,
		clock:     clk,
		metrics:   m,
		cfg:       cfg.withDefaults(),
		log:       logger.Component(log, "inbox-worker"),
	}
}

// Run drains the inbox until ctx is cancelled.
func (w *InboxWorker) Run(ctx context.Context) error {
	for {
		if _, err := w.ProcessOnce(ctx); err != nil {
			w.log.Error().Err(err).Msg("inbox: iteration failed")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-w.clock.After(w.cfg.PollInterval):
		}
	}
}

// ProcessOnce claims one batch and publishes it. It returns the number of
// messages published.
func (w *InboxWorker) ProcessOnce(ctx context.Context) (int, error) {
	now := w.clock.Now().UTC()
	msgs, err := w.inbox.ClaimPending(ctx, w.cfg.BatchSize, now.Add(w.cfg.ClaimTTL))
	if err != nil {
		return 0, err
	}
	w.metrics.InboxClaimed(len(msgs))

	published := 0
	for i := range msgs {
		if ctx.Err() != nil {
			break
		}
		if w.publish(ctx, &msgs[i]) {
			published++
		}
	}
	return published, nil
}

func (w *InboxWorker) publish(ctx context.Context, msg *domain.InboundMessage) bool {
	l := w.log.With().
		Str("inbox_id", msg.ID.String()).
		Str("provider", msg.Provider).
		Str("event_type", msg.EventType).
		Logger()

	evt, err := w.publisher.Publish(ctx, ports.PublishInput{
		Type:     msg.EventType,
		TenantID: msg.TenantID,
		Payload:  msg.Payload,
		Metadata: domain.EventMetadata{
			Source:        msg.Source(),
			CorrelationID: msg.ID.String(),
		},
	})
	if err != nil {
		attempts := msg.Attempts + 1
		deadLetter := attempts >= w.cfg.MaxAttempts || permanent(err)
		if deadLetter {
			l.Error().Err(err).Int("attempts", attempts).Msg("inbox: message moved to dead letter")
		} else {
			l.Warn().Err(err).Int("attempts", attempts).Msg("inbox: publish failed, will retry")
		}
		if merr := w.inbox.MarkFailed(ctx, msg.ID, err.Error(), deadLetter); merr != nil {
			l.Error().Err(merr).Msg("inbox: failed to record failure")
		}
		return false
	}

	if err := w.inbox.MarkProcessed(ctx, msg.ID, w.clock.Now().UTC()); err != nil {
		// The lease expires and the message is published again; consumers
		// dedupe on the correlation id.
		l.Error().Err(err).Str("event_id", evt.ID).Msg("inbox: failed to mark processed")
		return false
	}
	l.Debug().Str("event_id", evt.ID).Msg("inbox: published")
	return true
}

// permanent reports whether retrying err cannot succeed.
func permanent(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr) && appErr.HTTPStatus >= http.StatusBadRequest && appErr.HTTPStatus < http.StatusInternalServerError
}
