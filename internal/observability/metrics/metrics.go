package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Delivery outcomes.
const (
	DeliverySuccess     = "success"
	DeliveryFailure     = "failure"
	DeliverySkippedOpen = "skipped_open"
	DeliveryDuplicate   = "duplicate"
)

// Inbound outcomes.
const (
	InboundAccepted         = "accepted"
	InboundDuplicate        = "duplicate"
	InboundUnknownProvider  = "unknown_provider"
	InboundInvalidSignature = "invalid_signature"
	InboundMalformed        = "malformed"
	InboundUnmapped         = "unmapped"
	InboundError            = "error"
)

// Metrics holds the orchestrator collectors. A nil *Metrics is a no-op so
// components can run without a registry in tests.
type Metrics struct {
	eventsPublished    *prometheus.CounterVec
	subscriberFailures *prometheus.CounterVec
	deliveries         *prometheus.CounterVec
	deliveryDuration   prometheus.Histogram
	breakerState       *prometheus.GaugeVec
	sagaRuns           *prometheus.CounterVec
	inboundWebhooks    *prometheus.CounterVec
	inboxDepth         prometheus.Gauge
}

// New registers the collectors on registerer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_events_published_total",
			Help: "Domain events published by namespace.",
		}, []string{"type_prefix"}),
		subscriberFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_subscriber_failures_total",
			Help: "Subscriber errors and panics swallowed by the event bus.",
		}, []string{"subscriber"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_webhook_deliveries_total",
			Help: "Outbound webhook deliveries by outcome.",
		}, []string{"outcome"}),
		deliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "orchestrator_webhook_delivery_seconds",
			Help:    "Outbound webhook round-trip latency.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_breaker_state",
			Help: "Circuit breaker state per destination (0 closed, 1 half_open, 2 open).",
		}, []string{"destination"}),
		sagaRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_saga_runs_total",
			Help: "Saga runs reaching a status.",
		}, []string{"saga", "status"}),
		inboundWebhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_inbound_webhooks_total",
			Help: "Inbound third-party webhooks by provider and outcome.",
		}, []string{"provider", "outcome"}),
		inboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_inbox_claimed",
			Help: "Inbound messages claimed in the last inbox poll.",
		}),
	}

	registerer.MustRegister(
		m.eventsPublished,
		m.subscriberFailures,
		m.deliveries,
		m.deliveryDuration,
		m.breakerState,
		m.sagaRuns,
		m.inboundWebhooks,
		m.inboxDepth,
	)
	return m
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	prefix := eventType
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		prefix = eventType[:i]
	}
	m.eventsPublished.WithLabelValues(prefix).Inc()
}

func (m *Metrics) SubscriberFailed(subscriber string) {
	if m == nil {
		return
	}
	m.subscriberFailures.WithLabelValues(subscriber).Inc()
}

func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) DeliveryDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.deliveryDuration.Observe(d.Seconds())
}

// BreakerState sets the gauge for destination. state is one of
// "closed", "half_open" or "open".
func (m *Metrics) BreakerState(destination, state string) {
	if m == nil {
		return
	}
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	m.breakerState.WithLabelValues(destination).Set(v)
}

func (m *Metrics) SagaRun(saga, status string) {
	if m == nil {
		return
	}
	m.sagaRuns.WithLabelValues(saga, status).Inc()
}

func (m *Metrics) Inbound(provider, outcome string) {
	if m == nil {
		return
	}
	m.inboundWebhooks.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) InboxClaimed(n int) {
	if m == nil {
		return
	}
	m.inboxDepth.Set(float64(n))
}
