package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/internal/observability/metrics"
	"bizsuite-orchestrator/pkg/apperror"
	"bizsuite-orchestrator/pkg/logger"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// DefaultInboundDedupeTTL is how long a provider delivery is remembered.
const DefaultInboundDedupeTTL = 24 * time.Hour

// SignatureVerifier checks provider-specific signature headers.
type SignatureVerifier interface {
	VerifyWith(algo SignatureAlgorithm, secretKey string, payload []byte, header string, now time.Time) bool
}

// SecretLookup returns the configured secret for a provider, or "".
type SecretLookup func(provider string) string

// InboundRouterDeps groups the router collaborators.
type InboundRouterDeps struct {
	Providers *ProviderRegistry
	Secrets   SecretLookup
	Verifier  SignatureVerifier
	Inbox     ports.InboxRepository
	Dedupe    ports.DedupeStore
	Clock     clock.Clock
	Metrics   *metrics.Metrics
}

// InboundRouter verifies third-party webhooks and persists them to the
// inbox before acknowledging. It implements ports.InboundService.
type InboundRouter struct {
	deps      InboundRouterDeps
	dedupeTTL time.Duration
	log       zerolog.Logger
}

// NewInboundRouter creates a new inbound router.
func NewInboundRouter(deps InboundRouterDeps, dedupeTTL time.Duration, log zerolog.Logger) *InboundRouter {
	if deps.Providers == nil {
		deps.Providers = NewProviderRegistry(DefaultProviders()...)
	}
	if deps.Verifier == nil {
		deps.Verifier = NewHMACSignatureService()
	}
	if deps.Secrets == nil {
		deps.Secrets = func(string) string { return "" }
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if dedupeTTL <= 0 {
		dedupeTTL = DefaultInboundDedupeTTL
	}
	return &InboundRouter{
		deps:      deps,
		dedupeTTL: dedupeTTL,
		log:       logger.Component(log, "inbound-router"),
	}
}

// Accept runs the inbound pipeline for one request. Once the signature has
// been verified, mapping problems are acknowledged rather than returned so
// the provider does not retry them.
func (r *InboundRouter) Accept(ctx context.Context, provider string, headers http.Header, body []byte) (*ports.InboundAck, error) {
	p, ok := r.deps.Providers.Lookup(provider)
	if !ok {
		r.deps.Metrics.Inbound("unknown", metrics.InboundUnknownProvider)
		return nil, apperror.ErrUnknownProvider(provider)
	}
	l := r.log.With().Str("provider", p.Name).Logger()

	// Without a configured secret verification is not required.
	if secret := r.deps.Secrets(p.Name); secret != "" {
		header := headers.Get(p.SignatureHeader)
		if strings.TrimSpace(header) == "" {
			r.deps.Metrics.Inbound(p.Name, metrics.InboundInvalidSignature)
			l.Warn().Str("header", p.SignatureHeader).Msg("inbound: signature header missing")
			return nil, apperror.ErrMissingSignature()
		}
		if !r.deps.Verifier.VerifyWith(p.Algorithm, secret, body, header, r.deps.Clock.Now()) {
			r.deps.Metrics.Inbound(p.Name, metrics.InboundInvalidSignature)
			l.Warn().Msg("inbound: signature mismatch")
			return nil, apperror.ErrInvalidSignature()
		}
	}

	parsed, err := parseObject(body)
	if err != nil {
		r.deps.Metrics.Inbound(p.Name, metrics.InboundMalformed)
		return nil, apperror.ErrMalformedBody(err)
	}

	providerType := lookupString(parsed, p.EventTypeField)
	mapped, err := p.Mapper(parsed, providerType)
	if err != nil {
		r.deps.Metrics.Inbound(p.Name, metrics.InboundUnmapped)
		l.Warn().Err(err).Str("provider_event", providerType).Msg("inbound: event not mapped, acknowledging")
		return &ports.InboundAck{Received: true}, nil
	}

	scope := "inbound:" + p.Name
	key := bodyDigest(body)
	claimed := false
	if r.deps.Dedupe != nil {
		fresh, err := r.deps.Dedupe.CheckAndSet(ctx, scope, key, r.dedupeTTL)
		switch {
		case err != nil:
			l.Warn().Err(err).Msg("inbound: dedupe check failed, accepting")
		case !fresh:
			r.deps.Metrics.Inbound(p.Name, metrics.InboundDuplicate)
			l.Info().Str("event_type", mapped.EventType).Msg("inbound: duplicate delivery acknowledged")
			return &ports.InboundAck{Received: true, EventType: mapped.EventType, Duplicate: true}, nil
		default:
			claimed = true
		}
	}

	msg := &domain.InboundMessage{
		ID:         uuid.New(),
		Provider:   p.Name,
		EventType:  mapped.EventType,
		TenantID:   mapped.TenantID,
		Payload:    mapped.Payload,
		Status:     domain.InboxStatusPending,
		ReceivedAt: r.deps.Clock.Now().UTC(),
	}
	if err := r.deps.Inbox.Enqueue(ctx, msg); err != nil {
		if claimed {
			if ferr := r.deps.Dedupe.Forget(ctx, scope, key); ferr != nil {
				l.Error().Err(ferr).Msg("inbound: failed to release dedupe key")
			}
		}
		r.deps.Metrics.Inbound(p.Name, metrics.InboundError)
		l.Error().Err(err).Str("event_type", mapped.EventType).Msg("inbound: failed to persist to inbox")
		return nil, apperror.InternalError(fmt.Errorf("enqueue inbound webhook: %w", err))
	}

	r.deps.Metrics.Inbound(p.Name, metrics.InboundAccepted)
	l.Info().
		Str("inbox_id", msg.ID.String()).
		Str("event_type", msg.EventType).
		Str("tenant_id", msg.TenantID).
		Msg("inbound: accepted")
	return &ports.InboundAck{Received: true, EventType: mapped.EventType}, nil
}

var errNotObject = errors.New("body is not a JSON object")

func parseObject(body []byte) (map[string]any, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
