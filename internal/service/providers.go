package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/eventbus"
)

// ErrEventIgnored is returned by a mapper for provider events that have no
// counterpart in the domain taxonomy.
var ErrEventIgnored = errors.New("provider event ignored")

// ErrMissingTenant is returned by a mapper when the tenant cannot be resolved.
var ErrMissingTenant = errors.New("tenant id not found in provider payload")

// MappedEvent is a provider webhook normalised into the domain taxonomy.
type MappedEvent struct {
	EventType string
	TenantID  string
	Payload   domain.Payload
}

// PayloadMapper normalises a parsed provider body. providerType is the value
// of the provider's event type field.
type PayloadMapper func(body map[string]any, providerType string) (MappedEvent, error)

// Provider describes how one third party signs and shapes its webhooks.
type Provider struct {
	Name            string
	SignatureHeader string
	Algorithm       SignatureAlgorithm
	EventTypeField  string
	Mapper          PayloadMapper
}

// ProviderRegistry maps lowercase provider keys to their definitions.
type ProviderRegistry struct {
	providers map[string]Provider
}

// NewProviderRegistry builds a registry. Later providers replace earlier ones
// with the same name.
func NewProviderRegistry(providers ...Provider) *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *ProviderRegistry) Register(p Provider) {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		return
	}
	p.Name = name
	r.providers[name] = p
}

// Lookup returns the provider for name.
func (r *ProviderRegistry) Lookup(name string) (Provider, bool) {
	if r == nil {
		return Provider{}, false
	}
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names returns the registered provider keys in order.
func (r *ProviderRegistry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DefaultProviders returns the built-in payment, stripe, logistics, tax and
// generic providers.
func DefaultProviders() []Provider {
	return []Provider{
		{
			Name:            "payment",
			SignatureHeader: "X-Razorpay-Signature",
			Algorithm:       AlgoHMACSHA256Hex,
			EventTypeField:  "event",
			Mapper:          mapPaymentGateway,
		},
		{
			Name:            "stripe",
			SignatureHeader: "Stripe-Signature",
			Algorithm:       AlgoTimestampedV1,
			EventTypeField:  "type",
			Mapper:          mapStripe,
		},
		{
			Name:            "logistics",
			SignatureHeader: "X-Logistics-Signature",
			Algorithm:       AlgoHMACSHA256Hex,
			EventTypeField:  "event_type",
			Mapper:          mapLogistics,
		},
		{
			Name:            "tax",
			SignatureHeader: "X-Tax-Signature",
			Algorithm:       AlgoHMACSHA256Base64,
			EventTypeField:  "type",
			Mapper:          mapTax,
		},
		{
			Name:            "generic",
			SignatureHeader: HeaderWebhookSignature,
			Algorithm:       AlgoHMACSHA256Hex,
			EventTypeField:  "event_type",
			Mapper:          mapGeneric,
		},
	}
}

var paymentGatewayTypes = map[string]string{
	"payment.captured":   "payment.recorded",
	"payment.failed":     "payment.failed",
	"payment.authorized": "payment.authorized",
	"refund.processed":   "payment.refunded",
	"order.paid":         "payment.recorded",
}

func mapPaymentGateway(body map[string]any, providerType string) (MappedEvent, error) {
	eventType, ok := paymentGatewayTypes[providerType]
	if !ok {
		return MappedEvent{}, fmt.Errorf("%w: %s", ErrEventIgnored, providerType)
	}

	entity := lookupMap(body, "payload.payment.entity")
	if entity == nil {
		entity = lookupMap(body, "payload.refund.entity")
	}
	tenant := firstString(
		lookupString(entity, "notes.tenant_id"),
		lookupString(body, "tenant_id"),
	)
	if tenant == "" {
		return MappedEvent{}, ErrMissingTenant
	}

	payload := domain.Payload{
		"provider":       "payment",
		"provider_event": providerType,
	}
	copyFields(payload, entity, map[string]string{
		"id":       "payment_id",
		"order_id": "provider_order_id",
		"amount":   "amount",
		"currency": "currency",
		"method":   "method",
		"status":   "status",
	})
	copyFields(payload, lookupMap(entity, "notes"), map[string]string{
		"invoice_id": "invoice_id",
		"order_id":   "order_id",
	})
	return MappedEvent{EventType: eventType, TenantID: tenant, Payload: payload}, nil
}

var stripeTypes = map[string]string{
	"payment_intent.succeeded":      "payment.recorded",
	"payment_intent.payment_failed": "payment.failed",
	"charge.succeeded":              "payment.recorded",
	"charge.refunded":               "payment.refunded",
	"charge.dispute.created":        "payment.disputed",
}

func mapStripe(body map[string]any, providerType string) (MappedEvent, error) {
	eventType, ok := stripeTypes[providerType]
	if !ok {
		return MappedEvent{}, fmt.Errorf("%w: %s", ErrEventIgnored, providerType)
	}

	object := lookupMap(body, "data.object")
	tenant := firstString(
		lookupString(object, "metadata.tenant_id"),
		lookupString(body, "account"),
	)
	if tenant == "" {
		return MappedEvent{}, ErrMissingTenant
	}

	payload := domain.Payload{
		"provider":          "stripe",
		"provider_event":    providerType,
		"provider_event_id": lookupString(body, "id"),
	}
	copyFields(payload, object, map[string]string{
		"id":       "payment_id",
		"amount":   "amount",
		"currency": "currency",
		"status":   "status",
	})
	copyFields(payload, lookupMap(object, "metadata"), map[string]string{
		"invoice_id": "invoice_id",
		"order_id":   "order_id",
	})
	return MappedEvent{EventType: eventType, TenantID: tenant, Payload: payload}, nil
}

var logisticsTypes = map[string]string{
	"shipment.created":    "shipment.created",
	"shipment.picked_up":  "shipment.dispatched",
	"shipment.in_transit": "shipment.in_transit",
	"shipment.delivered":  "shipment.delivered",
	"shipment.exception":  "shipment.failed",
	"shipment.returned":   "shipment.returned",
}

func mapLogistics(body map[string]any, providerType string) (MappedEvent, error) {
	eventType, ok := logisticsTypes[providerType]
	if !ok {
		return MappedEvent{}, fmt.Errorf("%w: %s", ErrEventIgnored, providerType)
	}
	tenant := firstString(lookupString(body, "tenant_id"), lookupString(body, "merchant_reference"))
	if tenant == "" {
		return MappedEvent{}, ErrMissingTenant
	}

	payload := domain.Payload{
		"provider":       "logistics",
		"provider_event": providerType,
	}
	copyFields(payload, body, map[string]string{
		"shipment_id":   "shipment_id",
		"awb":           "tracking_number",
		"order_id":      "order_id",
		"status":        "status",
		"location":      "location",
		"delivered_at":  "delivered_at",
		"reason":        "reason",
		"courier":       "carrier",
		"expected_date": "expected_delivery",
	})
	return MappedEvent{EventType: eventType, TenantID: tenant, Payload: payload}, nil
}

var taxTypes = map[string]string{
	"einvoice.generated": "invoice.tax_registered",
	"einvoice.cancelled": "invoice.tax_cancelled",
	"ewaybill.generated": "shipment.tax_document_issued",
	"filing.completed":   "tax.filing_completed",
}

func mapTax(body map[string]any, providerType string) (MappedEvent, error) {
	eventType, ok := taxTypes[providerType]
	if !ok {
		return MappedEvent{}, fmt.Errorf("%w: %s", ErrEventIgnored, providerType)
	}
	data := lookupMap(body, "data")
	tenant := firstString(lookupString(body, "tenant_id"), lookupString(data, "tenant_id"))
	if tenant == "" {
		return MappedEvent{}, ErrMissingTenant
	}

	payload := domain.Payload{
		"provider":       "tax",
		"provider_event": providerType,
	}
	copyFields(payload, data, map[string]string{
		"invoice_id":    "invoice_id",
		"irn":           "irn",
		"ack_no":        "ack_number",
		"ewaybill_no":   "ewaybill_number",
		"shipment_id":   "shipment_id",
		"period":        "period",
		"cancel_reason": "reason",
	})
	return MappedEvent{EventType: eventType, TenantID: tenant, Payload: payload}, nil
}

// mapGeneric accepts events already expressed in the domain taxonomy.
func mapGeneric(body map[string]any, providerType string) (MappedEvent, error) {
	if !eventbus.ValidType(providerType) || strings.HasPrefix(providerType, "saga.") {
		return MappedEvent{}, fmt.Errorf("%w: %q", ErrEventIgnored, providerType)
	}
	tenant := lookupString(body, "tenant_id")
	if tenant == "" {
		return MappedEvent{}, ErrMissingTenant
	}

	payload := domain.Payload(lookupMap(body, "payload"))
	if payload == nil {
		payload = domain.Payload{}
		for k, v := range body {
			if k == "event_type" || k == "tenant_id" {
				continue
			}
			payload[k] = v
		}
	}
	return MappedEvent{EventType: providerType, TenantID: tenant, Payload: payload}, nil
}

// lookupMap walks a dotted path of nested objects.
func lookupMap(m map[string]any, path string) map[string]any {
	cur := m
	for _, key := range strings.Split(path, ".") {
		if cur == nil {
			return nil
		}
		next, ok := cur[key].(map[string]any)
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

// lookupString resolves a dotted path whose last segment is a string value.
func lookupString(m map[string]any, path string) string {
	if m == nil {
		return ""
	}
	parent := m
	key := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		parent = lookupMap(m, path[:i])
		key = path[i+1:]
	}
	if parent == nil {
		return ""
	}
	s, _ := parent[key].(string)
	return strings.TrimSpace(s)
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// copyFields copies present source keys into dst under their mapped names.
func copyFields(dst domain.Payload, src map[string]any, fields map[string]string) {
	for from, to := range fields {
		if v, ok := src[from]; ok && v != nil {
			dst[to] = v
		}
	}
}
