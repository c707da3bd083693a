package service

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestProviderRegistry_Lookup(t *testing.T) {
	r := NewProviderRegistry(DefaultProviders()...)

	assert.Equal(t, []string{"generic", "logistics", "payment", "stripe", "tax"}, r.Names())

	p, ok := r.Lookup(" Stripe ")
	require.True(t, ok)
	assert.Equal(t, "stripe", p.Name)
	assert.Equal(t, AlgoTimestampedV1, p.Algorithm)

	_, ok = r.Lookup("paypal")
	assert.False(t, ok)

	var nilRegistry *ProviderRegistry
	_, ok = nilRegistry.Lookup("stripe")
	assert.False(t, ok)
}

func TestProviderRegistry_RegisterReplaces(t *testing.T) {
	r := NewProviderRegistry(DefaultProviders()...)
	r.Register(Provider{Name: "TAX", SignatureHeader: "X-Other", Algorithm: AlgoHMACSHA512Hex, Mapper: mapGeneric})

	p, ok := r.Lookup("tax")
	require.True(t, ok)
	assert.Equal(t, "X-Other", p.SignatureHeader)

	r.Register(Provider{Name: "  "})
	assert.Len(t, r.Names(), 5)
}

func TestMapPaymentGateway(t *testing.T) {
	body := decode(t, `{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": "pay_29QQoUBi66xm2f", "amount": 50000, "currency": "INR", "method": "upi",
			"notes": {"tenant_id": "tenant-7", "invoice_id": "inv-9"}
		}}}
	}`)

	got, err := mapPaymentGateway(body, "payment.captured")
	require.NoError(t, err)
	assert.Equal(t, "payment.recorded", got.EventType)
	assert.Equal(t, "tenant-7", got.TenantID)
	assert.Equal(t, "pay_29QQoUBi66xm2f", got.Payload["payment_id"])
	assert.Equal(t, 50000.0, got.Payload["amount"])
	assert.Equal(t, "inv-9", got.Payload["invoice_id"])
	assert.Equal(t, "payment.captured", got.Payload["provider_event"])

	_, err = mapPaymentGateway(body, "subscription.charged")
	assert.True(t, errors.Is(err, ErrEventIgnored))

	_, err = mapPaymentGateway(decode(t, `{"event":"payment.failed"}`), "payment.failed")
	assert.ErrorIs(t, err, ErrMissingTenant)
}

func TestMapStripe(t *testing.T) {
	body := decode(t, `{
		"id": "evt_1", "type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "amount": 1999, "currency": "usd",
			"metadata": {"tenant_id": "tenant-1", "order_id": "so-5"}}}
	}`)

	got, err := mapStripe(body, "payment_intent.succeeded")
	require.NoError(t, err)
	assert.Equal(t, "payment.recorded", got.EventType)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, "evt_1", got.Payload["provider_event_id"])
	assert.Equal(t, "pi_1", got.Payload["payment_id"])
	assert.Equal(t, "so-5", got.Payload["order_id"])

	_, err = mapStripe(body, "customer.created")
	assert.ErrorIs(t, err, ErrEventIgnored)
}

func TestMapLogistics(t *testing.T) {
	body := decode(t, `{"event_type":"shipment.delivered","tenant_id":"t1","shipment_id":"shp-1","awb":"AWB123","delivered_at":"2026-05-01T10:00:00Z"}`)

	got, err := mapLogistics(body, "shipment.delivered")
	require.NoError(t, err)
	assert.Equal(t, "shipment.delivered", got.EventType)
	assert.Equal(t, "AWB123", got.Payload["tracking_number"])
	assert.Equal(t, "shp-1", got.Payload["shipment_id"])

	got, err = mapLogistics(body, "shipment.exception")
	require.NoError(t, err)
	assert.Equal(t, "shipment.failed", got.EventType)
}

func TestMapTax(t *testing.T) {
	body := decode(t, `{"type":"einvoice.generated","data":{"tenant_id":"t9","invoice_id":"inv-1","irn":"a1b2"}}`)

	got, err := mapTax(body, "einvoice.generated")
	require.NoError(t, err)
	assert.Equal(t, "invoice.tax_registered", got.EventType)
	assert.Equal(t, "t9", got.TenantID)
	assert.Equal(t, "a1b2", got.Payload["irn"])
}

func TestMapGeneric(t *testing.T) {
	t.Run("nested payload", func(t *testing.T) {
		body := decode(t, `{"event_type":"crm.lead_created","tenant_id":"t1","payload":{"lead_id":"l-1"}}`)
		got, err := mapGeneric(body, "crm.lead_created")
		require.NoError(t, err)
		assert.Equal(t, "crm.lead_created", got.EventType)
		assert.Equal(t, "l-1", got.Payload["lead_id"])
	})

	t.Run("flat body", func(t *testing.T) {
		body := decode(t, `{"event_type":"crm.lead_created","tenant_id":"t1","lead_id":"l-2"}`)
		got, err := mapGeneric(body, "crm.lead_created")
		require.NoError(t, err)
		assert.Equal(t, "l-2", got.Payload["lead_id"])
		assert.NotContains(t, got.Payload, "tenant_id")
		assert.NotContains(t, got.Payload, "event_type")
	})

	t.Run("invalid or reserved types are ignored", func(t *testing.T) {
		for _, typ := range []string{"", "nodot", "Bad.Type", "saga.completed"} {
			_, err := mapGeneric(map[string]any{"tenant_id": "t1"}, typ)
			assert.ErrorIs(t, err, ErrEventIgnored, typ)
		}
	})
}

func TestLookupString(t *testing.T) {
	m := decode(t, `{"a":{"b":{"c":" x "}},"n":1}`)
	assert.Equal(t, "x", lookupString(m, "a.b.c"))
	assert.Equal(t, "", lookupString(m, "a.b.missing"))
	assert.Equal(t, "", lookupString(m, "n"))
	assert.Equal(t, "", lookupString(nil, "a"))
}
