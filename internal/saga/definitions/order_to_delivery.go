package definitions

import (
	"context"
	"fmt"

	"bizsuite-orchestrator/internal/core/domain"
)

const (
	OrderToDeliveryName    = "order_to_delivery"
	OrderToDeliveryTrigger = "saleorder.confirmed"
)

// OrderToDelivery reserves stock, invoices the customer and books the
// shipment for a confirmed sales order.
func OrderToDelivery(p Ports, opts Options) domain.SagaDefinition {
	opts = opts.withDefaults()
	return domain.SagaDefinition{
		Name:         OrderToDeliveryName,
		TriggerEvent: OrderToDeliveryTrigger,
		Timeout:      opts.OrderTimeout,
		Steps: []domain.Step{
			{
				Name: "reserve_stock",
				Execute: func(ctx context.Context, sc domain.SagaContext, trigger domain.DomainEvent) (domain.SagaContext, error) {
					orderID, err := requireString(trigger.Payload, KeyOrderID)
					if err != nil {
						return nil, err
					}
					lines, err := stockLines(trigger.Payload)
					if err != nil {
						return nil, err
					}
					id, err := p.Inventory.Reserve(ctx, trigger.TenantID, orderID, lines)
					if err != nil {
						return nil, err
					}
					return domain.SagaContext{KeyTenantID: trigger.TenantID, KeyOrderID: orderID, KeyReservationID: id}, nil
				},
				Compensate: func(ctx context.Context, sc domain.SagaContext) error {
					return p.Inventory.Release(ctx, sc.String(KeyTenantID), sc.String(KeyReservationID))
				},
			},
			{
				Name: "create_invoice",
				Execute: func(ctx context.Context, sc domain.SagaContext, trigger domain.DomainEvent) (domain.SagaContext, error) {
					id, err := p.Billing.CreateInvoice(ctx, sc.String(KeyTenantID), sc.String(KeyOrderID))
					if err != nil {
						return nil, err
					}
					return domain.SagaContext{KeyInvoiceID: id}, nil
				},
				Compensate: func(ctx context.Context, sc domain.SagaContext) error {
					return p.Billing.VoidInvoice(ctx, sc.String(KeyTenantID), sc.String(KeyInvoiceID))
				},
			},
			{
				Name: "create_shipment",
				Execute: func(ctx context.Context, sc domain.SagaContext, trigger domain.DomainEvent) (domain.SagaContext, error) {
					id, err := p.Fulfilment.CreateShipment(ctx, sc.String(KeyTenantID), sc.String(KeyOrderID), sc.String(KeyReservationID))
					if err != nil {
						return nil, err
					}
					return domain.SagaContext{KeyShipmentID: id}, nil
				},
				Compensate: func(ctx context.Context, sc domain.SagaContext) error {
					return p.Fulfilment.CancelShipment(ctx, sc.String(KeyTenantID), sc.String(KeyShipmentID))
				},
			},
		},
	}
}

// stockLines reads the optional "lines" array of a sales order payload.
func stockLines(payload domain.Payload) ([]StockLine, error) {
	raw, ok := payload["lines"]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("lines: expected array, got %T", raw)
	}
	out := make([]StockLine, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("lines[%d]: expected object", i)
		}
		sku, _ := m["sku"].(string)
		qty, _ := m["quantity"].(float64)
		if sku == "" || qty <= 0 {
			return nil, fmt.Errorf("lines[%d]: sku and positive quantity required", i)
		}
		out = append(out, StockLine{SKU: sku, Quantity: qty})
	}
	return out, nil
}
