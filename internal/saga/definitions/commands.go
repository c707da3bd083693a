package definitions

import (
	"context"
	"fmt"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"

	"github.com/google/uuid"
)

// Command event types published by CommandPorts.
const (
	CmdReserveStock    = "inventory.reserve.requested"
	CmdReleaseStock    = "inventory.release.requested"
	CmdCreateInvoice   = "invoice.create.requested"
	CmdVoidInvoice     = "invoice.void.requested"
	CmdCreateShipment  = "shipment.create.requested"
	CmdCancelShipment  = "shipment.cancel.requested"
	CmdCreateGRN       = "grn.create.requested"
	CmdReverseGRN      = "grn.reverse.requested"
	CmdMatchInvoice    = "bill.match.requested"
	CmdSchedulePayment = "payment.schedule.requested"
)

const commandSource = "saga-orchestrator"

// CommandPorts implements every saga port by publishing a command event for
// the owning module. Ids for the resources it asks for are allocated here and
// carried in the command so the module creates them under that id.
type CommandPorts struct {
	publisher ports.EventPublisher
	newID     func() string
}

var (
	_ Inventory   = (*CommandPorts)(nil)
	_ Billing     = (*CommandPorts)(nil)
	_ Fulfilment  = (*CommandPorts)(nil)
	_ Procurement = (*CommandPorts)(nil)
)

func NewCommandPorts(publisher ports.EventPublisher) *CommandPorts {
	return &CommandPorts{publisher: publisher, newID: uuid.NewString}
}

// Ports returns c as every saga port.
func (c *CommandPorts) Ports() Ports {
	return Ports{Inventory: c, Billing: c, Fulfilment: c, Procurement: c}
}

func (c *CommandPorts) send(ctx context.Context, eventType, tenantID string, payload domain.Payload) error {
	_, err := c.publisher.Publish(ctx, ports.PublishInput{
		Type:     eventType,
		TenantID: tenantID,
		Payload:  payload,
		Metadata: domain.EventMetadata{Source: commandSource},
	})
	if err != nil {
		return fmt.Errorf("publishing %s: %w", eventType, err)
	}
	return nil
}

func (c *CommandPorts) Reserve(ctx context.Context, tenantID, orderID string, lines []StockLine) (string, error) {
	id := c.newID()
	items := make([]any, 0, len(lines))
	for _, l := range lines {
		items = append(items, map[string]any{"sku": l.SKU, "quantity": l.Quantity})
	}
	return id, c.send(ctx, CmdReserveStock, tenantID, domain.Payload{
		KeyReservationID: id,
		KeyOrderID:       orderID,
		"lines":          items,
	})
}

func (c *CommandPorts) Release(ctx context.Context, tenantID, reservationID string) error {
	return c.send(ctx, CmdReleaseStock, tenantID, domain.Payload{KeyReservationID: reservationID})
}

func (c *CommandPorts) CreateInvoice(ctx context.Context, tenantID, orderID string) (string, error) {
	id := c.newID()
	return id, c.send(ctx, CmdCreateInvoice, tenantID, domain.Payload{KeyInvoiceID: id, KeyOrderID: orderID})
}

func (c *CommandPorts) VoidInvoice(ctx context.Context, tenantID, invoiceID string) error {
	return c.send(ctx, CmdVoidInvoice, tenantID, domain.Payload{KeyInvoiceID: invoiceID})
}

func (c *CommandPorts) CreateShipment(ctx context.Context, tenantID, orderID, reservationID string) (string, error) {
	id := c.newID()
	return id, c.send(ctx, CmdCreateShipment, tenantID, domain.Payload{
		KeyShipmentID:    id,
		KeyOrderID:       orderID,
		KeyReservationID: reservationID,
	})
}

func (c *CommandPorts) CancelShipment(ctx context.Context, tenantID, shipmentID string) error {
	return c.send(ctx, CmdCancelShipment, tenantID, domain.Payload{KeyShipmentID: shipmentID})
}

func (c *CommandPorts) CreateGRN(ctx context.Context, tenantID, purchaseOrderID string) (string, error) {
	id := c.newID()
	return id, c.send(ctx, CmdCreateGRN, tenantID, domain.Payload{KeyGRNID: id, KeyPurchaseOrderID: purchaseOrderID})
}

func (c *CommandPorts) ReverseGRN(ctx context.Context, tenantID, grnID string) error {
	return c.send(ctx, CmdReverseGRN, tenantID, domain.Payload{KeyGRNID: grnID})
}

func (c *CommandPorts) MatchInvoice(ctx context.Context, tenantID, purchaseOrderID, grnID string) (string, error) {
	id := c.newID()
	return id, c.send(ctx, CmdMatchInvoice, tenantID, domain.Payload{
		KeyBillID:          id,
		KeyPurchaseOrderID: purchaseOrderID,
		KeyGRNID:           grnID,
	})
}

func (c *CommandPorts) SchedulePayment(ctx context.Context, tenantID, billID string) (string, error) {
	id := c.newID()
	return id, c.send(ctx, CmdSchedulePayment, tenantID, domain.Payload{KeyPaymentID: id, KeyBillID: billID})
}
