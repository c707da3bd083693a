// Package definitions holds the business sagas run by the orchestrator. Each
// step reaches the owning module only through the ports declared here.
package definitions

import (
	"context"
	"errors"
)

// ErrMissingField is returned when a trigger payload lacks a required key.
var ErrMissingField = errors.New("trigger payload missing required field")

// StockLine is one product line of a sales order.
type StockLine struct {
	SKU      string  `json:"sku"`
	Quantity float64 `json:"quantity"`
}

// Inventory reserves and releases stock for sales orders.
type Inventory interface {
	Reserve(ctx context.Context, tenantID, orderID string, lines []StockLine) (reservationID string, err error)
	Release(ctx context.Context, tenantID, reservationID string) error
}

// Billing issues and voids customer invoices.
type Billing interface {
	CreateInvoice(ctx context.Context, tenantID, orderID string) (invoiceID string, err error)
	VoidInvoice(ctx context.Context, tenantID, invoiceID string) error
}

// Fulfilment books and cancels shipments.
type Fulfilment interface {
	CreateShipment(ctx context.Context, tenantID, orderID, reservationID string) (shipmentID string, err error)
	CancelShipment(ctx context.Context, tenantID, shipmentID string) error
}

// Procurement covers goods receipt, three-way matching and supplier payment.
type Procurement interface {
	CreateGRN(ctx context.Context, tenantID, purchaseOrderID string) (grnID string, err error)
	ReverseGRN(ctx context.Context, tenantID, grnID string) error
	MatchInvoice(ctx context.Context, tenantID, purchaseOrderID, grnID string) (billID string, err error)
	SchedulePayment(ctx context.Context, tenantID, billID string) (paymentID string, err error)
}

// Ports bundles the collaborators every built-in saga needs.
type Ports struct {
	Inventory   Inventory
	Billing     Billing
	Fulfilment  Fulfilment
	Procurement Procurement
}
