package definitions

import (
	"fmt"
	"time"

	"bizsuite-orchestrator/internal/core/domain"
)

// Context keys shared by the built-in sagas.
const (
	KeyTenantID        = "tenant_id"
	KeyOrderID         = "order_id"
	KeyReservationID   = "reservation_id"
	KeyInvoiceID       = "invoice_id"
	KeyShipmentID      = "shipment_id"
	KeyPurchaseOrderID = "purchase_order_id"
	KeyGRNID           = "grn_id"
	KeyBillID          = "bill_id"
	KeyPaymentID       = "payment_id"
)

// Options tunes the timing of the built-in sagas. Zero values fall back to
// the defaults below.
type Options struct {
	OrderTimeout     time.Duration
	ProcureTimeout   time.Duration
	PaymentApproval  time.Duration
	ApprovalOnExpiry domain.ApprovalTimeoutAction
}

const (
	DefaultOrderTimeout    = 2 * time.Hour
	DefaultProcureTimeout  = 7 * 24 * time.Hour
	DefaultPaymentApproval = 48 * time.Hour
)

func (o Options) withDefaults() Options {
	if o.OrderTimeout <= 0 {
		o.OrderTimeout = DefaultOrderTimeout
	}
	if o.ProcureTimeout <= 0 {
		o.ProcureTimeout = DefaultProcureTimeout
	}
	if o.PaymentApproval <= 0 {
		o.PaymentApproval = DefaultPaymentApproval
	}
	if o.ApprovalOnExpiry == "" {
		o.ApprovalOnExpiry = domain.ApprovalTimeoutEscalate
	}
	return o
}

// Registrar accepts saga definitions.
type Registrar interface {
	RegisterSaga(def domain.SagaDefinition) error
}

// All returns every built-in saga.
func All(p Ports, opts Options) []domain.SagaDefinition {
	return []domain.SagaDefinition{
		OrderToDelivery(p, opts),
		ProcureToPay(p, opts),
	}
}

// Register registers every built-in saga with r.
func Register(r Registrar, p Ports, opts Options) error {
	for _, def := range All(p, opts) {
		if err := r.RegisterSaga(def); err != nil {
			return fmt.Errorf("registering saga %s: %w", def.Name, err)
		}
	}
	return nil
}

func requireString(payload domain.Payload, key string) (string, error) {
	v := payload.String(key)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}
	return v, nil
}
