package definitions

import (
	"context"

	"bizsuite-orchestrator/internal/core/domain"
)

const (
	ProcureToPayName    = "procure_to_pay"
	ProcureToPayTrigger = "purchaseorder.approved"
)

// ProcureToPay receives goods against an approved purchase order, matches the
// supplier bill and schedules payment once finance signs off.
func ProcureToPay(p Ports, opts Options) domain.SagaDefinition {
	opts = opts.withDefaults()
	return domain.SagaDefinition{
		Name:         ProcureToPayName,
		TriggerEvent: ProcureToPayTrigger,
		Timeout:      opts.ProcureTimeout,
		Steps: []domain.Step{
			{
				Name: "create_grn",
				Execute: func(ctx context.Context, sc domain.SagaContext, trigger domain.DomainEvent) (domain.SagaContext, error) {
					poID, err := requireString(trigger.Payload, KeyPurchaseOrderID)
					if err != nil {
						return nil, err
					}
					id, err := p.Procurement.CreateGRN(ctx, trigger.TenantID, poID)
					if err != nil {
						return nil, err
					}
					return domain.SagaContext{KeyTenantID: trigger.TenantID, KeyPurchaseOrderID: poID, KeyGRNID: id}, nil
				},
				Compensate: func(ctx context.Context, sc domain.SagaContext) error {
					return p.Procurement.ReverseGRN(ctx, sc.String(KeyTenantID), sc.String(KeyGRNID))
				},
			},
			{
				// Matching only produces a draft bill; reversing the GRN voids it.
				Name: "match_invoice",
				Execute: func(ctx context.Context, sc domain.SagaContext, trigger domain.DomainEvent) (domain.SagaContext, error) {
					id, err := p.Procurement.MatchInvoice(ctx, sc.String(KeyTenantID), sc.String(KeyPurchaseOrderID), sc.String(KeyGRNID))
					if err != nil {
						return nil, err
					}
					return domain.SagaContext{KeyBillID: id}, nil
				},
			},
			{
				Name:                  "approve_payment",
				Kind:                  domain.StepKindApproval,
				ApprovalTimeout:       opts.PaymentApproval,
				ApprovalTimeoutAction: opts.ApprovalOnExpiry,
			},
			{
				Name: "schedule_payment",
				Execute: func(ctx context.Context, sc domain.SagaContext, trigger domain.DomainEvent) (domain.SagaContext, error) {
					id, err := p.Procurement.SchedulePayment(ctx, sc.String(KeyTenantID), sc.String(KeyBillID))
					if err != nil {
						return nil, err
					}
					return domain.SagaContext{KeyPaymentID: id}, nil
				},
			},
		},
	}
}
