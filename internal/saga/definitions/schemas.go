package definitions

import (
	"fmt"

	"bizsuite-orchestrator/internal/eventbus"
)

const saleOrderConfirmedSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["order_id"],
  "properties": {
    "order_id": {"type": "string", "minLength": 1},
    "lines": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["sku", "quantity"],
        "properties": {
          "sku": {"type": "string", "minLength": 1},
          "quantity": {"type": "number", "exclusiveMinimum": 0}
        }
      }
    }
  }
}`

const purchaseOrderApprovedSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["purchase_order_id"],
  "properties": {
    "purchase_order_id": {"type": "string", "minLength": 1},
    "supplier_id": {"type": "string"},
    "amount": {"type": "number", "minimum": 0}
  }
}`

// RegisterSchemas adds payload schemas for the saga trigger events.
func RegisterSchemas(r *eventbus.SchemaRegistry) error {
	for eventType, schema := range map[string]string{
		OrderToDeliveryTrigger: saleOrderConfirmedSchema,
		ProcureToPayTrigger:    purchaseOrderApprovedSchema,
	} {
		if err := r.Register(eventType, schema); err != nil {
			return fmt.Errorf("registering %s schema: %w", eventType, err)
		}
	}
	return nil
}
