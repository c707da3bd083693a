package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern   string
		eventType string
		want      bool
	}{
		{"order.*", "order.created", true},
		{"order.*", "order.line.added", true},
		{"order.*", "invoice.created", false},
		{"order.*", "orders.created", false},
		{"order.*", "order", false},
		{"order.created", "order.created", true},
		{"order.created", "order.created.v2", false},
		{"*", "anything.at_all", true},
		{"payment.*", "payment.recorded", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPattern(tt.pattern, tt.eventType))
		})
	}
}

func TestMatchAny(t *testing.T) {
	assert.True(t, MatchAny([]string{"invoice.*", "payment.*"}, "payment.recorded"))
	assert.False(t, MatchAny([]string{"order.*"}, "payment.recorded"))
	assert.False(t, MatchAny(nil, "payment.recorded"))
}

func TestValidType(t *testing.T) {
	assert.True(t, ValidType("saleorder.confirmed"))
	assert.True(t, ValidType("saga.approval.requested"))
	assert.True(t, ValidType("payment_intent.succeeded"))
	assert.False(t, ValidType("saleorder"))
	assert.False(t, ValidType("SaleOrder.Confirmed"))
	assert.False(t, ValidType("sale order.confirmed"))
	assert.False(t, ValidType(".confirmed"))
}

func TestValidPattern(t *testing.T) {
	assert.True(t, ValidPattern("*"))
	assert.True(t, ValidPattern("order.*"))
	assert.True(t, ValidPattern("saga.approval.*"))
	assert.True(t, ValidPattern("order.created"))
	assert.False(t, ValidPattern(""))
	assert.False(t, ValidPattern(".*"))
	assert.False(t, ValidPattern("order*"))
}
