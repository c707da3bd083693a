package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDomainEvent_Namespace(t *testing.T) {
	tests := []struct {
		eventType string
		want      string
	}{
		{"saleorder.confirmed", "saleorder"},
		{"inventory.reserve.requested", "inventory"},
		{"plain", "plain"},
		{".leading", ".leading"},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.want, DomainEvent{Type: tt.eventType}.Namespace())
		})
	}
}

func TestPayload_CloneIsDeep(t *testing.T) {
	orig := Payload{
		"order_id": "SO-1",
		"lines":    []any{map[string]any{"sku": "A", "quantity": float64(1)}},
		"meta":     map[string]any{"channel": "pos"},
	}

	cp := orig.Clone()
	cp["order_id"] = "SO-2"
	cp["lines"].([]any)[0].(map[string]any)["sku"] = "B"
	cp["meta"].(map[string]any)["channel"] = "web"

	assert.Equal(t, "SO-1", orig.String("order_id"))
	assert.Equal(t, "A", orig["lines"].([]any)[0].(map[string]any)["sku"])
	assert.Equal(t, "pos", orig["meta"].(map[string]any)["channel"])
	assert.Nil(t, Payload(nil).Clone())
}

func TestPayload_String(t *testing.T) {
	p := Payload{"id": "x", "n": float64(3)}
	assert.Equal(t, "x", p.String("id"))
	assert.Empty(t, p.String("n"))
	assert.Empty(t, p.String("missing"))
}

func TestSagaStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status SagaStatus
		want   bool
	}{
		{SagaStatusRunning, false},
		{SagaStatusAwaitingApproval, false},
		{SagaStatusCompensating, false},
		{SagaStatusCompleted, true},
		{SagaStatusFailed, true},
		{SagaStatusCompensated, true},
		{SagaStatusCompensationFailed, true},
		{SagaStatusTimedOut, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
			assert.True(t, tt.status.Valid())
		})
	}
	assert.False(t, SagaStatus("paused").Valid())
}

func TestSagaContext_Merge(t *testing.T) {
	base := SagaContext{"tenant_id": "t1", "order_id": "SO-1"}
	merged := base.Merge(SagaContext{"order_id": "SO-9", "invoice_id": "INV-1"})

	assert.Equal(t, SagaContext{"tenant_id": "t1", "order_id": "SO-9", "invoice_id": "INV-1"}, merged)
	assert.Equal(t, "SO-1", base.String("order_id"), "merge must not mutate the receiver")
	assert.Equal(t, SagaContext{"a": 1}, SagaContext(nil).Merge(SagaContext{"a": 1}))
}

func TestSagaRun_CompletedSteps(t *testing.T) {
	run := &SagaRun{}
	run.Record(StepRecord{Step: "reserve", Index: 0, Status: StepStatusCompleted})
	run.Record(StepRecord{Step: "approve", Index: 1, Status: StepStatusAwaitingApproval})
	run.Record(StepRecord{Step: "approve", Index: 1, Status: StepStatusApproved})
	run.Record(StepRecord{Step: "ship", Index: 2, Status: StepStatusFailed})
	run.Record(StepRecord{Step: "reserve", Index: 0, Status: StepStatusCompleted})

	assert.Equal(t, []int{0, 1}, run.CompletedSteps())
	assert.False(t, run.Compensated(0))

	run.Record(StepRecord{Step: "reserve", Index: 0, Status: StepStatusCompensated})
	assert.True(t, run.Compensated(0))
	assert.False(t, run.Compensated(1))
}

func TestSagaRun_SnapshotIsIndependent(t *testing.T) {
	run := &SagaRun{
		ID:      uuid.New(),
		Status:  SagaStatusRunning,
		Context: SagaContext{"order_id": "SO-1"},
	}
	run.Record(StepRecord{Step: "reserve", Status: StepStatusCompleted})

	snap := run.Snapshot()
	run.Context["order_id"] = "changed"
	run.Record(StepRecord{Step: "invoice", Index: 1, Status: StepStatusCompleted})
	run.Status = SagaStatusCompleted

	assert.Equal(t, "SO-1", snap.Context.String("order_id"))
	assert.Len(t, snap.StepHistory, 1)
	assert.Equal(t, SagaStatusRunning, snap.Status)
	assert.Equal(t, run.ID, snap.ID)
}

func TestInboundMessage_Source(t *testing.T) {
	m := &InboundMessage{Provider: "logistics"}
	assert.Equal(t, "webhook:logistics", m.Source())
}

func TestNewDeliveryBody(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	evt := DomainEvent{
		ID:       "01J0000000000000000000000A",
		Type:     "invoice.paid",
		TenantID: "t1",
		Payload:  Payload{"invoice_id": "INV-1"},
		Metadata: EventMetadata{Timestamp: ts, Source: "api"},
	}

	body := NewDeliveryBody(evt)
	assert.Equal(t, evt.ID, body.EventID)
	assert.Equal(t, "invoice.paid", body.EventType)
	assert.Equal(t, "t1", body.TenantID)
	assert.Equal(t, ts, body.Timestamp)
	assert.Equal(t, "INV-1", body.Payload.String("invoice_id"))
}

func TestTruncateBody(t *testing.T) {
	short := "ok"
	assert.Equal(t, short, TruncateBody(short))

	long := strings.Repeat("é", MaxDeliveryResponseBody+10)
	got := TruncateBody(long)
	assert.Equal(t, MaxDeliveryResponseBody, len([]rune(got)))
}
