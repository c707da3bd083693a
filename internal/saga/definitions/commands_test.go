package definitions_test

import (
	"context"
	"io"
	"testing"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/internal/core/ports/mocks"
	"bizsuite-orchestrator/internal/eventbus"
	"bizsuite-orchestrator/internal/saga/definitions"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCommandPorts_PublishesCommandEvents(t *testing.T) {
	bus := eventbus.New(zerolog.New(io.Discard))
	var got []domain.DomainEvent
	_, err := bus.Subscribe(eventbus.Wildcard, "watcher", func(ctx context.Context, evt domain.DomainEvent) error {
		got = append(got, evt)
		return nil
	})
	require.NoError(t, err)

	cmd := definitions.NewCommandPorts(bus)
	ctx := context.Background()

	resID, err := cmd.Reserve(ctx, "tenant-1", "so-1", []definitions.StockLine{{SKU: "SKU-1", Quantity: 3}})
	require.NoError(t, err)
	require.NotEmpty(t, resID)
	require.NoError(t, cmd.Release(ctx, "tenant-1", resID))
	billID, err := cmd.MatchInvoice(ctx, "tenant-1", "po-1", "grn-1")
	require.NoError(t, err)
	_, err = cmd.SchedulePayment(ctx, "tenant-1", billID)
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, definitions.CmdReserveStock, got[0].Type)
	assert.Equal(t, "tenant-1", got[0].TenantID)
	assert.Equal(t, "saga-orchestrator", got[0].Metadata.Source)
	assert.Equal(t, resID, got[0].Payload.String(definitions.KeyReservationID))
	assert.Equal(t, []any{map[string]any{"sku": "SKU-1", "quantity": float64(3)}}, got[0].Payload["lines"])

	assert.Equal(t, definitions.CmdReleaseStock, got[1].Type)
	assert.Equal(t, resID, got[1].Payload.String(definitions.KeyReservationID))

	assert.Equal(t, definitions.CmdMatchInvoice, got[2].Type)
	assert.Equal(t, "grn-1", got[2].Payload.String(definitions.KeyGRNID))

	assert.Equal(t, definitions.CmdSchedulePayment, got[3].Type)
	assert.Equal(t, billID, got[3].Payload.String(definitions.KeyBillID))
}

func TestCommandPorts_PublishErrorFailsTheStep(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	publisher := mocks.NewMockEventPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, in ports.PublishInput) (domain.DomainEvent, error) {
			assert.Equal(t, definitions.CmdCreateGRN, in.Type)
			return domain.DomainEvent{}, assert.AnError
		})

	_, err := definitions.NewCommandPorts(publisher).CreateGRN(context.Background(), "tenant-1", "po-1")
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), definitions.CmdCreateGRN)
}
