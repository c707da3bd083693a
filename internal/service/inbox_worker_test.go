package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"bizsuite-orchestrator/internal/adapter/storage/memory"
	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"
	"bizsuite-orchestrator/internal/core/ports/mocks"
	"bizsuite-orchestrator/internal/eventbus"
	"bizsuite-orchestrator/pkg/apperror"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func enqueueInbound(t *testing.T, inbox *memory.InboxRepo, at time.Time, eventType string) *domain.InboundMessage {
	t.Helper()
	msg := &domain.InboundMessage{
		ID:         uuid.New(),
		Provider:   "stripe",
		EventType:  eventType,
		TenantID:   "tenant-1",
		Payload:    domain.Payload{"payment_id": "pi_1"},
		Status:     domain.InboxStatusPending,
		ReceivedAt: at,
	}
	require.NoError(t, inbox.Enqueue(context.Background(), msg))
	return msg
}

func TestInboxWorker_PublishesWithWebhookSource(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	inbox := memory.NewInboxRepo(clk)
	bus := eventbus.New(newTestLogger(), eventbus.WithClock(clk))

	var got []domain.DomainEvent
	_, err := bus.Subscribe("payment.*", "watcher", func(ctx context.Context, evt domain.DomainEvent) error {
		got = append(got, evt)
		return nil
	})
	require.NoError(t, err)

	msg := enqueueInbound(t, inbox, clk.Now(), "payment.recorded")
	w := NewInboxWorker(inbox, bus, clk, nil, InboxWorkerConfig{}, newTestLogger())

	n, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, got, 1)
	assert.Equal(t, "payment.recorded", got[0].Type)
	assert.Equal(t, "tenant-1", got[0].TenantID)
	assert.Equal(t, "webhook:stripe", got[0].Metadata.Source)
	assert.Equal(t, msg.ID.String(), got[0].Metadata.CorrelationID)
	assert.Equal(t, "pi_1", got[0].Payload["payment_id"])

	stored, ok := inbox.Get(msg.ID)
	require.True(t, ok)
	assert.Equal(t, domain.InboxStatusProcessed, stored.Status)

	n, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "processed messages are not published twice")
}

func TestInboxWorker_RetriesThenDeadLetters(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clk := testclock.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	inbox := memory.NewInboxRepo(clk)
	publisher := mocks.NewMockEventPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).
		Return(domain.DomainEvent{}, errors.New("event log unavailable")).Times(3)

	msg := enqueueInbound(t, inbox, clk.Now(), "payment.recorded")
	w := NewInboxWorker(inbox, publisher, clk, nil, InboxWorkerConfig{MaxAttempts: 3}, newTestLogger())

	for i := 1; i <= 3; i++ {
		n, err := w.ProcessOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)

		stored, _ := inbox.Get(msg.ID)
		assert.Equal(t, i, stored.Attempts)
	}

	stored, _ := inbox.Get(msg.ID)
	assert.Equal(t, domain.InboxStatusDeadLettered, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Equal(t, "event log unavailable", *stored.LastError)

	n, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInboxWorker_ValidationErrorDeadLettersImmediately(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clk := testclock.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	inbox := memory.NewInboxRepo(clk)
	publisher := mocks.NewMockEventPublisher(ctrl)
	publisher.EXPECT().Publish(gomock.Any(), gomock.Any()).
		Return(domain.DomainEvent{}, apperror.ErrInvalidPayload(errors.New("missing amount")))

	msg := enqueueInbound(t, inbox, clk.Now(), "payment.recorded")
	w := NewInboxWorker(inbox, publisher, clk, nil, InboxWorkerConfig{MaxAttempts: 5}, newTestLogger())

	_, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)

	stored, _ := inbox.Get(msg.ID)
	assert.Equal(t, domain.InboxStatusDeadLettered, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
}

func TestInboxWorker_ClaimErrorIsReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	inbox := mocks.NewMockInboxRepository(ctrl)
	inbox.EXPECT().ClaimPending(gomock.Any(), 10, gomock.Any()).Return(nil, errors.New("db down"))

	w := NewInboxWorker(inbox, mocks.NewMockEventPublisher(ctrl), nil, nil, InboxWorkerConfig{BatchSize: 10}, newTestLogger())
	_, err := w.ProcessOnce(context.Background())
	assert.EqualError(t, err, "db down")
}

func TestInboxWorker_RunPollsUntilCancelled(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	inbox := memory.NewInboxRepo(clk)
	bus := eventbus.New(newTestLogger(), eventbus.WithClock(clk))

	published := make(chan string, 4)
	_, err := bus.Subscribe("*", "watcher", func(ctx context.Context, evt domain.DomainEvent) error {
		published <- evt.Type
		return nil
	})
	require.NoError(t, err)

	w := NewInboxWorker(inbox, bus, clk, nil, InboxWorkerConfig{PollInterval: time.Second}, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// First iteration runs immediately on an empty inbox, then waits.
	require.NoError(t, clk.WaitAdvance(0, time.Second, 1))
	enqueueInbound(t, inbox, clk.Now(), "shipment.delivered")
	clk.Advance(time.Second)

	select {
	case typ := <-published:
		assert.Equal(t, "shipment.delivered", typ)
	case <-time.After(2 * time.Second):
		t.Fatal("inbox message was not published")
	}

	cancel()
	require.NoError(t, <-done)
}

var _ ports.EventPublisher = (*eventbus.Bus)(nil)
