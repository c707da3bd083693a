package postgres

import (
	"context"
	"testing"
	"time"

	"bizsuite-orchestrator/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboxRepo_Enqueue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInboxRepo(mock)
	msg := &domain.InboundMessage{
		ID:         uuid.New(),
		Provider:   "stripe",
		EventType:  "payment.recorded",
		TenantID:   "tenant-1",
		Payload:    domain.Payload{"payment_id": "pi_1"},
		Status:     domain.InboxStatusPending,
		ReceivedAt: testNow,
	}

	mock.ExpectExec("INSERT INTO inbound_inbox").
		WithArgs(msg.ID, "stripe", "payment.recorded", "tenant-1", []byte(`{"payment_id":"pi_1"}`), "pending", 0, testNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Enqueue(context.Background(), msg))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInboxRepo_ClaimPendingUsesSkipLocked(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInboxRepo(mock)
	id := uuid.New()
	until := testNow.Add(30 * time.Second)

	mock.ExpectQuery("(?s)UPDATE inbound_inbox SET claimed_until = \\$1.+FOR UPDATE SKIP LOCKED.+RETURNING").
		WithArgs(until, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "provider", "event_type", "tenant_id", "payload", "status", "attempts", "last_error", "received_at", "processed_at"}).
			AddRow(id, "logistics", "shipment.dispatched", "tenant-1", []byte(`{"shipment_id":"shp-1"}`), "pending", 1, strPtr("bus down"), testNow, (*time.Time)(nil)))

	got, err := repo.ClaimPending(context.Background(), 50, until)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, domain.InboxStatusPending, got[0].Status)
	assert.Equal(t, "shp-1", got[0].Payload.String("shipment_id"))
	assert.Equal(t, 1, got[0].Attempts)
	assert.Equal(t, "webhook:logistics", got[0].Source())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInboxRepo_MarkProcessedAndFailed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewInboxRepo(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE inbound_inbox SET status = 'processed'").
		WithArgs(testNow, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE inbound_inbox SET attempts = attempts \\+ 1").
		WithArgs("schema mismatch", "pending", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE inbound_inbox SET attempts = attempts \\+ 1").
		WithArgs("schema mismatch", "dead_lettered", id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.MarkProcessed(context.Background(), id, testNow))
	require.NoError(t, repo.MarkFailed(context.Background(), id, "schema mismatch", false))
	require.NoError(t, repo.MarkFailed(context.Background(), id, "schema mismatch", true))
	assert.NoError(t, mock.ExpectationsWereMet())
}
