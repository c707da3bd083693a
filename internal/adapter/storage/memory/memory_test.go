package memory

import (
	"context"
	"testing"
	"time"

	"bizsuite-orchestrator/internal/core/domain"
	"bizsuite-orchestrator/internal/core/ports"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestEndpointRepo_ActiveByTenantAndCounters(t *testing.T) {
	ctx := context.Background()
	repo := NewEndpointRepo()

	active := domain.WebhookEndpoint{ID: uuid.New(), TenantID: "t1", Active: true, Events: []string{"order.*"}}
	inactive := domain.WebhookEndpoint{ID: uuid.New(), TenantID: "t1", Active: false}
	other := domain.WebhookEndpoint{ID: uuid.New(), TenantID: "t2", Active: true}
	repo.Save(active)
	repo.Save(inactive)
	repo.Save(other)

	list, err := repo.ListActiveByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	require.NoError(t, repo.RecordFailure(ctx, active.ID, epoch))
	require.NoError(t, repo.RecordFailure(ctx, active.ID, epoch))
	got, _ := repo.GetByID(ctx, active.ID)
	assert.Equal(t, 2, got.FailureCount)

	require.NoError(t, repo.RecordSuccess(ctx, active.ID, epoch.Add(time.Minute)))
	got, _ = repo.GetByID(ctx, active.ID)
	assert.Equal(t, 0, got.FailureCount)
	require.NotNil(t, got.LastTriggeredAt)
	assert.Equal(t, epoch.Add(time.Minute), *got.LastTriggeredAt)

	assert.Error(t, repo.RecordSuccess(ctx, uuid.New(), epoch))
	missing, err := repo.GetByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeliveryLogRepo_SingleSuccessPerEndpointEvent(t *testing.T) {
	ctx := context.Background()
	repo := NewDeliveryLogRepo()
	wh := uuid.New()

	require.NoError(t, repo.Append(ctx, &domain.WebhookDeliveryLog{ID: uuid.New(), WebhookID: wh, EventID: "e1", Attempt: 1, TenantID: "t"}))
	ok, _ := repo.HasSuccess(ctx, wh, "e1")
	assert.False(t, ok)

	require.NoError(t, repo.Append(ctx, &domain.WebhookDeliveryLog{ID: uuid.New(), WebhookID: wh, EventID: "e1", Attempt: 2, Success: true, TenantID: "t"}))
	require.NoError(t, repo.Append(ctx, &domain.WebhookDeliveryLog{ID: uuid.New(), WebhookID: wh, EventID: "e1", Attempt: 3, Success: true, TenantID: "t"}))

	ok, _ = repo.HasSuccess(ctx, wh, "e1")
	assert.True(t, ok)
	last, _ := repo.LastAttempt(ctx, wh, "e1")
	assert.Equal(t, 2, last)

	success := true
	rows, err := repo.List(ctx, ports.DeliveryLogFilter{TenantID: "t", Success: &success})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	all, _ := repo.List(ctx, ports.DeliveryLogFilter{WebhookID: &wh})
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[0].Attempt, "newest first")
}

func TestSagaRunStore_TriggerUniqueness(t *testing.T) {
	ctx := context.Background()
	store := NewSagaRunStore()

	run := &domain.SagaRun{ID: uuid.New(), SagaName: "s", TenantID: "t", TriggerEventID: "e1", Status: domain.SagaStatusRunning, StartedAt: epoch}
	require.NoError(t, store.Create(ctx, run))

	dup := &domain.SagaRun{ID: uuid.New(), SagaName: "s", TriggerEventID: "e1"}
	assert.ErrorIs(t, store.Create(ctx, dup), ports.ErrAlreadyExists)

	found, err := store.FindByTrigger(ctx, "s", "e1")
	require.NoError(t, err)
	assert.Equal(t, run.ID, found.ID)

	none, _ := store.FindByTrigger(ctx, "other", "e1")
	assert.Nil(t, none)
}

func TestSagaRunStore_CopiesState(t *testing.T) {
	ctx := context.Background()
	store := NewSagaRunStore()

	run := &domain.SagaRun{ID: uuid.New(), SagaName: "s", TriggerEventID: "e", Context: domain.SagaContext{"a": "1"}}
	require.NoError(t, store.Create(ctx, run))
	run.Context["a"] = "mutated"

	got, _ := store.Get(ctx, run.ID)
	assert.Equal(t, "1", got.Context["a"])

	got.Status = domain.SagaStatusCompleted
	require.NoError(t, store.Update(ctx, got))
	again, _ := store.Get(ctx, run.ID)
	assert.Equal(t, domain.SagaStatusCompleted, again.Status)

	assert.Error(t, store.Update(ctx, &domain.SagaRun{ID: uuid.New()}))
}

func TestSagaRunStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewSagaRunStore()
	for i, st := range []domain.SagaStatus{domain.SagaStatusRunning, domain.SagaStatusCompleted, domain.SagaStatusAwaitingApproval} {
		require.NoError(t, store.Create(ctx, &domain.SagaRun{
			ID: uuid.New(), SagaName: "s", TenantID: "t", TriggerEventID: uuid.NewString(),
			Status: st, StartedAt: epoch.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.Create(ctx, &domain.SagaRun{ID: uuid.New(), SagaName: "s", TenantID: "other", TriggerEventID: "x"}))

	runs, err := store.List(ctx, ports.SagaRunFilter{TenantID: "t"})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, domain.SagaStatusAwaitingApproval, runs[0].Status, "newest first")

	open, _ := store.List(ctx, ports.SagaRunFilter{TenantID: "t", Statuses: []domain.SagaStatus{domain.SagaStatusRunning, domain.SagaStatusAwaitingApproval}})
	assert.Len(t, open, 2)

	limited, _ := store.List(ctx, ports.SagaRunFilter{Limit: 1})
	assert.Len(t, limited, 1)
}

func TestInboxRepo_ClaimLeases(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewClock(epoch)
	repo := NewInboxRepo(clk)

	first := &domain.InboundMessage{ID: uuid.New(), Provider: "stripe", Status: domain.InboxStatusPending, ReceivedAt: epoch}
	second := &domain.InboundMessage{ID: uuid.New(), Provider: "stripe", Status: domain.InboxStatusPending, ReceivedAt: epoch.Add(time.Second)}
	require.NoError(t, repo.Enqueue(ctx, second))
	require.NoError(t, repo.Enqueue(ctx, first))

	claimed, err := repo.ClaimPending(ctx, 1, epoch.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, first.ID, claimed[0].ID, "oldest first")

	claimed, _ = repo.ClaimPending(ctx, 10, epoch.Add(30*time.Second))
	require.Len(t, claimed, 1)
	assert.Equal(t, second.ID, claimed[0].ID, "leased messages are skipped")

	claimed, _ = repo.ClaimPending(ctx, 10, epoch.Add(30*time.Second))
	assert.Empty(t, claimed)

	clk.Advance(31 * time.Second)
	claimed, _ = repo.ClaimPending(ctx, 10, epoch.Add(time.Minute))
	assert.Len(t, claimed, 2, "expired leases are reclaimable")

	require.NoError(t, repo.MarkProcessed(ctx, first.ID, epoch))
	require.NoError(t, repo.MarkFailed(ctx, second.ID, "boom", true))

	got, _ := repo.Get(first.ID)
	assert.Equal(t, domain.InboxStatusProcessed, got.Status)
	got, _ = repo.Get(second.ID)
	assert.Equal(t, domain.InboxStatusDeadLettered, got.Status)
	assert.Equal(t, 1, got.Attempts)

	claimed, _ = repo.ClaimPending(ctx, 10, epoch.Add(time.Hour))
	assert.Empty(t, claimed)
}

func TestEventLog_GetAndPrune(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog()

	old := domain.DomainEvent{ID: "old", Metadata: domain.EventMetadata{Timestamp: epoch}}
	fresh := domain.DomainEvent{ID: "fresh", Payload: domain.Payload{"a": 1.0}, Metadata: domain.EventMetadata{Timestamp: epoch.Add(time.Hour)}}
	require.NoError(t, log.Append(ctx, old))
	require.NoError(t, log.Append(ctx, fresh))

	n, err := log.Prune(ctx, epoch.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, _ := log.Get(ctx, "old")
	assert.Nil(t, gone)
	got, _ := log.Get(ctx, "fresh")
	require.NotNil(t, got)
	assert.Equal(t, 1.0, got.Payload["a"])
}

func TestDedupeStore_TTL(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewClock(epoch)
	store := NewDedupeStore(clk)

	ok, err := store.CheckAndSet(ctx, "inbound:stripe", "abc", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.CheckAndSet(ctx, "inbound:stripe", "abc", time.Minute)
	assert.False(t, ok)

	ok, _ = store.CheckAndSet(ctx, "inbound:payment", "abc", time.Minute)
	assert.True(t, ok, "scopes are independent")

	clk.Advance(time.Minute)
	ok, _ = store.CheckAndSet(ctx, "inbound:stripe", "abc", time.Minute)
	assert.True(t, ok, "expired keys can be set again")

	require.NoError(t, store.Forget(ctx, "inbound:stripe", "abc"))
	ok, _ = store.CheckAndSet(ctx, "inbound:stripe", "abc", time.Minute)
	assert.True(t, ok, "forgotten keys are new")
}

func TestRateLimiter_BucketPerKey(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewClock(epoch)
	l := NewRateLimiter(clk)

	for i := int64(0); i < 3; i++ {
		res, err := l.Allow(ctx, "inbound:stripe", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(3), res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "inbound:stripe", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Greater(t, res.ResetAt, epoch.Unix())

	other, _ := l.Allow(ctx, "inbound:payment", 3, time.Minute)
	assert.True(t, other.Allowed, "keys have separate buckets")

	clk.Advance(21 * time.Second)
	res, _ = l.Allow(ctx, "inbound:stripe", 3, time.Minute)
	assert.True(t, res.Allowed, "one token refills every window/limit")
}
