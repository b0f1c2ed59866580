package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedDelivery(t *testing.T, s *Store, id string, at time.Time) {
	t.Helper()
	n, err := s.Deliveries().InsertPending(context.Background(), nil, []model.Delivery{{
		ID: id, EventID: "ev-" + id, WebhookID: "wh", TenantID: "t1",
		EventType: model.EventMemoryCreated, CreatedAt: at,
	}})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestInsertPendingUniquePerEventAndWebhook(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()
	d := model.Delivery{ID: "d1", EventID: "e1", WebhookID: "w1", TenantID: "t1", CreatedAt: now}

	n, err := s.Deliveries().InsertPending(ctx, nil, []model.Delivery{d})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	d.ID = "d2"
	n, err = s.Deliveries().InsertPending(ctx, nil, []model.Delivery{d})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestClaimHasExactlyOneWinner(t *testing.T) {
	s := NewStore()
	now := time.Now()
	seedDelivery(t, s, "d1", now)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.Deliveries().Claim(context.Background(), "d1", fmt.Sprintf("lease-%d", i), now)
			if err == nil && ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	d, err := s.Deliveries().Get(context.Background(), "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryInFlight, d.Status)
}

func TestRetryingNotEligibleBeforeNextAttempt(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()
	seedDelivery(t, s, "d1", now)

	ok, err := s.Deliveries().Claim(ctx, "d1", "l1", now)
	require.NoError(t, err)
	require.True(t, ok)

	next := now.Add(time.Minute)
	require.NoError(t, s.Deliveries().Complete(ctx, "d1", "l1", model.AttemptResult{
		Status: model.DeliveryRetrying, AttemptedAt: now, NextAttemptAt: &next,
	}))

	ids, err := s.Deliveries().ListEligible(ctx, now.Add(59*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ok, err = s.Deliveries().Claim(ctx, "d1", "l2", now.Add(59*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err = s.Deliveries().ListEligible(ctx, next, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, ids)
}

func TestCompleteRequiresOwnLease(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()
	seedDelivery(t, s, "d1", now)

	ok, err := s.Deliveries().Claim(ctx, "d1", "l1", now)
	require.NoError(t, err)
	require.True(t, ok)

	err = s.Deliveries().Complete(ctx, "d1", "other", model.AttemptResult{Status: model.DeliveryDelivered, AttemptedAt: now})
	assert.ErrorIs(t, err, model.ErrLeaseLost)
}

func TestReclaimExpiredKeepsAttemptCount(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()
	seedDelivery(t, s, "d1", now)
	seedDelivery(t, s, "d2", now)

	for _, id := range []string{"d1", "d2"} {
		ok, err := s.Deliveries().Claim(ctx, id, "l-"+id, now)
		require.NoError(t, err)
		require.True(t, ok)
	}
	// d2 was claimed recently, d1 long ago
	s.mu.Lock()
	d1 := s.deliveries["d1"]
	old := now.Add(-5 * time.Minute)
	d1.ClaimedAt = &old
	s.deliveries["d1"] = d1
	s.mu.Unlock()

	n, err := s.Deliveries().ReclaimExpired(ctx, now, now.Add(-2*time.Minute), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.Deliveries().Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryRetrying, got.Status)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Equal(t, now, *got.NextAttemptAt)

	err = s.Deliveries().Complete(ctx, "d1", "l-d1", model.AttemptResult{Status: model.DeliveryDelivered, AttemptedAt: now})
	assert.ErrorIs(t, err, model.ErrLeaseLost)
}

func TestResetForRetryOnlyFromFailed(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	now := time.Now()
	seedDelivery(t, s, "d1", now)

	ok, err := s.Deliveries().ResetForRetry(ctx, "t1", "wh", "d1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Deliveries().Claim(ctx, "d1", "l1", now)
	require.NoError(t, err)
	require.NoError(t, s.Deliveries().Complete(ctx, "d1", "l1", model.AttemptResult{Status: model.DeliveryFailed, AttemptedAt: now}))

	ok, err = s.Deliveries().ResetForRetry(ctx, "other-tenant", "wh", "d1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Deliveries().ResetForRetry(ctx, "t1", "wh", "d1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	d, err := s.Deliveries().Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryPending, d.Status)
	assert.Equal(t, 1, d.AttemptCount)
	assert.Equal(t, 1, d.AttemptBase)
}

func TestLatencySummary(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	for i := 1; i <= 20; i++ {
		require.NoError(t, s.Attempts().Record(ctx, model.Attempt{
			TenantID: "t1", WebhookID: "w1", Latency: time.Duration(i) * 10 * time.Millisecond,
		}))
	}

	sum, err := s.Attempts().LatencySummary(ctx, "t1", "w1")
	require.NoError(t, err)
	assert.EqualValues(t, 20, sum.Attempts)
	assert.InDelta(t, 105, sum.AvgMs, 0.001)
	assert.InDelta(t, 190, sum.P95Ms, 0.001)
	assert.InDelta(t, 200, sum.MaxMs, 0.001)

	empty, err := s.Attempts().LatencySummary(ctx, "t1", "nope")
	require.NoError(t, err)
	assert.Zero(t, empty.Attempts)
}

func TestListUndispatchedPagesByCursor(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.Events().Insert(ctx, nil, model.Event{
			ID: id, TenantID: "t1", Type: model.EventMemoryCreated, OccurredAt: t0.Add(time.Duration(i/2) * time.Second),
		}))
	}

	page, err := s.Events().ListUndispatched(ctx, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "e1", page[0].ID)
	assert.Equal(t, "e2", page[1].ID)

	page, err = s.Events().ListUndispatched(ctx, model.CursorOf(page[1]), 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "e3", page[0].ID)

	// same timestamp, ordered by id
	page, err = s.Events().ListUndispatched(ctx, &model.EventCursor{OccurredAt: t0, ID: "e1"}, 5)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "e2", page[0].ID)
}
