package admin

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	s := memory.NewStore()
	return New(s.Webhooks(), s.Deliveries(), s.Events(), s.Attempts()).
		WithClock(func() time.Time { return now }), s
}

func createHook(t *testing.T, svc *Service, tenant string, events ...string) *CreatedWebhook {
	t.Helper()
	w, err := svc.CreateWebhook(context.Background(), tenant, CreateWebhookInput{
		Name: "orders", URL: "https://hooks.example.com/in", Events: events,
	})
	require.NoError(t, err)
	return w
}

// finish drives one delivery straight to a terminal status.
func finish(t *testing.T, s *memory.Store, id string, status model.DeliveryStatus, attempts int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < attempts; i++ {
		st := model.DeliveryRetrying
		if i == attempts-1 {
			st = status
		}
		next := now
		ok, err := s.Deliveries().Claim(ctx, id, "lease", now)
		require.NoError(t, err)
		require.True(t, ok)
		res := model.AttemptResult{Status: st, AttemptedAt: now}
		if st == model.DeliveryRetrying {
			res.NextAttemptAt = &next
		}
		require.NoError(t, s.Deliveries().Complete(ctx, id, "lease", res))
	}
}

func addDelivery(t *testing.T, s *memory.Store, id, tenant, webhook string) {
	t.Helper()
	_, err := s.Deliveries().InsertPending(context.Background(), nil, []model.Delivery{{
		ID: id, EventID: "ev-" + id, WebhookID: webhook, TenantID: tenant,
		EventType: model.EventMemoryCreated, CreatedAt: now,
	}})
	require.NoError(t, err)
}

func TestCreateWebhook(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	w := createHook(t, svc, "t1", "memory.created", "memory.created", "policy.updated")
	assert.NotEmpty(t, w.ID)
	assert.True(t, strings.HasPrefix(w.Secret, "whsec_"))
	assert.Equal(t, model.EventSet{model.EventMemoryCreated, model.EventPolicyUpdated}, w.Events)
	assert.True(t, w.IsActive)

	got, err := svc.GetWebhook(ctx, "t1", w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.Secret, got.Secret)

	_, err = svc.CreateWebhook(ctx, "t1", CreateWebhookInput{Name: "x", URL: "ftp://nope", Events: []string{"memory.created"}})
	assert.ErrorIs(t, err, model.ErrInvalidURL)

	_, err = svc.CreateWebhook(ctx, "t1", CreateWebhookInput{Name: "x", URL: "https://a.example", Events: []string{"memory.exploded"}})
	assert.ErrorIs(t, err, model.ErrInvalidEventType)
	assert.True(t, IsClientError(err))

	_, err = svc.CreateWebhook(ctx, "t1", CreateWebhookInput{Name: " ", URL: "https://a.example", Events: []string{"memory.created"}})
	assert.ErrorIs(t, err, model.ErrInvalidName)

	_, err = svc.CreateWebhook(ctx, "t1", CreateWebhookInput{Name: "x", URL: "https://a.example"})
	assert.ErrorIs(t, err, model.ErrNoEventTypes)
}

func TestUpdateWebhookPartial(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	w := createHook(t, svc, "t1", "memory.created")

	off := false
	got, err := svc.UpdateWebhook(ctx, "t1", w.ID, UpdateWebhookInput{IsActive: &off, Events: []string{"session.revoked"}})
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "orders", got.Name)
	assert.Equal(t, model.EventSet{model.EventSessionRevoked}, got.Events)

	bad := "not a url"
	_, err = svc.UpdateWebhook(ctx, "t1", w.ID, UpdateWebhookInput{URL: &bad})
	assert.ErrorIs(t, err, model.ErrInvalidURL)

	_, err = svc.UpdateWebhook(ctx, "t2", w.ID, UpdateWebhookInput{IsActive: &off})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestTenantIsolation(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	w := createHook(t, svc, "t1", "memory.created")
	addDelivery(t, s, "d1", "t1", w.ID)
	finish(t, s, "d1", model.DeliveryFailed, 1)

	_, err := svc.GetWebhook(ctx, "t2", w.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.ListDeliveries(ctx, "t2", w.ID, model.DeliveryFilter{})
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.RetryDelivery(ctx, "t2", w.ID, "d1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.GetStats(ctx, "t2", w.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteWebhook(ctx, "t2", w.ID), model.ErrNotFound)

	list, err := svc.ListWebhooks(ctx, "t2", nil)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRetryDelivery(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	w := createHook(t, svc, "t1", "memory.created")
	addDelivery(t, s, "d-failed", "t1", w.ID)
	addDelivery(t, s, "d-ok", "t1", w.ID)
	finish(t, s, "d-failed", model.DeliveryFailed, 5)
	finish(t, s, "d-ok", model.DeliveryDelivered, 1)

	d, err := svc.RetryDelivery(ctx, "t1", w.ID, "d-failed")
	require.NoError(t, err)
	assert.Equal(t, model.DeliveryPending, d.Status)
	assert.Equal(t, 5, d.AttemptCount)
	assert.Equal(t, now, *d.NextAttemptAt)

	_, err = svc.RetryDelivery(ctx, "t1", w.ID, "d-failed")
	assert.ErrorIs(t, err, model.ErrNotRetryable, "already pending")

	_, err = svc.RetryDelivery(ctx, "t1", w.ID, "d-ok")
	assert.ErrorIs(t, err, model.ErrNotRetryable)

	_, err = svc.RetryDelivery(ctx, "t1", w.ID, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestListDeliveriesFilterAndPaging(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	w := createHook(t, svc, "t1", "memory.created")
	for _, id := range []string{"d1", "d2", "d3"} {
		addDelivery(t, s, id, "t1", w.ID)
	}
	finish(t, s, "d2", model.DeliveryFailed, 1)

	failed, err := svc.ListDeliveries(ctx, "t1", w.ID, model.DeliveryFilter{Status: model.DeliveryFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "d2", failed[0].ID)

	page, err := svc.ListDeliveries(ctx, "t1", w.ID, model.DeliveryFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

func TestGetStats(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	w := createHook(t, svc, "t1", "memory.created")

	empty, err := svc.GetStats(ctx, "t1", w.ID)
	require.NoError(t, err)
	assert.Zero(t, empty.Counts.Total)
	assert.Zero(t, empty.SuccessRate)

	for _, id := range []string{"d1", "d2", "d3", "d4"} {
		addDelivery(t, s, id, "t1", w.ID)
	}
	finish(t, s, "d1", model.DeliveryDelivered, 1)
	finish(t, s, "d2", model.DeliveryDelivered, 2)
	finish(t, s, "d3", model.DeliveryFailed, 5)
	require.NoError(t, s.Attempts().Record(ctx, model.Attempt{TenantID: "t1", WebhookID: w.ID, Latency: 40 * time.Millisecond}))

	st, err := svc.GetStats(ctx, "t1", w.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Counts.Total)
	assert.Equal(t, 2, st.Counts.Delivered)
	assert.Equal(t, 1, st.Counts.Failed)
	assert.Equal(t, 1, st.Counts.Pending)
	assert.Equal(t, 8, st.Counts.TotalAttempts)
	assert.InDelta(t, 0.5, st.SuccessRate, 1e-9)
	require.NotNil(t, st.Latency)
	assert.EqualValues(t, 1, st.Latency.Attempts)
}

func TestTenantSummary(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	w := createHook(t, svc, "t1", "memory.created")
	off := false
	_, err := svc.CreateWebhook(ctx, "t1", CreateWebhookInput{Name: "b", URL: "https://b.example", Events: []string{"policy.created"}, IsActive: &off})
	require.NoError(t, err)
	addDelivery(t, s, "d1", "t1", w.ID)
	addDelivery(t, s, "d2", "t1", w.ID)
	finish(t, s, "d2", model.DeliveryDelivered, 1)

	sum, err := svc.TenantSummary(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TotalWebhooks)
	assert.Equal(t, 1, sum.ActiveWebhooks)
	assert.Equal(t, 1, sum.Deliveries[model.DeliveryPending])
	assert.Equal(t, 1, sum.Deliveries[model.DeliveryDelivered])
	assert.Equal(t, 0, sum.Deliveries[model.DeliveryFailed])
	assert.Len(t, sum.Deliveries, 5)
}

func TestDeleteWebhookRemovesDeliveries(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	w := createHook(t, svc, "t1", "memory.created")
	addDelivery(t, s, "d1", "t1", w.ID)

	require.NoError(t, svc.DeleteWebhook(ctx, "t1", w.ID))
	_, err := s.Deliveries().Get(ctx, "d1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteWebhook(ctx, "t1", w.ID), model.ErrNotFound)
}

func TestListEvents(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.Events().Insert(ctx, nil, model.Event{ID: "e1", TenantID: "t1", Type: model.EventMemoryCreated, OccurredAt: now}))
	require.NoError(t, s.Events().Insert(ctx, nil, model.Event{ID: "e2", TenantID: "t1", Type: model.EventPolicyCreated, OccurredAt: now.Add(time.Second)}))
	require.NoError(t, s.Events().Insert(ctx, nil, model.Event{ID: "e3", TenantID: "t2", Type: model.EventMemoryCreated, OccurredAt: now}))

	all, err := svc.ListEvents(ctx, "t1", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "e2", all[0].ID)

	mem, err := svc.ListEvents(ctx, "t1", "memory.created", 10)
	require.NoError(t, err)
	require.Len(t, mem, 1)
	assert.Equal(t, "e1", mem[0].ID)

	_, err = svc.ListEvents(ctx, "t1", "bogus", 10)
	assert.ErrorIs(t, err, model.ErrInvalidEventType)

	assert.Len(t, svc.ListSupportedEventTypes(), 21)
}

func TestGetEventIsTenantScoped(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	require.NoError(t, s.Events().Insert(ctx, nil, model.Event{ID: "e1", TenantID: "t1", Type: model.EventMemoryCreated, OccurredAt: now}))

	e, err := svc.GetEvent(ctx, "t1", "e1")
	require.NoError(t, err)
	assert.Equal(t, model.EventMemoryCreated, e.Type)

	_, err = svc.GetEvent(ctx, "t2", "e1")
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = svc.GetEvent(ctx, "t1", "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestEventStats(t *testing.T) {
	svc, s := newService(t)
	ctx := context.Background()
	for _, e := range []model.Event{
		{ID: "e1", TenantID: "t1", Type: model.EventMemoryCreated, OccurredAt: now},
		{ID: "e2", TenantID: "t1", Type: model.EventMemoryCreated, OccurredAt: now},
		{ID: "e3", TenantID: "t1", Type: model.EventPolicyCreated, OccurredAt: now},
		{ID: "e4", TenantID: "t2", Type: model.EventPolicyCreated, OccurredAt: now},
	} {
		require.NoError(t, s.Events().Insert(ctx, nil, e))
	}
	require.NoError(t, s.Events().MarkDispatched(ctx, nil, "e1", now))
	require.NoError(t, s.Events().MarkDispatched(ctx, nil, "e3", now))

	st, err := svc.EventStats(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, &model.EventStats{
		Total: 3, Dispatched: 2, Undispatched: 1,
		ByType: map[model.EventType]int{model.EventMemoryCreated: 2, model.EventPolicyCreated: 1},
	}, st)

	empty, err := svc.EventStats(ctx, "t9")
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
	assert.Empty(t, empty.ByType)
}
