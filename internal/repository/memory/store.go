// Package memory is an in-process implementation of the repository interfaces.
// It enforces the same uniqueness and compare-and-swap rules as the MySQL schema.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmoiron/sqlx"
)

type pairKey struct{ eventID, webhookID string }

type Store struct {
	mu         sync.Mutex
	events     map[string]model.Event
	webhooks   map[string]model.Webhook
	deliveries map[string]model.Delivery
	pairs      map[pairKey]string
	attempts   []model.Attempt
}

func NewStore() *Store {
	return &Store{
		events:     map[string]model.Event{},
		webhooks:   map[string]model.Webhook{},
		deliveries: map[string]model.Delivery{},
		pairs:      map[pairKey]string{},
	}
}

// WithTx has no rollback; fn runs with a nil tx.
func (s *Store) WithTx(_ context.Context, fn func(tx *sqlx.Tx) error) error {
	return fn(nil)
}

func (s *Store) Events() *Events         { return &Events{s: s} }
func (s *Store) Webhooks() *Webhooks     { return &Webhooks{s: s} }
func (s *Store) Deliveries() *Deliveries { return &Deliveries{s: s} }
func (s *Store) Attempts() *Attempts     { return &Attempts{s: s} }

var (
	_ repository.TxRunner             = (*Store)(nil)
	_ repository.EventsRepository     = (*Events)(nil)
	_ repository.WebhooksRepository   = (*Webhooks)(nil)
	_ repository.DeliveriesRepository = (*Deliveries)(nil)
	_ repository.AttemptLog           = (*Attempts)(nil)
)

// ---- events ----

type Events struct{ s *Store }

func (r *Events) Insert(_ context.Context, _ *sqlx.Tx, e model.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.events[e.ID] = e
	return nil
}

func (r *Events) GetByID(_ context.Context, id string) (*model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &e, nil
}

func (r *Events) ListUndispatched(_ context.Context, after *model.EventCursor, limit int) ([]model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Event
	for _, e := range r.s.events {
		if e.DispatchedAt == nil && after.After(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OccurredAt.Before(out[j].OccurredAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Events) MarkDispatched(_ context.Context, _ *sqlx.Tx, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[id]
	if ok && e.DispatchedAt == nil {
		e.DispatchedAt = &at
		r.s.events[id] = e
	}
	return nil
}

func (r *Events) ListByTenant(_ context.Context, tenantID string, typ model.EventType, limit int) ([]model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Event
	for _, e := range r.s.events {
		if e.TenantID == tenantID && (typ == "" || e.Type == typ) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Events) CountsByType(_ context.Context, tenantID string) ([]model.EventTypeCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	byType := map[model.EventType]*model.EventTypeCount{}
	for _, e := range r.s.events {
		if e.TenantID != tenantID {
			continue
		}
		c, ok := byType[e.Type]
		if !ok {
			c = &model.EventTypeCount{Type: e.Type}
			byType[e.Type] = c
		}
		c.Total++
		if e.DispatchedAt != nil {
			c.Dispatched++
		}
	}
	out := make([]model.EventTypeCount, 0, len(byType))
	for _, c := range byType {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

func (r *Events) DeleteDispatchedBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	referenced := map[string]bool{}
	for _, d := range r.s.deliveries {
		referenced[d.EventID] = true
	}
	var n int64
	for id, e := range r.s.events {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if e.DispatchedAt != nil && e.OccurredAt.Before(cutoff) && !referenced[id] {
			delete(r.s.events, id)
			n++
		}
	}
	return n, nil
}

// ---- webhooks ----

type Webhooks struct{ s *Store }

func (r *Webhooks) Insert(_ context.Context, w model.Webhook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w.Events = append(model.EventSet(nil), w.Events...)
	r.s.webhooks[w.ID] = w
	return nil
}

func (r *Webhooks) Get(_ context.Context, id string) (*model.Webhook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.webhooks[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &w, nil
}

func (r *Webhooks) GetForTenant(ctx context.Context, tenantID, id string) (*model.Webhook, error) {
	w, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.TenantID != tenantID {
		return nil, model.ErrNotFound
	}
	return w, nil
}

func (r *Webhooks) ListByTenant(_ context.Context, tenantID string, active *bool) ([]model.Webhook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Webhook
	for _, w := range r.s.webhooks {
		if w.TenantID != tenantID || (active != nil && w.IsActive != *active) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *Webhooks) ListActiveForEvent(_ context.Context, _ *sqlx.Tx, tenantID string, typ model.EventType) ([]model.Webhook, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Webhook
	for _, w := range r.s.webhooks {
		if w.TenantID == tenantID && w.IsActive && w.Events.Contains(typ) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Webhooks) Update(_ context.Context, w model.Webhook) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.webhooks[w.ID]
	if !ok || cur.TenantID != w.TenantID {
		return model.ErrNotFound
	}
	cur.Name, cur.URL, cur.IsActive, cur.UpdatedAt = w.Name, w.URL, w.IsActive, w.UpdatedAt
	cur.Events = append(model.EventSet(nil), w.Events...)
	r.s.webhooks[w.ID] = cur
	return nil
}

// Delete cascades to the webhook's deliveries like the MySQL foreign key.
func (r *Webhooks) Delete(_ context.Context, tenantID, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	w, ok := r.s.webhooks[id]
	if !ok || w.TenantID != tenantID {
		return false, nil
	}
	delete(r.s.webhooks, id)
	for did, d := range r.s.deliveries {
		if d.WebhookID == id {
			delete(r.s.deliveries, did)
			delete(r.s.pairs, pairKey{d.EventID, d.WebhookID})
		}
	}
	return true, nil
}

func (r *Webhooks) CountByTenant(_ context.Context, tenantID string) (int, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total, active int
	for _, w := range r.s.webhooks {
		if w.TenantID != tenantID {
			continue
		}
		total++
		if w.IsActive {
			active++
		}
	}
	return total, active, nil
}

// ---- attempts ----

type Attempts struct{ s *Store }

func (r *Attempts) Record(_ context.Context, a model.Attempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.attempts = append(r.s.attempts, a)
	return nil
}

// All returns a copy of every recorded attempt.
func (r *Attempts) All() []model.Attempt {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]model.Attempt(nil), r.s.attempts...)
}

func (r *Attempts) LatencySummary(_ context.Context, tenantID, webhookID string) (*model.LatencySummary, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var ms []float64
	for _, a := range r.s.attempts {
		if a.TenantID == tenantID && a.WebhookID == webhookID {
			ms = append(ms, float64(a.Latency.Milliseconds()))
		}
	}
	out := &model.LatencySummary{Attempts: uint64(len(ms))}
	if len(ms) == 0 {
		return out, nil
	}
	sort.Float64s(ms)
	var sum float64
	for _, v := range ms {
		sum += v
	}
	out.AvgMs = sum / float64(len(ms))
	out.P95Ms = ms[(len(ms)*95+99)/100-1]
	out.MaxMs = ms[len(ms)-1]
	return out, nil
}

// ---- tenants ----

// Tenants is a fixed api-key lookup table.
type Tenants struct {
	mu    sync.Mutex
	byKey map[string]model.Tenant
}

var _ repository.TenantsRepository = (*Tenants)(nil)

func NewTenants(ts ...model.Tenant) *Tenants {
	r := &Tenants{byKey: map[string]model.Tenant{}}
	for _, t := range ts {
		r.byKey[t.APIKey] = t
	}
	return r
}

func (r *Tenants) GetByAPIKey(_ context.Context, apiKey string) (*model.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byKey[apiKey]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
