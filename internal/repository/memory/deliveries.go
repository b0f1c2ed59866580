package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

type Deliveries struct{ s *Store }

func eligible(d model.Delivery, now time.Time) bool {
	if d.Status == model.DeliveryPending {
		return true
	}
	return d.Status == model.DeliveryRetrying && d.NextAttemptAt != nil && !d.NextAttemptAt.After(now)
}

func (r *Deliveries) InsertPending(_ context.Context, _ *sqlx.Tx, ds []model.Delivery) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, d := range ds {
		key := pairKey{d.EventID, d.WebhookID}
		if _, dup := r.s.pairs[key]; dup {
			continue
		}
		if _, dup := r.s.deliveries[d.ID]; dup {
			continue
		}
		next := d.CreatedAt
		d.Status = model.DeliveryPending
		d.AttemptCount, d.AttemptBase = 0, 0
		d.NextAttemptAt = &next
		d.UpdatedAt = d.CreatedAt
		r.s.deliveries[d.ID] = d
		r.s.pairs[key] = d.ID
		n++
	}
	return n, nil
}

func (r *Deliveries) ListEligible(_ context.Context, now time.Time, limit int) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []model.Delivery
	for _, d := range r.s.deliveries {
		if eligible(d, now) {
			rows = append(rows, d)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].NextAttemptAt, rows[j].NextAttemptAt
		if a != nil && b != nil && !a.Equal(*b) {
			return a.Before(*b)
		}
		return rows[i].ID < rows[j].ID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	ids := make([]string, 0, len(rows))
	for _, d := range rows {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (r *Deliveries) Claim(_ context.Context, id, leaseID string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok || !eligible(d, now) {
		return false, nil
	}
	lease, at := leaseID, now
	d.Status = model.DeliveryInFlight
	d.LeaseID, d.ClaimedAt, d.UpdatedAt = &lease, &at, now
	r.s.deliveries[id] = d
	return true, nil
}

func (r *Deliveries) Get(_ context.Context, id string) (*model.Delivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &d, nil
}

func (r *Deliveries) GetForWebhook(ctx context.Context, tenantID, webhookID, id string) (*model.Delivery, error) {
	d, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.TenantID != tenantID || d.WebhookID != webhookID {
		return nil, model.ErrNotFound
	}
	return d, nil
}

func (r *Deliveries) ownedInFlight(id, leaseID string) (model.Delivery, bool) {
	d, ok := r.s.deliveries[id]
	if !ok || d.Status != model.DeliveryInFlight || d.LeaseID == nil || *d.LeaseID != leaseID {
		return model.Delivery{}, false
	}
	return d, true
}

func (r *Deliveries) Complete(_ context.Context, id, leaseID string, res model.AttemptResult) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.ownedInFlight(id, leaseID)
	if !ok {
		return model.ErrLeaseLost
	}
	at := res.AttemptedAt
	d.Status = res.Status
	d.AttemptCount++
	d.LastAttemptAt = &at
	d.NextAttemptAt = res.NextAttemptAt
	d.LastResponseCode = res.ResponseCode
	d.LastError = res.Error
	if res.Status == model.DeliveryDelivered {
		d.DeliveredAt = &at
	}
	d.LeaseID, d.ClaimedAt = nil, nil
	d.UpdatedAt = at
	r.s.deliveries[id] = d
	return nil
}

func (r *Deliveries) Release(_ context.Context, id, leaseID string, next time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.ownedInFlight(id, leaseID)
	if !ok {
		return model.ErrLeaseLost
	}
	d.Status = model.DeliveryRetrying
	d.NextAttemptAt = &next
	d.LeaseID, d.ClaimedAt = nil, nil
	r.s.deliveries[id] = d
	return nil
}

func (r *Deliveries) ReclaimExpired(_ context.Context, now, claimedBefore time.Time, limit int) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, d := range r.s.deliveries {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if d.Status != model.DeliveryInFlight || d.ClaimedAt == nil || !d.ClaimedAt.Before(claimedBefore) {
			continue
		}
		next := now
		d.Status = model.DeliveryRetrying
		d.NextAttemptAt = &next
		d.LeaseID, d.ClaimedAt = nil, nil
		d.UpdatedAt = now
		r.s.deliveries[id] = d
		n++
	}
	return n, nil
}

func (r *Deliveries) ResetForRetry(_ context.Context, tenantID, webhookID, id string, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok || d.TenantID != tenantID || d.WebhookID != webhookID || d.Status != model.DeliveryFailed {
		return false, nil
	}
	next := now
	d.Status = model.DeliveryPending
	d.NextAttemptAt = &next
	d.AttemptBase = d.AttemptCount
	d.UpdatedAt = now
	r.s.deliveries[id] = d
	return true, nil
}

func (r *Deliveries) ListByWebhook(_ context.Context, tenantID, webhookID string, f model.DeliveryFilter) ([]model.Delivery, error) {
	f = f.Normalize()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var rows []model.Delivery
	for _, d := range r.s.deliveries {
		if d.TenantID != tenantID || d.WebhookID != webhookID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		rows = append(rows, d)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].ID > rows[j].ID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	if f.Offset >= len(rows) {
		return nil, nil
	}
	rows = rows[f.Offset:]
	if len(rows) > f.Limit {
		rows = rows[:f.Limit]
	}
	return rows, nil
}

func (r *Deliveries) CountsByWebhook(_ context.Context, tenantID, webhookID string) (model.DeliveryCounts, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var c model.DeliveryCounts
	for _, d := range r.s.deliveries {
		if d.TenantID != tenantID || d.WebhookID != webhookID {
			continue
		}
		c.Total++
		c.TotalAttempts += d.AttemptCount
		switch d.Status {
		case model.DeliveryPending:
			c.Pending++
		case model.DeliveryInFlight:
			c.InFlight++
		case model.DeliveryDelivered:
			c.Delivered++
		case model.DeliveryRetrying:
			c.Retrying++
		case model.DeliveryFailed:
			c.Failed++
		}
		if d.LastAttemptAt != nil && (c.LastDeliveryAt == nil || d.LastAttemptAt.After(*c.LastDeliveryAt)) {
			at := *d.LastAttemptAt
			c.LastDeliveryAt = &at
		}
	}
	return c, nil
}

func (r *Deliveries) CountsByStatus(_ context.Context, tenantID string) (map[model.DeliveryStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[model.DeliveryStatus]int{}
	for _, d := range r.s.deliveries {
		if d.TenantID == tenantID {
			out[d.Status]++
		}
	}
	return out, nil
}

func (r *Deliveries) DeleteTerminalBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, d := range r.s.deliveries {
		if limit > 0 && n >= int64(limit) {
			break
		}
		if d.Status.Terminal() && d.UpdatedAt.Before(cutoff) {
			delete(r.s.deliveries, id)
			delete(r.s.pairs, pairKey{d.EventID, d.WebhookID})
			n++
		}
	}
	return n, nil
}
