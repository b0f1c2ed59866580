// Package admin is the tenant-scoped management surface: subscriptions,
// delivery listings, manual retry and statistics. Every lookup is filtered by
// tenant, so another tenant's resources are indistinguishable from missing ones.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/util"
	"go.uber.org/zap"
)

const maxNameLen = 255

type Service struct {
	webhooks   repository.WebhooksRepository
	deliveries repository.DeliveriesRepository
	events     repository.EventsRepository
	attempts   repository.AttemptLog // optional
	now        func() time.Time
}

func New(
	webhooksRepo repository.WebhooksRepository,
	deliveriesRepo repository.DeliveriesRepository,
	eventsRepo repository.EventsRepository,
	attempts repository.AttemptLog,
) *Service {
	return &Service{
		webhooks:   webhooksRepo,
		deliveries: deliveriesRepo,
		events:     eventsRepo,
		attempts:   attempts,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ---- subscriptions ----

type CreateWebhookInput struct {
	Name     string
	URL      string
	Events   []string
	IsActive *bool // default true
}

// CreatedWebhook carries the signing secret. It is only ever returned here.
type CreatedWebhook struct {
	model.Webhook
	Secret string `json:"secret"`
}

func (s *Service) CreateWebhook(ctx context.Context, tenantID string, in CreateWebhookInput) (*CreatedWebhook, error) {
	name, err := validName(in.Name)
	if err != nil {
		return nil, err
	}
	u, err := model.ValidateURL(in.URL)
	if err != nil {
		return nil, err
	}
	events, err := model.ParseEventSet(in.Events)
	if err != nil {
		return nil, err
	}
	secret, err := util.NewSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	now := s.now()
	w := model.Webhook{
		ID:        util.NewAt(now),
		TenantID:  tenantID,
		Name:      name,
		URL:       u,
		Secret:    secret,
		Events:    events,
		IsActive:  in.IsActive == nil || *in.IsActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.webhooks.Insert(ctx, w); err != nil {
		return nil, fmt.Errorf("insert webhook: %w", err)
	}

	logger.Log.Info("webhook created",
		zap.String("tenant_id", tenantID),
		zap.String("webhook_id", w.ID),
		zap.Int("events", len(events)))

	return &CreatedWebhook{Webhook: w, Secret: secret}, nil
}

func (s *Service) ListWebhooks(ctx context.Context, tenantID string, active *bool) ([]model.Webhook, error) {
	return s.webhooks.ListByTenant(ctx, tenantID, active)
}

func (s *Service) GetWebhook(ctx context.Context, tenantID, id string) (*model.Webhook, error) {
	return s.webhooks.GetForTenant(ctx, tenantID, id)
}

// UpdateWebhookInput is a partial update; nil fields are left unchanged.
type UpdateWebhookInput struct {
	Name     *string
	URL      *string
	Events   []string // nil = unchanged
	IsActive *bool
}

func (s *Service) UpdateWebhook(ctx context.Context, tenantID, id string, in UpdateWebhookInput) (*model.Webhook, error) {
	w, err := s.webhooks.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if w.Name, err = validName(*in.Name); err != nil {
			return nil, err
		}
	}
	if in.URL != nil {
		if w.URL, err = model.ValidateURL(*in.URL); err != nil {
			return nil, err
		}
	}
	if in.Events != nil {
		if w.Events, err = model.ParseEventSet(in.Events); err != nil {
			return nil, err
		}
	}
	if in.IsActive != nil {
		w.IsActive = *in.IsActive
	}
	w.UpdatedAt = s.now()

	if err := s.webhooks.Update(ctx, *w); err != nil {
		return nil, err
	}
	return w, nil
}

// DeleteWebhook removes the subscription together with its deliveries.
func (s *Service) DeleteWebhook(ctx context.Context, tenantID, id string) error {
	ok, err := s.webhooks.Delete(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if !ok {
		return model.ErrNotFound
	}
	logger.Log.Info("webhook deleted", zap.String("tenant_id", tenantID), zap.String("webhook_id", id))
	return nil
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return "", model.ErrInvalidName
	}
	return name, nil
}

// ---- deliveries ----

func (s *Service) ListDeliveries(ctx context.Context, tenantID, webhookID string, f model.DeliveryFilter) ([]model.Delivery, error) {
	if _, err := s.webhooks.GetForTenant(ctx, tenantID, webhookID); err != nil {
		return nil, err
	}
	return s.deliveries.ListByWebhook(ctx, tenantID, webhookID, f.Normalize())
}

// RetryDelivery puts a failed delivery back in the queue immediately. attempt_count
// is kept; the delivery gets a fresh attempt budget on the last backoff tier.
func (s *Service) RetryDelivery(ctx context.Context, tenantID, webhookID, deliveryID string) (*model.Delivery, error) {
	d, err := s.deliveries.GetForWebhook(ctx, tenantID, webhookID, deliveryID)
	if err != nil {
		return nil, err
	}
	if d.Status != model.DeliveryFailed {
		return nil, model.ErrNotRetryable
	}

	ok, err := s.deliveries.ResetForRetry(ctx, tenantID, webhookID, deliveryID, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		// someone else retried it between the read and the update
		return nil, model.ErrNotRetryable
	}

	logger.Log.Info("delivery retry requested",
		zap.String("tenant_id", tenantID),
		zap.String("delivery_id", deliveryID),
		zap.Int("attempt_count", d.AttemptCount))

	return s.deliveries.Get(ctx, deliveryID)
}

// ---- stats ----

func (s *Service) GetStats(ctx context.Context, tenantID, webhookID string) (*model.DeliveryStats, error) {
	if _, err := s.webhooks.GetForTenant(ctx, tenantID, webhookID); err != nil {
		return nil, err
	}

	counts, err := s.deliveries.CountsByWebhook(ctx, tenantID, webhookID)
	if err != nil {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}

	out := &model.DeliveryStats{WebhookID: webhookID, Counts: counts}
	if counts.Total > 0 {
		out.SuccessRate = float64(counts.Delivered) / float64(counts.Total)
	}

	if s.attempts != nil {
		lat, err := s.attempts.LatencySummary(ctx, tenantID, webhookID)
		if err != nil {
			// analytics store is best effort; counts still come from MySQL
			logger.Log.Warn("latency summary unavailable", zap.String("webhook_id", webhookID), zap.Error(err))
		} else {
			out.Latency = lat
		}
	}
	return out, nil
}

func (s *Service) TenantSummary(ctx context.Context, tenantID string) (*model.TenantSummary, error) {
	total, active, err := s.webhooks.CountByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count webhooks: %w", err)
	}
	byStatus, err := s.deliveries.CountsByStatus(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count deliveries: %w", err)
	}

	out := &model.TenantSummary{
		TotalWebhooks:  total,
		ActiveWebhooks: active,
		Deliveries:     make(map[model.DeliveryStatus]int, 5),
	}
	for _, st := range []model.DeliveryStatus{
		model.DeliveryPending, model.DeliveryInFlight, model.DeliveryDelivered,
		model.DeliveryRetrying, model.DeliveryFailed,
	} {
		out.Deliveries[st] = byStatus[st]
	}
	return out, nil
}

// ---- events ----

func (s *Service) ListSupportedEventTypes() []model.EventTypeInfo {
	return model.SupportedEventTypes()
}

func (s *Service) ListEvents(ctx context.Context, tenantID, eventType string, limit int) ([]model.Event, error) {
	var typ model.EventType
	if eventType != "" {
		t, ok := model.ParseEventType(eventType)
		if !ok {
			return nil, &model.InvalidEventTypeError{Name: eventType}
		}
		typ = t
	}
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	return s.events.ListByTenant(ctx, tenantID, typ, limit)
}

// GetEvent returns one event; events of other tenants are reported as not found.
func (s *Service) GetEvent(ctx context.Context, tenantID, id string) (*model.Event, error) {
	e, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.TenantID != tenantID {
		return nil, model.ErrNotFound
	}
	return e, nil
}

func (s *Service) EventStats(ctx context.Context, tenantID string) (*model.EventStats, error) {
	rows, err := s.events.CountsByType(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	out := &model.EventStats{ByType: make(map[model.EventType]int, len(rows))}
	for _, r := range rows {
		out.Total += r.Total
		out.Dispatched += r.Dispatched
		out.ByType[r.Type] = r.Total
	}
	out.Undispatched = out.Total - out.Dispatched
	return out, nil
}

// IsClientError reports whether err is caused by bad input rather than a failure.
func IsClientError(err error) bool {
	return errors.Is(err, model.ErrInvalidEventType) ||
		errors.Is(err, model.ErrNoEventTypes) ||
		errors.Is(err, model.ErrInvalidURL) ||
		errors.Is(err, model.ErrInvalidName)
}
