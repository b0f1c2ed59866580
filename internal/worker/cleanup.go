package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"go.uber.org/zap"
)

// Janitor purges old terminal deliveries and then dispatched events that no
// delivery references any more. A zero retention disables that half.
type Janitor struct {
	Deliveries        repository.DeliveriesRepository
	Events            repository.EventsRepository
	DeliveryRetention time.Duration
	EventRetention    time.Duration
	BatchSize         int
	Now               func() time.Time
}

func NewJanitor(deliveriesRepo repository.DeliveriesRepository, eventsRepo repository.EventsRepository, deliveryRetention, eventRetention time.Duration) *Janitor {
	return &Janitor{
		Deliveries:        deliveriesRepo,
		Events:            eventsRepo,
		DeliveryRetention: deliveryRetention,
		EventRetention:    eventRetention,
		BatchSize:         1000,
		Now:               func() time.Time { return time.Now().UTC() },
	}
}

type CleanupResult struct {
	Deliveries int64
	Events     int64
}

func (j *Janitor) CleanupOnce(ctx context.Context) (CleanupResult, error) {
	var res CleanupResult
	now := j.Now()

	if j.DeliveryRetention > 0 {
		n, err := drain(ctx, j.BatchSize, func(limit int) (int64, error) {
			return j.Deliveries.DeleteTerminalBefore(ctx, now.Add(-j.DeliveryRetention), limit)
		})
		res.Deliveries = n
		if err != nil {
			return res, fmt.Errorf("delete deliveries: %w", err)
		}
	}

	if j.EventRetention > 0 {
		n, err := drain(ctx, j.BatchSize, func(limit int) (int64, error) {
			return j.Events.DeleteDispatchedBefore(ctx, now.Add(-j.EventRetention), limit)
		})
		res.Events = n
		if err != nil {
			return res, fmt.Errorf("delete events: %w", err)
		}
	}

	if res.Deliveries > 0 || res.Events > 0 {
		logger.Log.Info("retention cleanup",
			zap.Int64("deliveries", res.Deliveries),
			zap.Int64("events", res.Events))
	}
	return res, nil
}

func (j *Janitor) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	return every(ctx, interval, func() {
		if _, err := j.CleanupOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Log.Error("retention cleanup failed", zap.Error(err))
		}
	})
}

// drain repeats a limited delete until a short batch comes back.
func drain(ctx context.Context, batch int, del func(limit int) (int64, error)) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	var total int64
	for ctx.Err() == nil {
		n, err := del(batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(batch) {
			break
		}
	}
	return total, ctx.Err()
}
