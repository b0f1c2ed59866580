package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/util"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const DefaultBatchSize = 100

// Result summarises one dispatch pass.
type Result struct {
	Events     int // events marked dispatched
	Deliveries int // delivery rows created
	Failed     int // events left for the next pass
}

// Dispatcher turns undispatched events into pending deliveries, one per matching
// active webhook. Re-running it over the same event never creates a second row
// for the same (event, webhook) pair.
type Dispatcher struct {
	tx         repository.TxRunner
	events     repository.EventsRepository
	webhooks   repository.WebhooksRepository
	deliveries repository.DeliveriesRepository
	now        func() time.Time
}

func NewDispatcher(
	tx repository.TxRunner,
	eventsRepo repository.EventsRepository,
	webhooksRepo repository.WebhooksRepository,
	deliveriesRepo repository.DeliveriesRepository,
) *Dispatcher {
	return &Dispatcher{
		tx:         tx,
		events:     eventsRepo,
		webhooks:   webhooksRepo,
		deliveries: deliveriesRepo,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// DispatchPending processes up to limit undispatched events, oldest first.
// A failing event is logged and skipped; it stays undispatched for the next pass.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int) (Result, error) {
	res, _, err := d.dispatchPage(ctx, nil, limit)
	return res, err
}

// dispatchPage handles up to limit undispatched events after the cursor and
// returns the cursor of the last event it listed, or nil when the page was short.
func (d *Dispatcher) dispatchPage(ctx context.Context, after *model.EventCursor, limit int) (Result, *model.EventCursor, error) {
	if limit <= 0 {
		limit = DefaultBatchSize
	}

	events, err := d.events.ListUndispatched(ctx, after, limit)
	if err != nil {
		return Result{}, nil, fmt.Errorf("list undispatched: %w", err)
	}

	var res Result
	for _, e := range events {
		if ctx.Err() != nil {
			return res, nil, ctx.Err()
		}
		n, err := d.dispatch(ctx, e)
		if err != nil {
			res.Failed++
			metrics.EventsDispatched.WithLabelValues("error").Inc()
			logger.Log.Warn("dispatch event failed",
				zap.String("event_id", e.ID),
				zap.String("event_type", e.Type.String()),
				zap.Error(err))
			continue
		}
		res.Events++
		res.Deliveries += n
	}

	var next *model.EventCursor
	if len(events) == limit {
		next = model.CursorOf(events[len(events)-1])
	}
	return res, next, nil
}

// DispatchEvent dispatches a single event by id. Already-dispatched events are a no-op.
func (d *Dispatcher) DispatchEvent(ctx context.Context, id string) (int, error) {
	e, err := d.events.GetByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("get event %s: %w", id, err)
	}
	if e.DispatchedAt != nil {
		return 0, nil
	}
	return d.dispatch(ctx, *e)
}

func (d *Dispatcher) dispatch(ctx context.Context, e model.Event) (int, error) {
	var created int64
	var matched int

	err := d.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		hooks, err := d.webhooks.ListActiveForEvent(ctx, tx, e.TenantID, e.Type)
		if err != nil {
			return fmt.Errorf("match webhooks: %w", err)
		}
		matched = len(hooks)

		now := d.now()
		if len(hooks) > 0 {
			rows := make([]model.Delivery, 0, len(hooks))
			for _, h := range hooks {
				rows = append(rows, model.Delivery{
					ID:        util.NewAt(now),
					EventID:   e.ID,
					WebhookID: h.ID,
					TenantID:  e.TenantID,
					EventType: e.Type,
					Status:    model.DeliveryPending,
					CreatedAt: now,
				})
			}
			created, err = d.deliveries.InsertPending(ctx, tx, rows)
			if err != nil {
				return fmt.Errorf("insert deliveries: %w", err)
			}
		}

		return d.events.MarkDispatched(ctx, tx, e.ID, now)
	})
	if err != nil {
		return 0, err
	}

	if matched == 0 {
		metrics.EventsDispatched.WithLabelValues("unmatched").Inc()
	} else {
		metrics.EventsDispatched.WithLabelValues("matched").Inc()
	}
	metrics.DeliveriesCreated.Add(float64(created))

	logger.Log.Debug("event dispatched",
		zap.String("event_id", e.ID),
		zap.String("event_type", e.Type.String()),
		zap.Int("matched", matched),
		zap.Int64("created", created))

	return int(created), nil
}

// drain walks the whole undispatched backlog once, page by page. Events that
// fail stay behind the cursor, so a full page of failures cannot hide newer
// events; they are retried from the start on the next drain.
func (d *Dispatcher) drain(ctx context.Context, batchSize int) (Result, error) {
	var total Result
	var after *model.EventCursor
	for {
		res, next, err := d.dispatchPage(ctx, after, batchSize)
		total.Events += res.Events
		total.Deliveries += res.Deliveries
		total.Failed += res.Failed
		if err != nil || next == nil {
			return total, err
		}
		after = next
	}
}

// Run polls for undispatched events every interval until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, batchSize int) error {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		res, err := d.drain(ctx, batchSize)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			logger.Log.Error("dispatch pass failed", zap.Error(err))
		}
		if res.Events > 0 || res.Failed > 0 {
			logger.Log.Info("dispatch pass",
				zap.Int("events", res.Events),
				zap.Int("deliveries", res.Deliveries),
				zap.Int("failed", res.Failed))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}
