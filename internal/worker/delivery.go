package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/delivery"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/retry"
	"github.com/jmehdipour/webhook-gateway/internal/util"
	"go.uber.org/zap"
)

const maxErrorLen = 1024

// Sender performs one outbound attempt. *delivery.Client implements it.
type Sender interface {
	Send(ctx context.Context, r delivery.Request) (delivery.Response, error)
}

// Deliverer:
// - lists eligible deliveries (pending, or retrying and due),
// - claims each one under a fresh lease,
// - POSTs the signed envelope and records the outcome.
type Deliverer struct {
	// Dependencies
	Deliveries repository.DeliveriesRepository
	Events     repository.EventsRepository
	Webhooks   repository.WebhooksRepository
	Attempts   repository.AttemptLog // optional
	Client     Sender
	Breakers   *delivery.Breakers // optional
	Schedule   retry.Schedule

	// Behavior
	Workers           int           // number of goroutines performing attempts
	BatchSize         int           // max ids listed per poll
	PollInterval      time.Duration // wait between polls when the backlog is drained
	AttemptLogTimeout time.Duration // bound on each attempt log write
	Now               func() time.Time
}

// NewDeliverer builds a worker with sane defaults.
func NewDeliverer(
	deliveriesRepo repository.DeliveriesRepository,
	eventsRepo repository.EventsRepository,
	webhooksRepo repository.WebhooksRepository,
	attempts repository.AttemptLog,
	client Sender,
	schedule retry.Schedule,
) *Deliverer {
	return &Deliverer{
		Deliveries:   deliveriesRepo,
		Events:       eventsRepo,
		Webhooks:     webhooksRepo,
		Attempts:     attempts,
		Client:       client,
		Schedule:     schedule,
		Workers:           16,
		BatchSize:         100,
		PollInterval:      time.Second,
		AttemptLogTimeout: 5 * time.Second,
		Now:               func() time.Time { return time.Now().UTC() },
	}
}

func (w *Deliverer) defaults() {
	if w.Workers <= 0 {
		w.Workers = 16
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 100
	}
	if w.PollInterval <= 0 {
		w.PollInterval = time.Second
	}
	if w.AttemptLogTimeout <= 0 {
		w.AttemptLogTimeout = 5 * time.Second
	}
	if w.Now == nil {
		w.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Outcome is what one processed id ended up as.
type Outcome int

const (
	OutcomeSkipped   Outcome = iota // claim lost or lease lost
	OutcomeDelivered                // 2xx
	OutcomeRetrying                 // failed, rescheduled
	OutcomeFailed                   // failed, budget exhausted or unrecoverable
	OutcomeDeferred                 // breaker open, released without an attempt
)

// BatchResult counts outcomes of one ProcessBatch pass.
type BatchResult struct {
	Listed    int
	Delivered int
	Retrying  int
	Failed    int
	Deferred  int
	Skipped   int
}

func (r *BatchResult) add(o Outcome) {
	switch o {
	case OutcomeDelivered:
		r.Delivered++
	case OutcomeRetrying:
		r.Retrying++
	case OutcomeFailed:
		r.Failed++
	case OutcomeDeferred:
		r.Deferred++
	default:
		r.Skipped++
	}
}

// ProcessBatch runs one synchronous pass: list eligible ids and attempt each of
// them with up to Workers concurrent requests.
func (w *Deliverer) ProcessBatch(ctx context.Context) (BatchResult, error) {
	w.defaults()

	ids, err := w.Deliveries.ListEligible(ctx, w.Now(), w.BatchSize)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list eligible: %w", err)
	}

	res := BatchResult{Listed: len(ids)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, w.Workers)

	for _, id := range ids {
		select {
		case <-ctx.Done():
			wg.Wait()
			return res, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()
			o := w.processOne(ctx, id)
			mu.Lock()
			res.add(o)
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return res, nil
}

// Run starts the worker and blocks until ctx is cancelled.
func (w *Deliverer) Run(ctx context.Context) error {
	w.defaults()

	idCh := make(chan string, w.Workers*2)
	var queued sync.Map // ids sitting in idCh or being processed

	// Fetcher goroutine
	go func() {
		defer close(idCh)
		for {
			ids, err := w.Deliveries.ListEligible(ctx, w.Now(), w.BatchSize)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Log.Warn("list eligible deliveries failed", zap.Error(err))
				ids = nil
			}

			for _, id := range ids {
				if _, dup := queued.LoadOrStore(id, struct{}{}); dup {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case idCh <- id:
				}
			}

			if len(ids) < w.BatchSize {
				select {
				case <-ctx.Done():
					return
				case <-time.After(w.PollInterval):
				}
			}
		}
	}()

	// Start processors
	var wg sync.WaitGroup
	for i := 0; i < w.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range idCh {
				w.processOne(ctx, id)
				queued.Delete(id)
			}
		}()
	}

	logger.Log.Info("delivery worker started",
		zap.Int("workers", w.Workers),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("poll_interval", w.PollInterval))

	wg.Wait()
	return nil
}

func (w *Deliverer) processOne(ctx context.Context, id string) Outcome {
	if ctx.Err() != nil {
		return OutcomeSkipped
	}
	log := logger.Log.With(zap.String("delivery_id", id))

	lease := util.NewLease()
	won, err := w.Deliveries.Claim(ctx, id, lease, w.Now())
	if err != nil {
		log.Warn("claim failed", zap.Error(err))
		return OutcomeSkipped
	}
	if !won {
		metrics.ClaimConflicts.Inc()
		return OutcomeSkipped
	}

	d, err := w.Deliveries.Get(ctx, id)
	if err != nil {
		log.Warn("load claimed delivery failed", zap.Error(err))
		return w.release(ctx, id, lease)
	}

	wh, err := w.Webhooks.Get(ctx, d.WebhookID)
	if errors.Is(err, model.ErrNotFound) {
		return w.abandon(ctx, d, lease, "webhook no longer exists")
	}
	if err != nil {
		log.Warn("load webhook failed", zap.Error(err))
		return w.release(ctx, id, lease)
	}

	ev, err := w.Events.GetByID(ctx, d.EventID)
	if errors.Is(err, model.ErrNotFound) {
		return w.abandon(ctx, d, lease, "event no longer exists")
	}
	if err != nil {
		log.Warn("load event failed", zap.Error(err))
		return w.release(ctx, id, lease)
	}

	target := delivery.TargetKey(wh.URL)
	ok, retryAt := w.Breakers.TryAcquire(target)
	if !ok {
		if err := w.Deliveries.Release(ctx, d.ID, lease, retryAt); err != nil {
			log.Warn("release deferred delivery failed", zap.Error(err))
			return OutcomeSkipped
		}
		metrics.DeliveryAttempts.WithLabelValues("deferred").Inc()
		log.Debug("target circuit open, deferred", zap.String("target", target), zap.Time("retry_at", retryAt))
		return OutcomeDeferred
	}

	// an admitted request must report back, or a half-open breaker keeps
	// its trial slot forever
	settled := false
	defer func() {
		if !settled {
			w.Breakers.OnAbort(target)
		}
	}()

	body, err := json.Marshal(model.NewEnvelope(*ev))
	if err != nil {
		return w.abandon(ctx, d, lease, "encode envelope: "+err.Error())
	}

	resp, sendErr := w.Client.Send(ctx, delivery.Request{
		URL:        wh.URL,
		Secret:     wh.Secret,
		DeliveryID: d.ID,
		EventID:    ev.ID,
		EventType:  ev.Type.String(),
		Body:       body,
	})
	if ctx.Err() != nil {
		// shutting down mid-request: leave the lease to expire
		return OutcomeSkipped
	}

	attemptedAt := w.Now()
	number := d.AttemptCount + 1
	result := model.AttemptResult{AttemptedAt: attemptedAt}
	if resp.StatusCode != 0 {
		code := resp.StatusCode
		result.ResponseCode = &code
	}

	settled = true
	if sendErr == nil {
		w.Breakers.OnSuccess(target)
		result.Status = model.DeliveryDelivered
	} else {
		w.Breakers.OnFailure(target)
		msg := truncate(sendErr.Error(), maxErrorLen)
		result.Error = &msg
		dec := w.Schedule.Decide(number, d.AttemptBase, attemptedAt)
		result.Status = dec.Status
		result.NextAttemptAt = dec.NextAttemptAt
	}

	if err := w.Deliveries.Complete(ctx, d.ID, lease, result); err != nil {
		if errors.Is(err, model.ErrLeaseLost) {
			log.Warn("lease lost before completion, outcome discarded",
				zap.String("status", result.Status.String()))
		} else {
			log.Error("complete delivery failed", zap.Error(err))
		}
		return OutcomeSkipped
	}

	// only attempts the delivery row agrees with reach the log
	w.recordAttempt(ctx, d, number, result, resp.Latency)

	metrics.DeliveryAttempts.WithLabelValues(result.Status.String()).Inc()
	metrics.DeliveryLatency.Observe(resp.Latency.Seconds())

	fields := []zap.Field{
		zap.String("webhook_id", d.WebhookID),
		zap.String("event_id", d.EventID),
		zap.Int("attempt", number),
		zap.String("status", result.Status.String()),
		zap.Duration("latency", resp.Latency),
	}
	switch result.Status {
	case model.DeliveryDelivered:
		log.Debug("delivered", fields...)
		return OutcomeDelivered
	case model.DeliveryRetrying:
		log.Info("delivery attempt failed, retry scheduled", append(fields, zap.Error(sendErr), zap.Timep("next_attempt_at", result.NextAttemptAt))...)
		return OutcomeRetrying
	default:
		log.Warn("delivery failed permanently", append(fields, zap.Error(sendErr))...)
		return OutcomeFailed
	}
}

// release hands a claimed delivery back for the next poll without counting an attempt.
func (w *Deliverer) release(ctx context.Context, id, lease string) Outcome {
	if err := w.Deliveries.Release(ctx, id, lease, w.Now()); err != nil {
		// the lease sweep returns it instead
		logger.Log.Warn("release delivery failed", zap.String("delivery_id", id), zap.Error(err))
	}
	return OutcomeSkipped
}

// abandon marks a claimed delivery failed without a network attempt.
func (w *Deliverer) abandon(ctx context.Context, d *model.Delivery, lease, reason string) Outcome {
	result := model.AttemptResult{
		Status:      model.DeliveryFailed,
		AttemptedAt: w.Now(),
		Error:       &reason,
	}
	if err := w.Deliveries.Complete(ctx, d.ID, lease, result); err != nil {
		logger.Log.Warn("abandon delivery failed", zap.String("delivery_id", d.ID), zap.Error(err))
		return OutcomeSkipped
	}
	metrics.DeliveryAttempts.WithLabelValues("failed").Inc()
	logger.Log.Warn("delivery abandoned", zap.String("delivery_id", d.ID), zap.String("reason", reason))
	return OutcomeFailed
}

func (w *Deliverer) recordAttempt(ctx context.Context, d *model.Delivery, number int, res model.AttemptResult, latency time.Duration) {
	if w.Attempts == nil {
		return
	}
	a := model.Attempt{
		DeliveryID:  d.ID,
		WebhookID:   d.WebhookID,
		TenantID:    d.TenantID,
		EventID:     d.EventID,
		EventType:   d.EventType,
		Number:      number,
		Outcome:     res.Status,
		Latency:     latency,
		AttemptedAt: res.AttemptedAt,
	}
	if res.ResponseCode != nil {
		a.ResponseCode = *res.ResponseCode
	}
	if res.Error != nil {
		a.Error = *res.Error
	}
	ctx, cancel := context.WithTimeout(ctx, w.AttemptLogTimeout)
	defer cancel()
	if err := w.Attempts.Record(ctx, a); err != nil {
		logger.Log.Warn("record attempt failed", zap.String("delivery_id", d.ID), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
