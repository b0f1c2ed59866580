package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/kafka"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"go.uber.org/zap"
)

// MessageSource is the part of kafka.Consumer the CDC trigger needs.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, m kafka.Message) error
}

// RunCDC dispatches events as their insert records arrive on the change stream.
// Offsets are committed only after the event has been dispatched, so a crash
// replays the record and the unique key absorbs the duplicate.
func (d *Dispatcher) RunCDC(ctx context.Context, src MessageSource) error {
	for {
		m, err := src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Log.Warn("cdc fetch failed", zap.Error(err))
			if !sleepCtx(ctx, 200*time.Millisecond) {
				return nil
			}
			continue
		}

		// offsets are positional, so a failed record is retried in place
		// rather than skipped past
		for backoff := 200 * time.Millisecond; ; backoff = min(backoff*2, 5*time.Second) {
			err := d.handleChange(ctx, m)
			if err == nil {
				break
			}
			logger.Log.Warn("cdc dispatch failed",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
			if !sleepCtx(ctx, backoff) {
				return nil
			}
		}

		if err := src.Commit(ctx, m); err != nil && ctx.Err() == nil {
			logger.Log.Warn("cdc commit failed", zap.Error(err))
		}
	}
}

func (d *Dispatcher) handleChange(ctx context.Context, m kafka.Message) error {
	id, ok, err := kafka.EventIDFromChange(m.Value)
	if err != nil {
		// poison record: skip it
		logger.Log.Error("bad change record", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	n, err := d.DispatchEvent(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		// purged by retention before the record was read
		return nil
	}
	if err != nil {
		return err
	}
	logger.Log.Debug("cdc dispatched", zap.String("event_id", id), zap.Int("deliveries", n))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
