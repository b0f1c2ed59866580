package worker

import (
	"context"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"go.uber.org/zap"
)

// Sweeper returns deliveries stuck in_flight past their lease to the retry pool.
// A reclaimed delivery keeps its attempt_count: the interrupted attempt never
// completed, so it is not counted.
type Sweeper struct {
	Deliveries repository.DeliveriesRepository
	Lease      time.Duration
	BatchSize  int
	Now        func() time.Time
}

func NewSweeper(deliveriesRepo repository.DeliveriesRepository, lease time.Duration) *Sweeper {
	if lease <= 0 {
		lease = 2 * time.Minute
	}
	return &Sweeper{
		Deliveries: deliveriesRepo,
		Lease:      lease,
		BatchSize:  500,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// SweepOnce reclaims expired leases until none are left.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	var total int64
	for {
		now := s.Now()
		n, err := s.Deliveries.ReclaimExpired(ctx, now, now.Add(-s.Lease), s.BatchSize)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 || s.BatchSize <= 0 || n < int64(s.BatchSize) {
			break
		}
	}
	if total > 0 {
		metrics.LeasesReclaimed.Add(float64(total))
		logger.Log.Warn("reclaimed expired delivery leases", zap.Int64("count", total))
	}
	return total, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	return every(ctx, interval, func() {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Log.Error("lease sweep failed", zap.Error(err))
		}
	})
}

func every(ctx context.Context, interval time.Duration, fn func()) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		fn()
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}
