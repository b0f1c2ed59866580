package worker

import (
	"github.com/jmehdipour/webhook-gateway/internal/db"
	"github.com/jmehdipour/webhook-gateway/internal/delivery"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/retry"
	"github.com/jmehdipour/webhook-gateway/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	deliverOnce  bool
	deliverSweep bool
)

var deliverCmd = &cobra.Command{
	Use:   "deliver",
	Short: "POST due deliveries to their webhooks and schedule retries",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		log := logger.Named("deliver")
		dc := e.cfg.Delivery

		// attempt history is best effort; deliveries proceed without it
		var attempts repository.AttemptLog
		chDB, err := db.NewClickHouseConnection(db.ClickHouseOptsFrom(e.cfg.ClickHouse))
		if err != nil {
			log.Warn("clickhouse unavailable, attempt log disabled", zap.Error(err))
		} else {
			defer func() { _ = chDB.Close() }()
			attempts = repository.NewCHAttemptLog(chDB)
		}

		deliveriesRepo := repository.NewDeliveriesRepository(e.db)
		w := worker.NewDeliverer(
			deliveriesRepo,
			repository.NewEventsRepository(e.db),
			repository.NewWebhooksRepository(e.db),
			attempts,
			delivery.NewClient(dc.RequestTimeout, dc.UserAgent),
			retry.NewSchedule(dc.Backoff, dc.MaxAttempts),
		)
		w.Breakers = delivery.NewBreakers(dc.Breaker.FailThreshold, dc.Breaker.OpenFor, w.Now)

		// tune knobs
		if dc.WorkerCount > 0 {
			w.Workers = dc.WorkerCount
		}
		if dc.BatchSize > 0 {
			w.BatchSize = dc.BatchSize
		}
		if dc.PollInterval > 0 {
			w.PollInterval = dc.PollInterval
		}

		if deliverOnce {
			res, err := w.ProcessBatch(e.ctx)
			if err != nil {
				return err
			}
			log.Info("batch processed",
				zap.Int("listed", res.Listed),
				zap.Int("delivered", res.Delivered),
				zap.Int("retrying", res.Retrying),
				zap.Int("failed", res.Failed),
				zap.Int("deferred", res.Deferred),
				zap.Int("skipped", res.Skipped))
			return nil
		}

		if deliverSweep {
			s := worker.NewSweeper(deliveriesRepo, dc.LeaseTimeout)
			if e.cfg.Sweep.BatchSize > 0 {
				s.BatchSize = e.cfg.Sweep.BatchSize
			}
			go func() { _ = s.Run(e.ctx, e.cfg.Sweep.Interval) }()
		}

		log.Info("deliver worker starting",
			zap.Int("max_attempts", dc.MaxAttempts),
			zap.Durations("backoff", dc.Backoff),
			zap.Bool("sweep", deliverSweep))
		return w.Run(e.ctx)
	},
}

func init() {
	deliverCmd.Flags().BoolVar(&deliverOnce, "once", false, "process a single batch and exit")
	deliverCmd.Flags().BoolVar(&deliverSweep, "sweep", true, "also reclaim expired leases in this process")
}
