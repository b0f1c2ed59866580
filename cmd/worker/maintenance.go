package worker

import (
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var cleanupOnce bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Return deliveries with expired leases to the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		s := worker.NewSweeper(repository.NewDeliveriesRepository(e.db), e.cfg.Delivery.LeaseTimeout)
		if e.cfg.Sweep.BatchSize > 0 {
			s.BatchSize = e.cfg.Sweep.BatchSize
		}
		logger.Named("sweep").Info("sweeper started",
			zap.Duration("interval", e.cfg.Sweep.Interval),
			zap.Duration("lease", s.Lease))
		return s.Run(e.ctx, e.cfg.Sweep.Interval)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete terminal deliveries and dispatched events past retention",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		log := logger.Named("cleanup")
		rc := e.cfg.Retention

		j := worker.NewJanitor(
			repository.NewDeliveriesRepository(e.db),
			repository.NewEventsRepository(e.db),
			rc.Deliveries,
			rc.Events,
		)
		if rc.BatchSize > 0 {
			j.BatchSize = rc.BatchSize
		}

		if cleanupOnce {
			res, err := j.CleanupOnce(e.ctx)
			if err != nil {
				return err
			}
			log.Info("cleanup done", zap.Int64("deliveries", res.Deliveries), zap.Int64("events", res.Events))
			return nil
		}
		log.Info("janitor started", zap.Duration("interval", rc.Interval))
		return j.Run(e.ctx, rc.Interval)
	},
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupOnce, "once", false, "run a single cleanup pass and exit")
}
