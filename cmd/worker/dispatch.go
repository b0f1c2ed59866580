package worker

import (
	"fmt"

	"github.com/jmehdipour/webhook-gateway/internal/dispatcher"
	"github.com/jmehdipour/webhook-gateway/internal/kafka"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dispatchSource string

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Fan outbox events out into pending deliveries (poll | kafka)",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		log := logger.Named("dispatch")

		d := dispatcher.NewDispatcher(
			repository.NewTxRunner(e.db),
			repository.NewEventsRepository(e.db),
			repository.NewWebhooksRepository(e.db),
			repository.NewDeliveriesRepository(e.db),
		)

		switch dispatchSource {
		case "poll":
			log.Info("dispatcher started",
				zap.String("source", "poll"),
				zap.Duration("interval", e.cfg.Dispatcher.PollInterval),
				zap.Int("batch_size", e.cfg.Dispatcher.BatchSize))
			return d.Run(e.ctx, e.cfg.Dispatcher.PollInterval, e.cfg.Dispatcher.BatchSize)
		case "kafka":
			kc := e.cfg.Kafka
			if len(kc.Brokers) == 0 || kc.Topic == "" {
				return fmt.Errorf("kafka source needs brokers and topic")
			}
			groupID := kc.GroupID
			if groupID == "" {
				groupID = "whgw-dispatcher"
			}
			consumer := kafka.NewConsumerFromConfig(kafka.Config{
				Brokers:        kc.Brokers,
				Topic:          kc.Topic,
				GroupID:        groupID,
				MinBytes:       kc.MinBytes,
				MaxBytes:       kc.MaxBytes,
				CommitInterval: kc.CommitInterval,
				MaxWait:        kc.MaxWait,
			})
			defer consumer.Close()

			// drain whatever was written before the connector caught up
			res, err := d.DispatchPending(e.ctx, e.cfg.Dispatcher.BatchSize)
			if err != nil {
				return err
			}
			log.Info("dispatcher started",
				zap.String("source", "kafka"),
				zap.String("topic", kc.Topic),
				zap.String("group", groupID),
				zap.Int("backlog_events", res.Events))
			return d.RunCDC(e.ctx, consumer)
		default:
			return fmt.Errorf("unknown source %q (want poll or kafka)", dispatchSource)
		}
	},
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchSource, "source", "poll", "what triggers dispatch: poll or kafka")
}
