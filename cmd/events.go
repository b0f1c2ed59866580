package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jmehdipour/webhook-gateway/internal/db"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/service/outbox"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	emitTenant  string
	emitType    string
	emitPayload string
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect and emit outbox events",
}

var eventsTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the event types webhooks can subscribe to",
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, t := range model.SupportedEventTypes() {
			fmt.Fprintf(tw, "%s\t%s\n", t.Type, t.Description)
		}
		return tw.Flush()
	},
}

var eventsEmitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Record one event in the outbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !json.Valid([]byte(emitPayload)) {
			return fmt.Errorf("payload is not valid JSON")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		ob := outbox.New(repository.NewTxRunner(sqlDB), repository.NewEventsRepository(sqlDB))
		var id string
		err = ob.Mutate(ctx, func(tx *sqlx.Tx) error {
			var err error
			id, err = ob.Record(ctx, tx, emitTenant, model.EventType(emitType), json.RawMessage(emitPayload))
			return err
		})
		if err != nil {
			return err
		}
		logger.Named("events").Info("event recorded",
			zap.String("event_id", id), zap.String("tenant_id", emitTenant), zap.String("event_type", emitType))
		fmt.Println(id)
		return nil
	},
}

func init() {
	eventsEmitCmd.Flags().StringVar(&emitTenant, "tenant", "", "tenant id")
	eventsEmitCmd.Flags().StringVar(&emitType, "type", "", "event type, e.g. identity.created")
	eventsEmitCmd.Flags().StringVar(&emitPayload, "payload", "{}", "JSON payload")
	_ = eventsEmitCmd.MarkFlagRequired("tenant")
	_ = eventsEmitCmd.MarkFlagRequired("type")

	eventsCmd.AddCommand(eventsTypesCmd)
	eventsCmd.AddCommand(eventsEmitCmd)
}
