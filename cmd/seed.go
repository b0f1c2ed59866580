package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/db"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/service/admin"
	"github.com/jmehdipour/webhook-gateway/internal/service/outbox"
	"github.com/jmehdipour/webhook-gateway/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedWebhookURL string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo tenants, one webhook per active tenant and a sample event",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Named("seed")
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		tenants, err := seedTenants(ctx, sqlDB)
		if err != nil {
			return err
		}

		eventsRepo := repository.NewEventsRepository(sqlDB)
		adminSvc := admin.New(
			repository.NewWebhooksRepository(sqlDB),
			repository.NewDeliveriesRepository(sqlDB),
			eventsRepo,
			nil,
		)
		ob := outbox.New(repository.NewTxRunner(sqlDB), eventsRepo)

		for _, t := range tenants {
			if t.Status != "active" {
				continue
			}
			existing, err := adminSvc.ListWebhooks(ctx, t.ID, nil)
			if err != nil {
				return fmt.Errorf("list webhooks for %s: %w", t.Name, err)
			}
			if len(existing) == 0 {
				wh, err := adminSvc.CreateWebhook(ctx, t.ID, admin.CreateWebhookInput{
					Name:   t.Name + " demo",
					URL:    seedWebhookURL,
					Events: []string{string(model.EventIdentityCreated), string(model.EventSessionCreated)},
				})
				if err != nil {
					return fmt.Errorf("create webhook for %s: %w", t.Name, err)
				}
				log.Info("webhook created", zap.String("tenant", t.Name), zap.String("webhook_id", wh.ID), zap.String("secret", wh.Secret))
			}

			var eventID string
			err = ob.Mutate(ctx, func(tx *sqlx.Tx) error {
				var err error
				eventID, err = ob.Record(ctx, tx, t.ID, model.EventIdentityCreated, map[string]any{
					"identity_id": util.New(),
					"email":       "demo+" + t.APIKey[:4] + "@example.com",
				})
				return err
			})
			if err != nil {
				return fmt.Errorf("record event for %s: %w", t.Name, err)
			}
			log.Info("event recorded", zap.String("tenant", t.Name), zap.String("event_id", eventID))
		}

		log.Info("seed completed", zap.Int("tenants", len(tenants)))
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedWebhookURL, "webhook-url", "http://localhost:9999/hooks", "target URL for the demo webhooks")
}

// seedTenants upserts the demo tenants by api_key and returns them with their stored ids.
func seedTenants(ctx context.Context, dbx *sqlx.DB) ([]model.Tenant, error) {
	tenants := []model.Tenant{
		{Name: "Acme Corp", APIKey: "11111111111111111111111111111111", Status: "active", RateLimitRPS: intptr(20)},
		{Name: "Foobar LLC", APIKey: "22222222222222222222222222222222", Status: "active", RateLimitRPS: intptr(50)},
		{Name: "Beta Testers", APIKey: "33333333333333333333333333333333", Status: "active", RateLimitRPS: intptr(5)},
		{Name: "Suspended Inc", APIKey: "44444444444444444444444444444444", Status: "suspended"},
	}

	const q = `
INSERT INTO tenants
    (id, name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name           = VALUES(name),
    status         = VALUES(status),
    rate_limit_rps = VALUES(rate_limit_rps),
    updated_at     = VALUES(updated_at)
`
	tx, err := dbx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	for i := range tenants {
		t := &tenants[i]
		if _, err := tx.ExecContext(ctx, q, util.New(), t.Name, t.APIKey, t.Status, t.RateLimitRPS, now, now); err != nil {
			return nil, fmt.Errorf("insert tenant %q: %w", t.Name, err)
		}
		// the upsert keeps the original id of an existing row
		if err := tx.GetContext(ctx, &t.ID, `SELECT id FROM tenants WHERE api_key = ?`, t.APIKey); err != nil {
			return nil, fmt.Errorf("load tenant %q: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tenants: %w", err)
	}
	return tenants, nil
}

func intptr(i int) *int { return &i }
