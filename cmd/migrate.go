package cmd

import (
	"context"
	"fmt"

	"github.com/jmehdipour/webhook-gateway/internal/db"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/migrations"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	migrateDrop       bool
	migrateClickHouse bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the MySQL outbox schema and the ClickHouse attempt log",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Named("migrate")
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		if err := migrateMySQL(ctx, sqlDB, migrateDrop); err != nil {
			return err
		}
		log.Info("mysql schema applied", zap.Bool("dropped", migrateDrop))

		if !migrateClickHouse {
			return nil
		}
		chDB, err := db.NewClickHouseConnection(db.ClickHouseOptsFrom(cfg.ClickHouse))
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		stmts, err := migrations.ClickHouse()
		if err != nil {
			return fmt.Errorf("read clickhouse migration: %w", err)
		}
		for _, s := range stmts {
			if _, err := chDB.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("exec clickhouse migration: %w", err)
			}
		}
		log.Info("clickhouse schema applied", zap.Int("statements", len(stmts)))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDrop, "drop", false, "drop all tables first (dev only)")
	migrateCmd.Flags().BoolVar(&migrateClickHouse, "clickhouse", true, "also create the ClickHouse attempt log")
}

// migrateMySQL runs the scripts on a single connection so the
// FOREIGN_KEY_CHECKS session variable covers every statement.
func migrateMySQL(ctx context.Context, sqlDB *sqlx.DB, drop bool) error {
	conn, err := sqlDB.Connx(ctx)
	if err != nil {
		return fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	var scripts []string
	if drop {
		s, err := migrations.MySQLDrop()
		if err != nil {
			return fmt.Errorf("read drop script: %w", err)
		}
		scripts = append(scripts, s)
	}
	s, err := migrations.MySQL()
	if err != nil {
		return fmt.Errorf("read migration: %w", err)
	}
	scripts = append(scripts, s)

	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		return fmt.Errorf("disable fk checks: %w", err)
	}
	for _, script := range scripts {
		if _, err := conn.ExecContext(ctx, script); err != nil {
			_, _ = conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1")
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	if _, err := conn.ExecContext(ctx, "SET FOREIGN_KEY_CHECKS = 1"); err != nil {
		return fmt.Errorf("enable fk checks: %w", err)
	}
	return nil
}
