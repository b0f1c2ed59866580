package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/db"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	// attach subcommands
	cmd.AddCommand(dispatchCmd)
	cmd.AddCommand(deliverCmd)
	cmd.AddCommand(sweepCmd)
	cmd.AddCommand(cleanupCmd)

	return cmd
}

// env is what every worker needs before it starts: config, logger, metrics and MySQL.
type env struct {
	cfg config.Config
	db  *sqlx.DB
	ctx context.Context
}

func setup(cmd *cobra.Command) (*env, func(), error) {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Encoding)
	metrics.MustRegister(prometheus.DefaultRegisterer)

	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOptsFrom(cfg.MySQL))
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connect: %w", err)
	}

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cleanup := func() {
		stop()
		_ = dbx.Close()
	}
	return &env{cfg: cfg, db: dbx, ctx: ctx}, cleanup, nil
}
