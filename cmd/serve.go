package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/db"
	httpSrv "github.com/jmehdipour/webhook-gateway/internal/http"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/metrics"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/service/admin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the management HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := logger.Named("serve")
		metrics.MustRegister(prometheus.DefaultRegisterer)

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOptsFrom(cfg.MySQL))
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(db.RedisOptsFrom(cfg.Redis))
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		// latency stats degrade to empty when ClickHouse is down
		var attempts repository.AttemptLog
		chDB, err := db.NewClickHouseConnection(db.ClickHouseOptsFrom(cfg.ClickHouse))
		if err != nil {
			log.Warn("clickhouse unavailable, latency stats disabled", zap.Error(err))
		} else {
			defer func() { _ = chDB.Close() }()
			attempts = repository.NewCHAttemptLog(chDB)
		}

		adminSvc := admin.New(
			repository.NewWebhooksRepository(mysqlDB),
			repository.NewDeliveriesRepository(mysqlDB),
			repository.NewEventsRepository(mysqlDB),
			attempts,
		)

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Admin:   adminSvc,
			Tenants: repository.NewTenantsRepository(mysqlDB),
			Redis:   redisClient,
			Ready:   mysqlDB.PingContext,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- server.Start(cfg.HTTP.Addr) }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		timeout := cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return server.Shutdown(ctx)
	},
}
