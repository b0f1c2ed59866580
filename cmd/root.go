package cmd

import (
	"fmt"
	"os"

	"github.com/jmehdipour/webhook-gateway/cmd/worker"
	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	rootCmd = &cobra.Command{
		Use:   "webhook-gateway",
		Short: "Webhook event outbox and delivery CLI",
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file (defaults and WHGW_* env when empty)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
}

// loadConfig reads the config file and switches the process logger on.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Log.Level, cfg.Log.Encoding)
	return cfg, nil
}
