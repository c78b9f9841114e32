package main

import (
	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/internal/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "webhookd",
	Short: "Webhook dispatch service",
	Long: `webhookd delivers signed webhooks for business events to registered
endpoints, retries failures on a schedule, and reports delivery health.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file merged over the built-in defaults")

	rootCmd.AddCommand(serveCmd, schedulerCmd, migrateCmd, seedCmd, validateCmd, exportCmd)
}

// loadConfig reads the config and builds the service logger
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logger.New(cfg.Log), nil
}
