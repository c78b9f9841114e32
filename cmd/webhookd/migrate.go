package main

import (
	"fmt"

	"github.com/marcelsud/webhook-dispatch/webhook/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the PostgreSQL schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.Driver != "postgres" {
			return fmt.Errorf("migrations need storage.driver postgres, got %q", cfg.Storage.Driver)
		}

		version, err := postgres.MigrateUp(cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Storage.Driver != "postgres" {
			return fmt.Errorf("migrations need storage.driver postgres, got %q", cfg.Storage.Driver)
		}

		steps, _ := cmd.Flags().GetInt("steps")
		if err := postgres.MigrateDown(cfg.Postgres.DSN, steps); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().Int("steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
