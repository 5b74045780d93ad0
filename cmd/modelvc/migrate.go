package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/modelvc/internal/config"
	"github.com/rpattn/modelvc/internal/db"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database migrations",
	Long:  `Apply every pending migration to the configured postgres database, or roll them all back with --down.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		if cfg.Store.Driver != config.StoreDriverPostgres {
			return fmt.Errorf("migrate needs the %s store driver, got %s", config.StoreDriverPostgres, cfg.Store.Driver)
		}
		if migrateDown {
			return db.RollbackMigrations(cfg.Database, logger)
		}
		return db.RunMigrations(cfg.Database, logger)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Roll back every migration")
}
