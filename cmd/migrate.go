package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cwrk-planet/room-bus/internal/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables for the configured SQL storage driver",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		// sqlite применяет схему при открытии
		st, pool, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if pool != nil {
			defer pool.Close()
			if err := postgres.Migrate(ctx, pool); err != nil {
				return err
			}
		}
		slog.Info("schema is up to date", "driver", cfg.Storage.Driver)
		return nil
	},
}
