package main

import (
	"fmt"
	"log/slog"

	"bilancio/internal/log"
	"bilancio/internal/storage"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long: `Bring the SQLite schema at SQLITE_DB_PATH to the latest version.
Migrations are embedded in the binary.`,
		RunE: runMigrate,
	}
	cmd.Flags().Bool("status", false, "show the current schema version without applying changes")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	if cfg.DataBackend != "sqlite" {
		return fmt.Errorf("migrate requires DATA_BACKEND=sqlite, got %q", cfg.DataBackend)
	}
	status, _ := cmd.Flags().GetBool("status")

	if !status {
		slog.Info("Applying migrations",
			log.FieldComponent, log.ComponentStorage,
			"database", cfg.SQLiteDBPath)
		if err := storage.RunMigrations(cfg.SQLiteDBPath); err != nil {
			return err
		}
	}

	version, dirty, err := storage.MigrationVersion(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
	if dirty {
		return fmt.Errorf("schema is dirty at version %d; fix it manually before retrying", version)
	}
	return nil
}
