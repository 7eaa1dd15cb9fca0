package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-spice-must-recur/internal/cli"
	"github.com/Veraticus/the-spice-must-recur/internal/storage"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

An existing database is snapshotted before any migration is applied.
Every other command migrates automatically; this one lets you do it
deliberately and check where the schema stands.`,
		Args: cobra.NoArgs,
		RunE: runMigrate,
	}

	cmd.Flags().Bool("status", false, "show current migration status without applying changes")
	cmd.Flags().Bool("no-snapshot", false, "skip the automatic snapshot before migrating")

	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetBool("status")
	noSnapshot, _ := cmd.Flags().GetBool("no-snapshot")
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	current, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	if status {
		fmt.Fprintln(w, cli.FormatTitle("Database migration status"))
		fmt.Fprintf(w, "Database:        %s\n", cfg.Database.Path)
		fmt.Fprintf(w, "Current version: %d\n", current)
		fmt.Fprintf(w, "Latest version:  %d\n", storage.ExpectedSchemaVersion)
		if current < storage.ExpectedSchemaVersion {
			fmt.Fprintln(w, cli.FormatWarning("Migrations pending; run 'recur migrate'"))
		}
		return nil
	}

	if current >= storage.ExpectedSchemaVersion {
		fmt.Fprintln(w, cli.FormatSuccess(fmt.Sprintf("Database already at version %d", current)))
		return nil
	}

	if current > 0 && !noSnapshot {
		snapshots, err := store.NewSnapshotManager()
		if err != nil {
			return fmt.Errorf("failed to create snapshot manager: %w", err)
		}
		info, err := snapshots.Auto(ctx, "migrate")
		if err != nil {
			return err
		}
		slog.Info("Snapshot created before migration", "snapshot", info.ID)
	}

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	fmt.Fprintln(w, cli.FormatSuccess(fmt.Sprintf("Migrated database from version %d to %d", current, storage.ExpectedSchemaVersion)))
	return nil
}
