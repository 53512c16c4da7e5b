package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/config"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		return applyMigrations(cfg, logger)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		stdDB, err := openStdDB(cfg)
		if err != nil {
			return err
		}
		defer stdDB.Close()

		version, dirty, err := database.MigrationVersion(stdDB)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

// applyMigrations runs pending migrations over a database/sql handle, which
// golang-migrate requires.
func applyMigrations(cfg *config.Config, logger *zap.Logger) error {
	stdDB, err := openStdDB(cfg)
	if err != nil {
		return err
	}
	defer stdDB.Close()

	if err := database.RunMigrations(stdDB, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func openStdDB(cfg *config.Config) (*sql.DB, error) {
	stdDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database for migrations: %w", err)
	}
	return stdDB, nil
}
