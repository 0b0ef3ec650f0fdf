package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/boddenberg/faturas-core/internal/app"
	"github.com/boddenberg/faturas-core/internal/infra/sqlstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Long: `Apply, roll back or inspect the embedded schema migrations.

The dialect and connection come from DB_DRIVER and DATABASE_URL.`,
	Example: `  # Apply every pending migration
  faturas-admin migrate up

  # Roll back the last migration
  faturas-admin migrate down --steps 1`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every pending migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		dialect, dsn, err := database()
		if err != nil {
			return err
		}
		if err := sqlstore.RunMigrations(dialect, dsn); err != nil {
			return err
		}
		return printVersion(cmd, dialect, dsn)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetInt("steps")
		if steps < 1 {
			return fmt.Errorf("steps must be positive")
		}
		dialect, dsn, err := database()
		if err != nil {
			return err
		}
		if err := sqlstore.MigrateDown(dialect, dsn, steps); err != nil {
			return err
		}
		logger.Info("migrations rolled back", zap.Int("steps", steps))
		return printVersion(cmd, dialect, dsn)
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		dialect, dsn, err := database()
		if err != nil {
			return err
		}
		return printVersion(cmd, dialect, dsn)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)

	migrateDownCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
}

func database() (sqlstore.Dialect, string, error) {
	dialect, err := sqlstore.ParseDialect(cfg.DBDriver)
	if err != nil {
		return "", "", err
	}
	return dialect, app.DSN(dialect, cfg.DatabaseURL), nil
}

func printVersion(cmd *cobra.Command, dialect sqlstore.Dialect, dsn string) error {
	version, dirty, err := sqlstore.MigrationVersion(dialect, dsn)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty: %t)\n", version, dirty)
	return nil
}
