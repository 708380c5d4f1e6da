package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ticketdesk/reportd/internal/database/migrations"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database utilities",
	Long: `Database utilities for reportd.

Migrations are embedded in the binary and applied whenever the database
is opened.

Examples:
  reportd db migrations    Apply pending migrations and list applied ones`,
}

var dbMigrationsCmd = &cobra.Command{
	Use:   "migrations",
	Short: "Apply pending migrations and list applied ones",
	Args:  cobra.NoArgs,
	RunE:  runDBMigrations,
}

func init() {
	dbCmd.AddCommand(dbMigrationsCmd)
	rootCmd.AddCommand(dbCmd)
}

func runDBMigrations(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrations.GetApplied(cmd.Context(), db.DB)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Database: %s\n\n", cfg.Database.Path)
	fmt.Fprintf(w, "%-40s %s\n", "MIGRATION", "APPLIED AT")
	for _, m := range applied {
		fmt.Fprintf(w, "%-40s %s\n", m.ID, m.AppliedAt.Format(time.RFC3339))
	}
	return nil
}
