package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/fnpulse/am"
	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/pulse/async"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: logger.SymDB + " Manage the fnpulse job database",
	Long: logger.SymDB + ` db - Manage the fnpulse job database

Examples:
  fnpulse db migrate              # Apply pending schema migrations
  fnpulse db stats                # Job counts by status and total cost
  fnpulse db cleanup --days 7     # Delete finished/failed jobs older than a week`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Args:  cobra.NoArgs,
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job statistics",
	Args:  cobra.NoArgs,
	RunE:  runDbStats,
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old finished and failed jobs",
	Args:  cobra.NoArgs,
	RunE:  runDbCleanup,
}

var cleanupDays int

func init() {
	dbCleanupCmd.Flags().IntVar(&cleanupDays, "days", 30, "Delete terminal jobs completed more than this many days ago")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbCleanupCmd)
}

// resolveDBPath returns the --db flag or database.path
func resolveDBPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("db"); path != "" {
		return path, nil
	}
	cfg, err := am.Load()
	if err != nil {
		return "", errors.Wrap(err, "failed to load config")
	}
	return cfg.Database.Path, nil
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	path, err := resolveDBPath(cmd)
	if err != nil {
		return err
	}

	// openDatabase applies migrations
	database, err := openDatabase(path)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "%s Database %s is up to date\n", logger.SymDB, path)
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	path, err := resolveDBPath(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(path)
	if err != nil {
		return err
	}
	defer database.Close()

	queue := async.NewQueue(database)
	ctx := cmd.Context()

	stats, err := queue.GetStats(ctx)
	if err != nil {
		return err
	}
	total, err := queue.TotalCost(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s Database Statistics\n", logger.SymDB)
	fmt.Fprintf(out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Fprintf(out, "Database Path:  %s\n", path)
	fmt.Fprintf(out, "Queued:         %d\n", stats.Queued)
	fmt.Fprintf(out, "Running:        %d\n", stats.Running)
	fmt.Fprintf(out, "Finished:       %d\n", stats.Finished)
	fmt.Fprintf(out, "Failed:         %d\n", stats.Failed)
	fmt.Fprintf(out, "Total Jobs:     %d\n", stats.Total)
	fmt.Fprintf(out, "Total Cost:     $%.4f\n", total)
	return nil
}

func runDbCleanup(cmd *cobra.Command, args []string) error {
	if cleanupDays < 0 {
		return errors.NewInvalidRequestError("--days must not be negative, got %d", cleanupDays)
	}

	path, err := resolveDBPath(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(path)
	if err != nil {
		return err
	}
	defer database.Close()

	deleted, err := async.NewQueue(database).Cleanup(cmd.Context(), time.Duration(cleanupDays)*24*time.Hour)
	if err != nil {
		return err
	}
	logger.DBDebugw("Cleaned up terminal jobs", "path", path, "days", cleanupDays, logger.FieldCount, deleted)
	fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %d job(s)\n", logger.SymDB, deleted)
	return nil
}
