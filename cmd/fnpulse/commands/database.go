package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/teranos/fnpulse/am"
	"github.com/teranos/fnpulse/db"
	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/pulse/async"
)

// openDatabase opens and migrates the job database. An empty dbPath uses
// database.path from the loaded configuration.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		cfg, err := am.Load()
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config")
		}
		dbPath = cfg.Database.Path
	}
	if dbPath == "" {
		dbPath = am.DefaultDatabasePath
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

// openQueue opens the database named by the --db flag (or config) and
// returns a queue over it. The caller closes the database.
func openQueue(cmd *cobra.Command) (*sql.DB, *async.Queue, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	database, err := openDatabase(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return database, async.NewQueue(database), nil
}
