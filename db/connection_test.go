package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/fnpulse/errors"
)

func TestOpen(t *testing.T) {
	t.Run("opens database with pragmas on every connection", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(dbPath, nil)
		require.NoError(t, err)
		require.NotNil(t, db)
		defer db.Close()

		// Force more than one pooled connection
		db.SetMaxIdleConns(4)
		conns := make([]interface{ Close() error }, 0, 3)
		for i := 0; i < 3; i++ {
			c, err := db.Conn(t.Context())
			require.NoError(t, err)
			conns = append(conns, c)

			var journalMode string
			require.NoError(t, c.QueryRowContext(t.Context(), "PRAGMA journal_mode").Scan(&journalMode))
			assert.Equal(t, "wal", journalMode)

			var foreignKeys int
			require.NoError(t, c.QueryRowContext(t.Context(), "PRAGMA foreign_keys").Scan(&foreignKeys))
			assert.Equal(t, 1, foreignKeys)

			var busyTimeout int
			require.NoError(t, c.QueryRowContext(t.Context(), "PRAGMA busy_timeout").Scan(&busyTimeout))
			assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
		}
		for _, c := range conns {
			c.Close()
		}
	})

	t.Run("returns error for invalid path", func(t *testing.T) {
		db, err := Open("/invalid/nonexistent/path/db.sqlite", nil)
		if db != nil {
			db.Close()
		}
		require.Error(t, err)
		assert.Contains(t, err.Error(), "/invalid/nonexistent/path/db.sqlite")
	})

	t.Run("logs when logger provided", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "logged.db")

		db, err := Open(dbPath, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		db.Close()

		_, err = os.Stat(dbPath)
		assert.NoError(t, err)
	})
}

func TestIsDatabaseClosed(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "closed.db"), nil)
	require.NoError(t, err)
	db.Close()

	_, err = db.Exec("SELECT 1")
	require.Error(t, err)
	assert.True(t, IsDatabaseClosed(err))

	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "shutdown")))
	assert.False(t, IsDatabaseClosed(errors.New("disk I/O error")))
	assert.False(t, IsDatabaseClosed(nil))
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(errors.New("database is locked")))
	assert.True(t, IsBusy(errors.Wrap(errors.New("database table is locked"), "claim")))
	assert.False(t, IsBusy(errors.New("no such table: jobs")))
	assert.False(t, IsBusy(nil))
}

// TestDSNTakesWriteLockOnBegin guards the claim transaction, which must be
// IMMEDIATE to serialize claimers across processes
func TestDSNTakesWriteLockOnBegin(t *testing.T) {
	d := dsn("/tmp/jobs.db")
	assert.Contains(t, d, "_txlock=immediate")
	assert.Contains(t, d, "_busy_timeout=5000")
}
