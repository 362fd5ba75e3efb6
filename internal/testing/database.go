package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/fnpulse/db"
)

// CreateTestDB creates a migrated SQLite test database in a temp directory.
// A file (not :memory:) so every pooled connection sees the same data.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fnpulse-test.db")
	conn, err := db.OpenWithMigrations(path, nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
