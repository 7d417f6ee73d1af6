// Package sqlite provides the SQLite connection factory and embedded schema
// migrations for kaiwa. Uses modernc.org/sqlite, a pure-Go driver (no CGO).
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Registers the modernc driver under the name "sqlite".
	_ "modernc.org/sqlite"
)

// NewDB opens (or creates) a SQLite database at path with WAL journaling,
// foreign-key enforcement, and a 5-second busy timeout. Use ":memory:" in
// tests. The parent directory must already exist for file-backed paths.
func NewDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return nil, fmt.Errorf("sqlite.NewDB: parent directory %q does not exist", dir)
		}
	}

	// PRAGMAs go through DSN query parameters so every pooled connection
	// gets them.
	dsn := path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite.NewDB: open %q: %w", path, err)
	}

	// WAL permits concurrent readers; SQLite serializes writers itself.
	// An in-memory database exists per connection, so the pool must not
	// grow past one there.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}

	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("sqlite.NewDB: ping %q: %w", path, err)
	}

	return db, nil
}
