package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/qustavo/sqlhooks/v2"
	"modernc.org/sqlite"
)

const hookedSQLiteDriver = "sqliteWithHooks"

var (
	registerOnce sync.Once
	sqliteHooks  = &Hooks{}
)

// SQLiteOptions configures OpenSQLite.
type SQLiteOptions struct {
	SlowQueryThreshold time.Duration
}

// OpenSQLite opens (creating if needed) the SQLite file at path through the
// hooked driver. The parent directory is created when absent.
//
// The pool is limited to a single connection: SQLite allows one writer at a
// time and the per-connection pragmas below must apply to every statement.
func OpenSQLite(path string, opts SQLiteOptions) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	registerOnce.Do(func() {
		sql.Register(hookedSQLiteDriver, sqlhooks.Wrap(&sqlite.Driver{}, sqliteHooks))
	})
	if opts.SlowQueryThreshold > 0 {
		sqliteHooks.SetSlowQueryThreshold(opts.SlowQueryThreshold)
	}

	db, err := sql.Open(hookedSQLiteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}
