// Package persistence provides the SQLite record store for inventory and
// request rows. All mutations are expected to arrive from the single worker
// goroutine; the connection pool is pinned to one connection accordingly.
package persistence

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // SQLite driver

	"relief/pkg/logx"
)

// Store wraps the database handle with the operations the allocation engine
// and the HTTP surface need.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (creating if necessary) the database at dbPath, runs schema
// migrations, and seeds the default inventory into an empty database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := initializeSchemaWithMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := seedIfEmpty(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to seed inventory: %w", err)
	}

	// SQLite supports a single writer; pin the pool so the driver never
	// queues a second concurrent connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logx.NewLogger("persistence")}
	store.logger.Info("Database ready: %s", dbPath)
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
