package persistence

import (
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion defines the current schema version for migration support.
const CurrentSchemaVersion = 1

// initializeSchemaWithMigrations ensures the schema is at the current version.
func initializeSchemaWithMigrations(db *sql.DB) error {
	currentVersion, err := getSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current schema version: %w", err)
	}

	if currentVersion == 0 {
		return createSchema(db)
	}
	if currentVersion == CurrentSchemaVersion {
		return nil
	}
	return runMigrations(db, currentVersion, CurrentSchemaVersion)
}

func runMigrations(db *sql.DB, fromVersion, toVersion int) error {
	for version := fromVersion + 1; version <= toVersion; version++ {
		if err := runMigration(db, version); err != nil {
			return fmt.Errorf("migration to version %d failed: %w", version, err)
		}
		if err := setSchemaVersion(db, version); err != nil {
			return fmt.Errorf("failed to update schema version to %d: %w", version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int) error {
	// Version 1 is the initial schema; there is nothing to migrate to yet.
	return fmt.Errorf("unknown migration version: %d", version)
}

func createSchema(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS inventory (
			item_name TEXT PRIMARY KEY,
			quantity  INTEGER NOT NULL CHECK (quantity >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			item_name   TEXT NOT NULL,
			quantity    INTEGER NOT NULL,
			location    TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			urgency     TEXT NOT NULL DEFAULT 'NORMAL',
			notes       TEXT NOT NULL DEFAULT '',
			session_ref TEXT,
			created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_status ON requests(status)`,
		`CREATE INDEX IF NOT EXISTS idx_requests_item_status ON requests(item_name, status)`,
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}

func getSchemaVersion(db *sql.DB) (int, error) {
	var exists int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// seedRow pairs an item name with its initial stock level.
type seedRow struct {
	name     string
	quantity int
}

// defaultSeed is the inventory installed into an empty database.
var defaultSeed = []seedRow{
	{"water_bottles", 100},
	{"food_packs", 50},
	{"medical_kits", 10},
	{"blankets", 30},
	{"batteries", 200},
	{"tents", 60},
	{"flashlights", 60},
}

// seedIfEmpty installs the default inventory when the table has no rows.
func seedIfEmpty(db *sql.DB) error {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM inventory").Scan(&count); err != nil {
		return fmt.Errorf("failed to count inventory: %w", err)
	}
	if count > 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, row := range defaultSeed {
		if _, err := tx.Exec(
			"INSERT INTO inventory (item_name, quantity) VALUES (?, ?)",
			row.name, row.quantity,
		); err != nil {
			return fmt.Errorf("failed to seed item %s: %w", row.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit seed: %w", err)
	}
	return nil
}
