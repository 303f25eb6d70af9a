package db

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"ti-tracker/internal/logger"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database holding all tracker state: item catalog,
// slot snapshots, deltas, runs, prices and the cloud outbox.
type DB struct {
	sql *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// modernc sqlite permits one writer at a time; a single connection keeps
	// the collector, sync worker and API from tripping over SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", "Opened %s", path)
	return d, nil
}

// ImportLegacy copies a pre-1.0 database into place when no database exists
// at path yet. The legacy file is left untouched so a downgrade still works.
// Returns true when a copy happened.
func ImportLegacy(path, legacyPath string) (bool, error) {
	if legacyPath == "" {
		return false, nil
	}
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	src, err := os.Open(legacyPath)
	if err != nil {
		return false, fmt.Errorf("open legacy db: %w", err)
	}
	defer src.Close()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create db dir: %w", err)
	}
	dst, err := os.Create(path)
	if err != nil {
		return false, fmt.Errorf("create db: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return false, fmt.Errorf("copy legacy db: %w", err)
	}
	logger.Success("DB", "Imported legacy database from %s", legacyPath)
	return true, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

func (d *DB) migrate() error {
	version := 0
	// Try to read current version
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS settings (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS items (
				config_base_id INTEGER PRIMARY KEY,
				name_en        TEXT NOT NULL DEFAULT '',
				name_cn        TEXT NOT NULL DEFAULT '',
				type_cn        TEXT NOT NULL DEFAULT '',
				icon_url       TEXT NOT NULL DEFAULT '',
				updated_at     TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS player_scopes (
				scope       TEXT PRIMARY KEY,
				player_id   TEXT NOT NULL DEFAULT '',
				season_id   INTEGER NOT NULL DEFAULT 0,
				season_name TEXT NOT NULL DEFAULT '',
				role_name   TEXT NOT NULL DEFAULT '',
				role_level  INTEGER NOT NULL DEFAULT 0,
				hero_id     INTEGER NOT NULL DEFAULT 0,
				first_seen  TEXT NOT NULL,
				last_seen   TEXT NOT NULL,
				is_active   INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS log_position (
				id         INTEGER PRIMARY KEY CHECK (id = 1),
				path       TEXT NOT NULL,
				offset     INTEGER NOT NULL,
				updated_at TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1")
	}

	if version < 2 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS slot_state (
				scope          TEXT NOT NULL,
				page_id        INTEGER NOT NULL,
				slot_id        INTEGER NOT NULL,
				config_base_id INTEGER NOT NULL,
				num            INTEGER NOT NULL,
				updated_at     TEXT NOT NULL,
				PRIMARY KEY (scope, page_id, slot_id)
			);

			CREATE TABLE IF NOT EXISTS runs (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				scope         TEXT NOT NULL,
				zone_path     TEXT NOT NULL,
				zone_sig      TEXT NOT NULL,
				zone_name     TEXT NOT NULL,
				level_uid     INTEGER NOT NULL DEFAULT 0,
				level_type    INTEGER NOT NULL DEFAULT 0,
				level_id      INTEGER NOT NULL DEFAULT 0,
				started_at    TEXT NOT NULL,
				ended_at      TEXT,
				is_sub_zone   INTEGER NOT NULL DEFAULT 0,
				parent_run_id INTEGER REFERENCES runs(id),
				status        TEXT NOT NULL DEFAULT 'open'
			);
			CREATE INDEX IF NOT EXISTS idx_runs_scope ON runs(scope, started_at);
			CREATE INDEX IF NOT EXISTS idx_runs_parent ON runs(parent_run_id);

			CREATE TABLE IF NOT EXISTS item_deltas (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				scope          TEXT NOT NULL,
				run_id         INTEGER REFERENCES runs(id),
				ts             TEXT NOT NULL,
				page_id        INTEGER NOT NULL,
				slot_id        INTEGER NOT NULL,
				config_base_id INTEGER NOT NULL,
				delta          INTEGER NOT NULL,
				context        TEXT NOT NULL DEFAULT 'Other'
			);
			CREATE INDEX IF NOT EXISTS idx_deltas_run ON item_deltas(run_id);
			CREATE INDEX IF NOT EXISTS idx_deltas_scope_ts ON item_deltas(scope, ts);

			INSERT OR IGNORE INTO schema_version (version) VALUES (2);
		`)
		if err != nil {
			return fmt.Errorf("migration v2: %w", err)
		}
		logger.Info("DB", "Applied migration v2 (runs)")
	}

	if version < 3 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS prices (
				scope          TEXT NOT NULL,
				config_base_id INTEGER NOT NULL,
				price          REAL NOT NULL,
				source         TEXT NOT NULL DEFAULT 'exchange',
				listing_count  INTEGER NOT NULL DEFAULT 0,
				updated_at     TEXT NOT NULL,
				PRIMARY KEY (scope, config_base_id)
			);

			CREATE TABLE IF NOT EXISTS cloud_prices (
				season_id      INTEGER NOT NULL,
				config_base_id INTEGER NOT NULL,
				median         REAL NOT NULL,
				p10            REAL NOT NULL DEFAULT 0,
				p90            REAL NOT NULL DEFAULT 0,
				contributors   INTEGER NOT NULL DEFAULT 0,
				updated_at     TEXT NOT NULL,
				PRIMARY KEY (season_id, config_base_id)
			);

			CREATE TABLE IF NOT EXISTS price_history (
				config_base_id INTEGER NOT NULL,
				hour_ts        TEXT NOT NULL,
				median         REAL NOT NULL,
				p10            REAL NOT NULL DEFAULT 0,
				p90            REAL NOT NULL DEFAULT 0,
				submissions    INTEGER NOT NULL DEFAULT 0,
				devices        INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (config_base_id, hour_ts)
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (3);
		`)
		if err != nil {
			return fmt.Errorf("migration v3: %w", err)
		}
		logger.Info("DB", "Applied migration v3 (prices)")
	}

	if version < 4 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS cloud_outbox (
				id             INTEGER PRIMARY KEY AUTOINCREMENT,
				config_base_id INTEGER NOT NULL,
				price          REAL NOT NULL,
				observed_at    TEXT NOT NULL,
				attempts       INTEGER NOT NULL DEFAULT 0,
				next_attempt   TEXT NOT NULL,
				last_error     TEXT NOT NULL DEFAULT '',
				created_at     TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_outbox_due ON cloud_outbox(next_attempt);

			INSERT OR IGNORE INTO schema_version (version) VALUES (4);
		`)
		if err != nil {
			return fmt.Errorf("migration v4: %w", err)
		}
		logger.Info("DB", "Applied migration v4 (cloud outbox)")
	}

	if version < 5 {
		_, err := d.sql.Exec(`
			ALTER TABLE log_position ADD COLUMN fingerprint TEXT NOT NULL DEFAULT '';

			INSERT OR IGNORE INTO schema_version (version) VALUES (5);
		`)
		if err != nil {
			return fmt.Errorf("migration v5: %w", err)
		}
		logger.Info("DB", "Applied migration v5 (log identity)")
	}

	return nil
}

// SqlDB returns the underlying *sql.DB for use by other packages.
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}

// ts formats a timestamp the way every table stores them.
func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTS is the inverse of ts; zero time on malformed input.
func parseTS(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
