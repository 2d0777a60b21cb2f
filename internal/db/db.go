package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"brickwatch/internal/logger"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	sql *sql.DB
}

func dbPath(databaseURL string) string {
	if databaseURL != "" {
		return databaseURL
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, "brickwatch.db")
	}
	exe, _ := os.Executable()
	return filepath.Join(filepath.Dir(exe), "brickwatch.db")
}

// Open opens (or creates) the SQLite database addressed by databaseURL
// and runs migrations. An empty databaseURL falls back to a file in the
// working directory, which is convenient for local development. A
// databaseURL that already carries a query string is used as given;
// otherwise the WAL, busy-timeout and foreign-key pragmas are appended.
func Open(databaseURL string) (*DB, error) {
	path := dbPath(databaseURL)
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	d := &DB{sql: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.Success("DB", fmt.Sprintf("Opened %s", path))
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// SqlDB returns the underlying *sql.DB for use by other packages.
func (d *DB) SqlDB() *sql.DB {
	return d.sql
}

func (d *DB) migrate() error {
	version := 0
	d.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := d.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS users (
				id                TEXT PRIMARY KEY,
				country           TEXT NOT NULL DEFAULT 'DE',
				chat_handle       TEXT,
				push_subscriptions TEXT NOT NULL DEFAULT '[]',
				quiet_hours_start INTEGER,
				quiet_hours_end   INTEGER,
				digest_enabled    INTEGER NOT NULL DEFAULT 1,
				created_at        TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS items_set (
				set_number   TEXT PRIMARY KEY,
				name         TEXT NOT NULL DEFAULT '',
				image_url    TEXT,
				piece_count  INTEGER NOT NULL DEFAULT 0,
				updated_at   TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS items_minifig (
				collector_code   TEXT PRIMARY KEY,
				opaque_b_id      TEXT,
				encyclopedia_id  TEXT,
				name             TEXT NOT NULL DEFAULT '',
				image_url        TEXT,
				updated_at       TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_items_minifig_bid ON items_minifig(opaque_b_id);
			CREATE INDEX IF NOT EXISTS idx_items_minifig_encyclopedia ON items_minifig(encyclopedia_id);

			CREATE TABLE IF NOT EXISTS watches (
				id                    INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id               TEXT NOT NULL,
				item_kind             TEXT NOT NULL,
				item_id               TEXT NOT NULL,
				ship_to_country       TEXT NOT NULL,
				target_landed_price   REAL NOT NULL,
				min_landed_price      REAL NOT NULL DEFAULT 0,
				condition             TEXT NOT NULL DEFAULT 'any',
				ship_from_allowlist   TEXT NOT NULL DEFAULT '[]',
				min_seller_rating     REAL NOT NULL DEFAULT 0,
				min_seller_feedback   INTEGER NOT NULL DEFAULT 0,
				exclude_words         TEXT NOT NULL DEFAULT '[]',
				enabled_sources       TEXT NOT NULL DEFAULT '["a","b"]',
				status                TEXT NOT NULL DEFAULT 'active',
				snoozed_until         TEXT,
				scan_priority         INTEGER NOT NULL DEFAULT 0,
				alerts_today          INTEGER NOT NULL DEFAULT 0,
				alerts_this_hour      INTEGER NOT NULL DEFAULT 0,
				best_price_today      REAL,
				counters_reset_at     TEXT NOT NULL DEFAULT '',
				created_at            TEXT NOT NULL,
				UNIQUE (user_id, item_kind, item_id, status)
			);
			CREATE INDEX IF NOT EXISTS idx_watches_group ON watches(item_kind, item_id, ship_to_country, status);
			CREATE INDEX IF NOT EXISTS idx_watches_user ON watches(user_id, status);

			CREATE TABLE IF NOT EXISTS listings (
				source                TEXT NOT NULL,
				listing_id            TEXT NOT NULL,
				scanned_for_country   TEXT NOT NULL,
				item_kind             TEXT NOT NULL,
				item_id               TEXT NOT NULL,
				title                 TEXT NOT NULL,
				url                   TEXT NOT NULL,
				image_url             TEXT,
				seller_id             TEXT NOT NULL,
				seller_username       TEXT NOT NULL DEFAULT '',
				seller_rating         REAL,
				seller_feedback       INTEGER,
				ship_from             TEXT NOT NULL,
				condition             TEXT NOT NULL DEFAULT 'unknown',
				price                 REAL NOT NULL,
				shipping              REAL NOT NULL DEFAULT 0,
				shipping_estimated    INTEGER NOT NULL DEFAULT 0,
				import_charges        REAL NOT NULL DEFAULT 0,
				import_estimated      INTEGER NOT NULL DEFAULT 0,
				total                 REAL NOT NULL,
				currency_original     TEXT NOT NULL,
				price_original        REAL NOT NULL,
				shipping_original     REAL NOT NULL DEFAULT 0,
				fingerprint           TEXT NOT NULL,
				fetched_at            TEXT NOT NULL,
				is_active             INTEGER NOT NULL DEFAULT 1,
				PRIMARY KEY (source, listing_id, scanned_for_country)
			);
			CREATE INDEX IF NOT EXISTS idx_listings_group ON listings(item_kind, item_id, scanned_for_country, is_active, total);
			CREATE INDEX IF NOT EXISTS idx_listings_fingerprint ON listings(fingerprint);

			CREATE TABLE IF NOT EXISTS alert_history (
				id                   INTEGER PRIMARY KEY AUTOINCREMENT,
				user_id              TEXT NOT NULL,
				watch_id             INTEGER NOT NULL REFERENCES watches(id) ON DELETE CASCADE,
				source               TEXT NOT NULL,
				listing_id           TEXT NOT NULL,
				scanned_for_country  TEXT NOT NULL,
				item_kind            TEXT NOT NULL,
				item_id              TEXT NOT NULL,
				price                REAL NOT NULL,
				shipping             REAL NOT NULL,
				total                REAL NOT NULL,
				target               REAL NOT NULL,
				delta_percent        REAL NOT NULL,
				notification_type    TEXT NOT NULL,
				status               TEXT NOT NULL DEFAULT 'pending',
				scheduled_for        TEXT,
				created_at           TEXT NOT NULL,
				sent_at              TEXT,
				idempotency_key      TEXT NOT NULL UNIQUE,
				channel_job_refs     TEXT NOT NULL DEFAULT '[]'
			);
			CREATE INDEX IF NOT EXISTS idx_alert_history_user ON alert_history(user_id, created_at DESC);
			CREATE INDEX IF NOT EXISTS idx_alert_history_watch ON alert_history(watch_id, created_at DESC);

			CREATE TABLE IF NOT EXISTS watch_notification_state (
				watch_id         INTEGER NOT NULL REFERENCES watches(id) ON DELETE CASCADE,
				listing_id       TEXT NOT NULL,
				notified_at      TEXT NOT NULL,
				notified_price   REAL NOT NULL,
				reminder_count   INTEGER NOT NULL DEFAULT 0,
				last_reminder_at TEXT,
				PRIMARY KEY (watch_id, listing_id)
			);
			CREATE INDEX IF NOT EXISTS idx_wns_reminder ON watch_notification_state(notified_at, reminder_count);

			CREATE TABLE IF NOT EXISTS adapter_b_id_cache (
				input_kind  TEXT NOT NULL,
				input_value TEXT NOT NULL,
				opaque_id   TEXT NOT NULL,
				display_name TEXT NOT NULL DEFAULT '',
				updated_at  TEXT NOT NULL,
				PRIMARY KEY (input_kind, input_value)
			);

			CREATE TABLE IF NOT EXISTS price_history_daily (
				item_kind    TEXT NOT NULL,
				item_id      TEXT NOT NULL,
				condition    TEXT NOT NULL,
				source       TEXT NOT NULL,
				region       TEXT NOT NULL,
				day          TEXT NOT NULL,
				min_total    REAL NOT NULL,
				avg_total    REAL NOT NULL,
				max_total    REAL NOT NULL,
				count        INTEGER NOT NULL,
				PRIMARY KEY (item_kind, item_id, condition, source, region, day)
			);

			CREATE TABLE IF NOT EXISTS job_runs (
				job_name      TEXT PRIMARY KEY,
				last_run_at   TEXT NOT NULL
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("DB", "Applied migration v1 (core schema)")
	}

	return nil
}

func (d *DB) tableExists(tableName string) (bool, error) {
	var name string
	err := d.sql.QueryRow(
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ? LIMIT 1`,
		tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *DB) ensureTableColumn(tableName, columnName, columnDef string) error {
	rows, err := d.sql.Query("PRAGMA table_info(" + tableName + ")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, typ string
		var notNull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, columnName) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = d.sql.Exec("ALTER TABLE " + tableName + " ADD COLUMN " + columnName + " " + columnDef)
	return err
}
