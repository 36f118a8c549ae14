// Package store holds the durable entity graph (CIDRs, peers, associations)
// behind a single SQLite connection, and the visibility query that serves
// the coordinator's state endpoint.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection shared by all stores. Every mutation and
// every visibility read goes through this single connection, which is how
// the "single exclusive lock around the persistent store" requirement is
// realized: database/sql serializes access to a one-connection pool, and
// SQLite's own writer lock backstops it.
type DB struct {
	conn *sql.DB
}

// Open opens a SQLite database at path (use ":memory:" for tests), enables
// WAL mode and foreign keys, and runs all migrations.
func Open(path string) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)"
	if path == ":memory:" {
		dsn = ":memory:?_pragma=foreign_keys(on)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the underlying connection.
func (db *DB) Close() error { return db.conn.Close() }

// Conn returns the raw *sql.DB for direct use by stores in this package.
func (db *DB) Conn() *sql.DB { return db.conn }

// schemaVersion reads SQLite's PRAGMA user_version, used in place of a
// bespoke schema-version table to track how many migrations are applied.
func (db *DB) schemaVersion() (int, error) {
	var v int
	if err := db.conn.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func (db *DB) setSchemaVersion(v int) error {
	_, err := db.conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", v))
	return err
}

// migrations is an ordered, additive list of schema statements. Each entry
// is applied at most once, gated by PRAGMA user_version; ALTER TABLE
// statements tolerate "duplicate column" errors so that reapplying a
// partially-applied migration list (e.g. after a crash between statements)
// is safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS cidrs (
		id          INTEGER PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		ip          TEXT NOT NULL,
		prefix      INTEGER NOT NULL,
		parent      INTEGER REFERENCES cidrs(id) ON UPDATE RESTRICT ON DELETE RESTRICT,
		UNIQUE(ip, prefix)
	)`,
	`CREATE TABLE IF NOT EXISTS peers (
		id                  INTEGER PRIMARY KEY,
		name                TEXT NOT NULL UNIQUE,
		ip                  TEXT NOT NULL UNIQUE,
		public_key          TEXT NOT NULL UNIQUE,
		endpoint            TEXT,
		cidr_id             INTEGER NOT NULL REFERENCES cidrs(id) ON UPDATE RESTRICT ON DELETE RESTRICT,
		is_admin            INTEGER NOT NULL DEFAULT 0,
		is_disabled         INTEGER NOT NULL DEFAULT 0,
		is_redeemed         INTEGER NOT NULL DEFAULT 0,
		invite_expires      INTEGER,
		endpoint_candidates TEXT,
		keepalive_secs      INTEGER,
		created_at          INTEGER NOT NULL,
		updated_at          INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS associations (
		id        INTEGER PRIMARY KEY,
		cidr_id_1 INTEGER NOT NULL REFERENCES cidrs(id) ON UPDATE RESTRICT ON DELETE RESTRICT,
		cidr_id_2 INTEGER NOT NULL REFERENCES cidrs(id) ON UPDATE RESTRICT ON DELETE RESTRICT,
		UNIQUE(cidr_id_1, cidr_id_2)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp  INTEGER NOT NULL,
		peer_name  TEXT,
		source_ip  TEXT,
		method     TEXT NOT NULL,
		path       TEXT NOT NULL,
		body_hash  TEXT,
		result     TEXT NOT NULL,
		error_msg  TEXT
	)`,
	// additive: lets an admin disable a whole CIDR (rejecting it if any
	// enabled peer still lives there) instead of disabling peers one by one.
	`ALTER TABLE cidrs ADD COLUMN is_disabled INTEGER NOT NULL DEFAULT 0`,
}

func (db *DB) migrate() error {
	applied, err := db.schemaVersion()
	if err != nil {
		return err
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, m := range migrations {
		if i < applied {
			continue
		}
		if _, err := tx.Exec(m); err != nil {
			if strings.Contains(m, "ALTER TABLE") && strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}

	if err := db.setSchemaVersion(len(migrations)); err != nil {
		return err
	}

	slog.Info("database migrations applied", "version", len(migrations))
	return nil
}
