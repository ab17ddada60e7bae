// Package sqlite persists user settings and the order journal.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// DB wraps the application database.
type DB struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path with WAL enabled and
// creates the schema.
func Open(path string) (*DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Info().Str("path", path).Msg("[sqlite] opened database")
	return &DB{db: db}, nil
}

// SQL returns the underlying handle for health checks.
func (d *DB) SQL() *sql.DB { return d.db.DB }

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

func createSchema(db *sqlx.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			key        TEXT PRIMARY KEY,
			value      TEXT    NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS orders (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id      TEXT    NOT NULL,
			order_link_id TEXT    NOT NULL,
			symbol        TEXT    NOT NULL,
			side          TEXT    NOT NULL,
			qty           TEXT    NOT NULL,
			leverage      INTEGER NOT NULL,
			entry_price   TEXT    NOT NULL DEFAULT '',
			take_profit   TEXT    NOT NULL DEFAULT '',
			stop_loss     TEXT    NOT NULL DEFAULT '',
			mode          TEXT    NOT NULL,
			created_at    INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at);
		CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);
	`)
	return err
}
