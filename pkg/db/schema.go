package db

import (
	"database/sql"
	"fmt"
)

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS servers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    alias TEXT NOT NULL,
    login_user TEXT NOT NULL,
    login_password TEXT NOT NULL,
    broker_server_name TEXT NOT NULL,
    platform TEXT DEFAULT 'mt5',
    ip TEXT NOT NULL,
    port INTEGER NOT NULL,
    terminal_path TEXT DEFAULT '',
    is_active INTEGER DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS traders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    status TEXT DEFAULT 'inactive',
    master_server_id INTEGER,
    slave_server_id INTEGER,
    stop_loss_pips REAL DEFAULT 0,
    take_profit_pips REAL DEFAULT 0,
    trailing_stop_pips REAL DEFAULT 0,
    volume_multiplier REAL DEFAULT 1,
    fixed_lot REAL DEFAULT 0,
    selected_symbol TEXT DEFAULT '',
    selected_strategy TEXT DEFAULT 'basic',
    poll_interval_seconds INTEGER DEFAULT 60,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(master_server_id) REFERENCES servers(id),
    FOREIGN KEY(slave_server_id) REFERENCES servers(id)
);

CREATE TABLE IF NOT EXISTS master_orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trader_id INTEGER NOT NULL,
    ticket INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    volume REAL NOT NULL,
    price_open REAL DEFAULT 0,
    stop_loss REAL DEFAULT 0,
    take_profit REAL DEFAULT 0,
    opened_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(trader_id, ticket),
    FOREIGN KEY(trader_id) REFERENCES traders(id)
);

CREATE TABLE IF NOT EXISTS slave_orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    trader_id INTEGER NOT NULL,
    master_order_id INTEGER,
    master_ticket INTEGER DEFAULT 0,
    ticket INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    volume REAL NOT NULL,
    price_open REAL DEFAULT 0,
    stop_loss REAL DEFAULT 0,
    take_profit REAL DEFAULT 0,
    opened_at DATETIME,
    closed_at DATETIME,
    profit REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(trader_id) REFERENCES traders(id),
    FOREIGN KEY(master_order_id) REFERENCES master_orders(id)
);

CREATE INDEX IF NOT EXISTS idx_slave_orders_live
    ON slave_orders(trader_id) WHERE closed_at IS NULL;

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// ApplyMigrations bootstraps the schema; keep lightweight for fast startup.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database is not initialized")
	}
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Lightweight, idempotent migrations for older DB files.
	if err := ensureColumn(d.DB, "traders", "fixed_lot", "REAL DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "traders", "selected_strategy", "TEXT DEFAULT 'basic'"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "traders", "poll_interval_seconds", "INTEGER DEFAULT 60"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "slave_orders", "master_ticket", "INTEGER DEFAULT 0"); err != nil {
		return err
	}
	if err := ensureColumn(d.DB, "slave_orders", "profit", "REAL"); err != nil {
		return err
	}

	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
