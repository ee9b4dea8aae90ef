package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    webhook_secret TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL DEFAULT '',
    notify_prefs TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS credentials (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    venue_type TEXT NOT NULL,
    api_key TEXT NOT NULL,
    secret_encrypted TEXT NOT NULL,
    sandbox INTEGER DEFAULT 0,
    is_active INTEGER DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY(account_id) REFERENCES accounts(id)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_account_venue
    ON credentials(account_id, venue_type) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS trades (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    venue TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    exit_price REAL NOT NULL,
    pnl REAL NOT NULL,
    close_reason TEXT NOT NULL DEFAULT '',
    opened_at DATETIME,
    closed_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_trades_account_closed ON trades(account_id, venue, closed_at);

CREATE TABLE IF NOT EXISTS positions (
    account_id TEXT NOT NULL,
    venue TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    entry_price REAL NOT NULL,
    leverage REAL NOT NULL DEFAULT 1,
    stop_order_id TEXT NOT NULL DEFAULT '',
    tp_order_id TEXT NOT NULL DEFAULT '',
    mark_price REAL NOT NULL DEFAULT 0,
    unrealized_pnl REAL NOT NULL DEFAULT 0,
    synced_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY(account_id, venue, symbol)
);

CREATE TABLE IF NOT EXISTS option_trades (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    venue TEXT NOT NULL,
    underlying TEXT NOT NULL,
    option_symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    multiplier REAL NOT NULL DEFAULT 100,
    entry_order_id TEXT NOT NULL,
    tp_order_id TEXT NOT NULL DEFAULT '',
    sl_order_id TEXT NOT NULL DEFAULT '',
    close_order_id TEXT NOT NULL DEFAULT '',
    entry_price REAL NOT NULL DEFAULT 0,
    exit_price REAL NOT NULL DEFAULT 0,
    pnl REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'pending_entry',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_option_trades_status ON option_trades(status);

CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    venue TEXT NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    type TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    venue_order_id TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Init creates tables when missing.
func (d *Database) Init() error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
