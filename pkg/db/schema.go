package db

import "fmt"

const schema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS triggers (
    id TEXT PRIMARY KEY,
    instrument_token INTEGER NOT NULL,
    condition_type TEXT NOT NULL,
    transaction_type TEXT NOT NULL,
    leg INTEGER NOT NULL DEFAULT 1,
    trigger_price REAL NOT NULL,
    order_price REAL DEFAULT 0,
    qty REAL NOT NULL,
    product TEXT NOT NULL DEFAULT 'CNC',
    parent_id TEXT DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_triggers_status ON triggers(status);
CREATE INDEX IF NOT EXISTS idx_triggers_parent ON triggers(parent_id);

CREATE TABLE IF NOT EXISTS execution_results (
    id TEXT PRIMARY KEY,
    trigger_id TEXT NOT NULL UNIQUE,
    instrument_token INTEGER NOT NULL,
    leg INTEGER NOT NULL DEFAULT 1,
    transaction_type TEXT NOT NULL,
    qty REAL NOT NULL,
    fired_price REAL NOT NULL,
    gateway_order_id TEXT DEFAULT '',
    status TEXT NOT NULL,
    error TEXT DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_execution_results_created ON execution_results(created_at);
`

// ApplyMigrations creates the schema when missing. Statements are all
// IF NOT EXISTS so this is safe to run on every start.
func ApplyMigrations(d *Database) error {
	if _, err := d.DB.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
