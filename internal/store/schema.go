package store

import "database/sql"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	coin TEXT NOT NULL,
	signal TEXT NOT NULL,
	quantity_usd REAL NOT NULL DEFAULT 0,
	leverage REAL NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0,
	profit_target REAL,
	stop_loss REAL,
	invalidation_condition TEXT,
	justification TEXT NOT NULL DEFAULT '',
	raw_response TEXT,
	system_prompt TEXT,
	user_prompt TEXT,
	execution_status TEXT NOT NULL DEFAULT 'pending',
	execution_error TEXT,
	execution_timestamp DATETIME
);

CREATE TABLE IF NOT EXISTS positions (
	position_id TEXT PRIMARY KEY,
	coin TEXT NOT NULL,
	side TEXT NOT NULL,
	entry_time DATETIME NOT NULL,
	entry_price REAL NOT NULL,
	quantity_usd REAL NOT NULL,
	leverage REAL NOT NULL,
	decision_id INTEGER,
	exit_time DATETIME,
	exit_price REAL,
	realized_pnl REAL,
	status TEXT NOT NULL DEFAULT 'open',
	exit_reason TEXT
);

CREATE TABLE IF NOT EXISTS account_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	balance_usd REAL NOT NULL,
	equity_usd REAL NOT NULL,
	unrealized_pnl REAL NOT NULL DEFAULT 0,
	realized_pnl REAL NOT NULL DEFAULT 0,
	total_pnl REAL NOT NULL DEFAULT 0,
	sharpe_ratio REAL,
	num_positions INTEGER NOT NULL DEFAULT 0,
	return_pct REAL
);

CREATE TABLE IF NOT EXISTS status_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	status TEXT NOT NULL,
	message TEXT,
	error TEXT
);

CREATE TABLE IF NOT EXISTS operator_inputs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	message TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'cycle',
	image_path TEXT,
	is_active INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// applyMigrations creates the schema if absent and adds any missing columns
// to existing tables without touching existing data, mirroring the
// introspect-then-ALTER pattern used throughout this codebase's ancestry.
func (s *Store) applyMigrations() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return err
	}

	type col struct{ table, name, def string }
	cols := []col{
		{"positions", "decision_id", "INTEGER"},
		{"positions", "exit_reason", "TEXT"},
		{"decisions", "system_prompt", "TEXT"},
		{"decisions", "user_prompt", "TEXT"},
		{"decisions", "execution_status", "TEXT NOT NULL DEFAULT 'pending'"},
		{"decisions", "execution_error", "TEXT"},
		{"decisions", "execution_timestamp", "DATETIME"},
		{"operator_inputs", "message_type", "TEXT NOT NULL DEFAULT 'cycle'"},
		{"operator_inputs", "image_path", "TEXT"},
		{"account_snapshots", "return_pct", "REAL"},
	}
	for _, c := range cols {
		if err := ensureColumn(s.db, c.table, c.name, c.def); err != nil {
			return err
		}
	}

	indices := []string{
		`CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_account_timestamp ON account_snapshots(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
	}
	for _, idx := range indices {
		if _, err := s.db.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(`PRAGMA table_info(` + table + `)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec(`ALTER TABLE ` + table + ` ADD COLUMN ` + column + ` ` + definition)
	return err
}
