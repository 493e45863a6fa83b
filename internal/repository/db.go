package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// An in-memory database exists per connection; pin the pool to one
	// connection so every caller sees the same database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		// Merchant/supplier override rules (document-store side).
		`CREATE TABLE IF NOT EXISTS override_rules (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			business_type TEXT NOT NULL,
			order_commission_pct REAL,
			delivery_commission_pct REAL,
			is_zero_commission INTEGER NOT NULL DEFAULT 0,
			justification TEXT,
			effective_from DATETIME,
			effective_to DATETIME,
			is_active INTEGER NOT NULL DEFAULT 1,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_override_rules_subject ON override_rules(scope, subject_id, business_type)`,
		`CREATE INDEX IF NOT EXISTS idx_override_rules_updated ON override_rules(updated_at)`,

		// Location-tiered and global rules (chain-index side).
		`CREATE TABLE IF NOT EXISTS location_rules (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			country TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			zone TEXT NOT NULL DEFAULT '',
			business_type TEXT NOT NULL,
			order_commission_pct REAL,
			delivery_commission_pct REAL,
			effective_from DATETIME,
			effective_to DATETIME,
			is_active INTEGER NOT NULL DEFAULT 1,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_location_rules_scope ON location_rules(scope, country, city, zone, business_type)`,
		`CREATE INDEX IF NOT EXISTS idx_location_rules_updated ON location_rules(updated_at)`,

		`CREATE TABLE IF NOT EXISTS supplier_tiers (
			id TEXT PRIMARY KEY,
			supplier_id TEXT NOT NULL,
			min_volume REAL NOT NULL,
			max_volume REAL,
			commission_pct REAL NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_supplier_tiers_supplier ON supplier_tiers(supplier_id, min_volume)`,

		// The commission ledger. The partial unique index on order_id is
		// the per-order single-writer guard: two concurrent calculations
		// cannot both create a live record, and supersession must reverse
		// the prior version before writing the next one.
		`CREATE TABLE IF NOT EXISTS commission_records (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			business_id TEXT NOT NULL,
			business_type TEXT NOT NULL,
			order_subtotal REAL NOT NULL,
			delivery_fee REAL NOT NULL,
			order_commission_pct REAL NOT NULL,
			delivery_commission_pct REAL NOT NULL,
			supplier_commission_pct REAL,
			order_commission_amount REAL NOT NULL,
			delivery_commission_amount REAL NOT NULL,
			supplier_commission_amount REAL,
			platform_revenue REAL NOT NULL,
			merchant_payout REAL NOT NULL,
			status TEXT NOT NULL,
			calculated_at DATETIME NOT NULL,
			settled_at DATETIME,
			reversed_at DATETIME,
			reversal_reason TEXT,
			anchor_status TEXT NOT NULL DEFAULT 'PENDING',
			ledger_anchor_ref TEXT,
			UNIQUE (order_id, version)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_commission_records_live
			ON commission_records(order_id) WHERE status != 'REVERSED'`,
		`CREATE INDEX IF NOT EXISTS idx_commission_records_status ON commission_records(status)`,
		`CREATE INDEX IF NOT EXISTS idx_commission_records_calculated ON commission_records(calculated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_commission_records_anchor ON commission_records(anchor_status)`,

		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			admin_id TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			old_value TEXT,
			new_value TEXT,
			reason TEXT,
			ip_address TEXT,
			user_agent TEXT,
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_entity ON audit_log(entity_type, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_admin ON audit_log(admin_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp)`,

		`CREATE TABLE IF NOT EXISTS profit_alerts (
			id TEXT PRIMARY KEY,
			order_id TEXT,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			message TEXT NOT NULL,
			details TEXT,
			resolved INTEGER NOT NULL DEFAULT 0,
			resolved_by TEXT,
			resolved_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_profit_alerts_severity ON profit_alerts(severity, resolved)`,
		`CREATE INDEX IF NOT EXISTS idx_profit_alerts_order ON profit_alerts(order_id)`,

		// Hash-chained entries written by the background anchorer.
		`CREATE TABLE IF NOT EXISTS anchor_entries (
			sequence INTEGER PRIMARY KEY,
			record_id TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			prev_hash TEXT NOT NULL,
			anchored_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}
