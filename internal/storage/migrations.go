package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Connections table
			CREATE TABLE IF NOT EXISTS connections (
				id TEXT PRIMARY KEY,
				team_id TEXT NOT NULL,
				name TEXT NOT NULL,
				type TEXT NOT NULL,
				host TEXT NOT NULL,
				username TEXT,
				credentials_encrypted BLOB,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Telemetry sources table
			CREATE TABLE IF NOT EXISTS sources (
				id TEXT PRIMARY KEY,
				team_id TEXT NOT NULL,
				name TEXT NOT NULL,
				connection_id TEXT NOT NULL,
				database_name TEXT NOT NULL,
				table_name TEXT NOT NULL,
				timestamp_column TEXT NOT NULL,
				default_select TEXT,
				fields_json TEXT NOT NULL DEFAULT '[]',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Saved searches table
			CREATE TABLE IF NOT EXISTS saved_searches (
				id TEXT PRIMARY KEY,
				team_id TEXT NOT NULL,
				name TEXT NOT NULL,
				source_id TEXT NOT NULL,
				where_expr TEXT,
				select_expr TEXT,
				order_by TEXT,
				created_at DATETIME NOT NULL
			);

			-- Dashboards table
			CREATE TABLE IF NOT EXISTS dashboards (
				id TEXT PRIMARY KEY,
				team_id TEXT NOT NULL,
				name TEXT NOT NULL,
				tiles_json TEXT NOT NULL DEFAULT '[]',
				created_at DATETIME NOT NULL
			);

			-- Webhooks table
			CREATE TABLE IF NOT EXISTS webhooks (
				id TEXT PRIMARY KEY,
				team_id TEXT NOT NULL,
				name TEXT NOT NULL,
				service TEXT NOT NULL,
				url TEXT NOT NULL,
				body TEXT,
				headers_json TEXT NOT NULL DEFAULT '{}',
				query_params_json TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL
			);

			-- Alerts table
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				team_id TEXT NOT NULL,
				is_system INTEGER NOT NULL DEFAULT 0,
				name TEXT,
				message TEXT,
				source_kind TEXT NOT NULL,
				source_json TEXT NOT NULL,
				checker_kind TEXT NOT NULL,
				checker_json TEXT NOT NULL,
				interval TEXT NOT NULL,
				group_by TEXT,
				channel_type TEXT NOT NULL,
				channel_webhook_id TEXT,
				state TEXT NOT NULL DEFAULT 'OK',
				silenced_json TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Alert history table
			CREATE TABLE IF NOT EXISTS alert_history (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				group_key TEXT NOT NULL DEFAULT '',
				bucket_ms INTEGER NOT NULL,
				state TEXT NOT NULL,
				counts REAL NOT NULL DEFAULT 0,
				last_values_json TEXT NOT NULL DEFAULT '[]',
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
			);

			-- Indexes
			CREATE INDEX IF NOT EXISTS idx_alerts_team ON alerts(team_id);
			CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(state);
			CREATE INDEX IF NOT EXISTS idx_sources_connection ON sources(connection_id);
			CREATE INDEX IF NOT EXISTS idx_webhooks_team ON webhooks(team_id);
			CREATE INDEX IF NOT EXISTS idx_connections_team ON connections(team_id);
		`,
	},
	{
		Version: 2,
		Name:    "alert_history_bucket_unique",
		Up: `
			-- One row per (alert, group, bucket); concurrent writers race on this.
			CREATE UNIQUE INDEX IF NOT EXISTS idx_alert_history_bucket
				ON alert_history(alert_id, group_key, bucket_ms);
		`,
	},
}

func runMigrations(db *sql.DB) error {
	// Create migrations table if not exists
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	// Apply pending migrations
	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		// Run migration in transaction
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
