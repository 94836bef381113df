package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Pure-Go SQLite driver registered as "sqlite".
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path      string
	masterKey []byte
	db        *sql.DB

	alerts        *sqliteAlertRepo
	alertHistory  *sqliteAlertHistoryRepo
	savedSearches *sqliteSavedSearchRepo
	dashboards    *sqliteDashboardRepo
	sources       *sqliteSourceRepo
	connections   *sqliteConnectionRepo
	webhooks      *sqliteWebhookRepo
}

// NewSQLiteStorage creates a new SQLite storage. masterKey encrypts connection credentials.
func NewSQLiteStorage(path string, masterKey []byte) *SQLiteStorage {
	return &SQLiteStorage{
		path:      path,
		masterKey: masterKey,
	}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	// Initialize repositories
	s.alerts = &sqliteAlertRepo{db: db}
	s.alertHistory = &sqliteAlertHistoryRepo{db: db}
	s.savedSearches = &sqliteSavedSearchRepo{db: db}
	s.dashboards = &sqliteDashboardRepo{db: db}
	s.sources = &sqliteSourceRepo{db: db}
	s.connections = &sqliteConnectionRepo{db: db, masterKey: s.masterKey}
	s.webhooks = &sqliteWebhookRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Alerts returns the alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository {
	return s.alerts
}

// AlertHistory returns the alert history repository.
func (s *SQLiteStorage) AlertHistory() AlertHistoryRepository {
	return s.alertHistory
}

// SavedSearches returns the saved search repository.
func (s *SQLiteStorage) SavedSearches() SavedSearchRepository {
	return s.savedSearches
}

// Dashboards returns the dashboard repository.
func (s *SQLiteStorage) Dashboards() DashboardRepository {
	return s.dashboards
}

// Sources returns the source repository.
func (s *SQLiteStorage) Sources() SourceRepository {
	return s.sources
}

// Connections returns the connection repository.
func (s *SQLiteStorage) Connections() ConnectionRepository {
	return s.connections
}

// Webhooks returns the webhook repository.
func (s *SQLiteStorage) Webhooks() WebhookRepository {
	return s.webhooks
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func checkAffected(result sql.Result, entity, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return nil
}
