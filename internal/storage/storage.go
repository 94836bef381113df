// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

var (
	// ErrNotFound is returned when a mutated entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateHistory is returned when a history row already exists for an
	// (alert, group, bucket) triple.
	ErrDuplicateHistory = errors.New("alert history already recorded for bucket")
	// ErrAlertDisabled is returned when an evaluation is recorded for an alert
	// that was disabled while it ran.
	ErrAlertDisabled = errors.New("alert is disabled")
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Alerts() AlertRepository
	AlertHistory() AlertHistoryRepository
	SavedSearches() SavedSearchRepository
	Dashboards() DashboardRepository
	Sources() SourceRepository
	Connections() ConnectionRepository
	Webhooks() WebhookRepository
}

// AlertRepository defines operations for alert management.
type AlertRepository interface {
	Create(ctx context.Context, alert *models.Alert) error
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	Update(ctx context.Context, alert *models.Alert) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.Alert, error)
	ListByTeam(ctx context.Context, teamID string) ([]*models.Alert, error)
	// ListActive returns every alert whose state is not DISABLED.
	ListActive(ctx context.Context) ([]*models.Alert, error)
	SetState(ctx context.Context, id string, state models.AlertState) error
	// SetSilenced replaces the silence; nil clears it.
	SetSilenced(ctx context.Context, id string, silenced *models.Silenced) error
}

// AlertHistoryRepository defines operations for alert history.
type AlertHistoryRepository interface {
	Create(ctx context.Context, history *models.AlertHistory) error
	// Record inserts histories and sets the alert state in one transaction.
	// It returns ErrDuplicateHistory if any row already exists and
	// ErrAlertDisabled, writing nothing, if the alert is DISABLED.
	Record(ctx context.Context, alertID string, state models.AlertState, histories []*models.AlertHistory) error
	// LatestByAlerts returns the newest row per (alert, group) at or before asOf.
	LatestByAlerts(ctx context.Context, alertIDs []string, asOf time.Time) (map[models.HistoryKey]*models.AlertHistory, error)
	ListByAlert(ctx context.Context, alertID string, limit, offset int) ([]*models.AlertHistory, int64, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SavedSearchRepository defines operations for saved searches.
type SavedSearchRepository interface {
	Create(ctx context.Context, search *models.SavedSearch) error
	GetByID(ctx context.Context, id string) (*models.SavedSearch, error)
	Delete(ctx context.Context, id string) error
}

// DashboardRepository defines operations for dashboards.
type DashboardRepository interface {
	Create(ctx context.Context, dashboard *models.Dashboard) error
	GetByID(ctx context.Context, id string) (*models.Dashboard, error)
	Update(ctx context.Context, dashboard *models.Dashboard) error
	Delete(ctx context.Context, id string) error
}

// SourceRepository defines operations for telemetry sources.
type SourceRepository interface {
	Create(ctx context.Context, source *models.Source) error
	GetByID(ctx context.Context, id string) (*models.Source, error)
	Delete(ctx context.Context, id string) error
}

// ConnectionRepository defines operations for connection management.
type ConnectionRepository interface {
	// Create encrypts conn.Password before storing it.
	Create(ctx context.Context, conn *models.Connection) error
	// GetByID returns the connection with its password decrypted.
	GetByID(ctx context.Context, id string) (*models.Connection, error)
	Delete(ctx context.Context, id string) error
	ListByTeam(ctx context.Context, teamID string) ([]*models.Connection, error)
	EncryptCredentials(plaintext []byte) ([]byte, error)
	DecryptCredentials(encrypted []byte) ([]byte, error)
}

// WebhookRepository defines operations for notification webhooks.
type WebhookRepository interface {
	Create(ctx context.Context, webhook *models.Webhook) error
	GetByID(ctx context.Context, id string) (*models.Webhook, error)
	ListByTeam(ctx context.Context, teamID string) ([]*models.Webhook, error)
	Delete(ctx context.Context, id string) error
}
