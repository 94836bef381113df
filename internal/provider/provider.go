// Package provider resolves stored alerts into connection-grouped evaluation tasks.
package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/internal/telemetry"
)

// DefaultName is the registry name of the built-in provider.
const DefaultName = "default"

// AlertProvider abstracts where alerts, their sources and their channels live.
type AlertProvider interface {
	// Init prepares the provider before the first run.
	Init(ctx context.Context) error
	// Close releases provider resources.
	Close() error

	// GetAlertTasks returns every enabled alert, resolved and grouped by connection.
	GetAlertTasks(ctx context.Context, now time.Time) ([]*AlertTask, error)
	// BuildLogSearchLink links to a saved search scoped to [start, end].
	BuildLogSearchLink(search *models.SavedSearch, start, end time.Time) string
	// BuildChartLink links to a dashboard padded around [start, end].
	BuildChartLink(dashboardID string, granularity time.Duration, start, end time.Time) string
	// UpdateAlertState persists histories and the alert state together.
	UpdateAlertState(ctx context.Context, alertID string, state models.AlertState, histories []*models.AlertHistory) error
	GetWebhooks(ctx context.Context, teamID string) ([]*models.Webhook, error)
	GetTelemetryClient(ctx context.Context, conn *models.Connection) (telemetry.Client, error)
}

// AlertTask is every alert sharing one connection in a single run.
type AlertTask struct {
	Conn   *models.Connection
	Alerts []*AlertDetails
	Now    time.Time
}

// AlertDetails is an alert with its binding resolved.
type AlertDetails struct {
	Alert  *models.Alert
	Source *models.Source
	Target Target

	// Previous is the newest history row across all groups.
	Previous *models.AlertHistory
	// PreviousByGroup holds the newest row of each group lineage.
	PreviousByGroup map[models.HistoryKey]*models.AlertHistory
}

// Series returns the single series evaluated for the alert.
func (d *AlertDetails) Series() (models.Series, error) {
	switch t := d.Target.(type) {
	case *SavedSearchTarget:
		return models.Series{AggFn: models.AggCount, Where: t.Search.Where}, nil
	case *TileTarget:
		if len(t.Tile.Series) == 0 {
			return models.Series{}, fmt.Errorf("tile %s has no series", t.Tile.ID)
		}
		return t.Tile.Series[0], nil
	case *ChartTarget:
		if len(t.Tile.Series) != 1 {
			return models.Series{}, fmt.Errorf("chart %s must have exactly one series, got %d", t.Tile.ID, len(t.Tile.Series))
		}
		return t.Tile.Series[0], nil
	case *CustomTarget:
		if len(t.Series) != 1 {
			return models.Series{}, fmt.Errorf("custom alert must have exactly one series, got %d", len(t.Series))
		}
		return t.Series[0], nil
	default:
		return models.Series{}, fmt.Errorf("unsupported target %T", d.Target)
	}
}

// GroupBy returns the alert's group-by, falling back to the tile's.
func (d *AlertDetails) GroupBy() string {
	if d.Alert.GroupBy != "" {
		return d.Alert.GroupBy
	}
	switch t := d.Target.(type) {
	case *TileTarget:
		return t.Tile.GroupBy
	case *ChartTarget:
		return t.Tile.GroupBy
	}
	return ""
}

// SeriesCount returns how many series the bound target defines.
func (d *AlertDetails) SeriesCount() int {
	switch t := d.Target.(type) {
	case *SavedSearchTarget:
		return 1
	case *TileTarget:
		return len(t.Tile.Series)
	case *ChartTarget:
		return len(t.Tile.Series)
	case *CustomTarget:
		return len(t.Series)
	}
	return 0
}

// Target is the resolved form of an alert's source binding.
// Implementations: *SavedSearchTarget, *TileTarget, *ChartTarget, *CustomTarget.
type Target interface {
	target()
}

// SavedSearchTarget counts rows matching a saved search.
type SavedSearchTarget struct {
	Search *models.SavedSearch
}

// TileTarget evaluates a dashboard tile.
type TileTarget struct {
	Dashboard *models.Dashboard
	Tile      *models.Tile
}

// ChartTarget evaluates a single-series dashboard chart.
type ChartTarget struct {
	Dashboard *models.Dashboard
	Tile      *models.Tile
}

// CustomTarget evaluates inline series.
type CustomTarget struct {
	Series []models.Series
}

func (*SavedSearchTarget) target() {}
func (*TileTarget) target()        {}
func (*ChartTarget) target()       {}
func (*CustomTarget) target()      {}

// Deps are the collaborators handed to provider factories.
type Deps struct {
	Storage     storage.Storage
	Telemetry   telemetry.Factory
	FrontendURL string
	Logger      zerolog.Logger
}

// Factory constructs a provider.
type Factory func(deps Deps) (AlertProvider, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		DefaultName: func(deps Deps) (AlertProvider, error) { return NewDefault(deps) },
	}
)

// Register adds a named provider factory, replacing any existing one.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Names returns the registered provider names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load builds the named provider. Unknown names and failing factories fall
// back to the default provider.
func Load(name string, deps Deps) (AlertProvider, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	fallback := registry[DefaultName]
	registryMu.RUnlock()

	if name != "" && name != DefaultName {
		if !ok {
			deps.Logger.Warn().Str("provider", name).Msg("unknown alert provider, using default")
		} else {
			p, err := factory(deps)
			if err == nil {
				return p, nil
			}
			deps.Logger.Warn().Err(err).Str("provider", name).Msg("alert provider failed to load, using default")
		}
	}

	p, err := fallback(deps)
	if err != nil {
		return nil, fmt.Errorf("load default provider: %w", err)
	}
	return p, nil
}
