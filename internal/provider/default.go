package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/internal/telemetry"
)

// resolveError tags a per-alert resolution failure with a metric reason.
type resolveError struct {
	reason string
	err    error
}

func (e *resolveError) Error() string { return e.err.Error() }
func (e *resolveError) Unwrap() error { return e.err }

func dropped(reason, format string, args ...any) error {
	return &resolveError{reason: reason, err: fmt.Errorf(format, args...)}
}

// Default reads alerts and their context from the primary store.
type Default struct {
	store       storage.Storage
	factory     telemetry.Factory
	frontendURL string
	logger      zerolog.Logger
}

// NewDefault creates the built-in provider.
func NewDefault(deps Deps) (*Default, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("default provider requires storage")
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("default provider requires a telemetry factory")
	}
	return &Default{
		store:       deps.Storage,
		factory:     deps.Telemetry,
		frontendURL: deps.FrontendURL,
		logger:      deps.Logger.With().Str("component", "provider").Logger(),
	}, nil
}

// Init implements AlertProvider.
func (p *Default) Init(ctx context.Context) error {
	return nil
}

// Close implements AlertProvider. The store is owned by the caller.
func (p *Default) Close() error {
	return nil
}

// runCache memoizes lookups shared by many alerts within one run.
type runCache struct {
	sources     map[string]*models.Source
	connections map[string]*models.Connection
	dashboards  map[string]*models.Dashboard
}

// GetAlertTasks implements AlertProvider.
func (p *Default) GetAlertTasks(ctx context.Context, now time.Time) ([]*AlertTask, error) {
	alerts, err := p.store.Alerts().ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active alerts: %w", err)
	}
	if len(alerts) == 0 {
		return nil, nil
	}

	ids := make([]string, len(alerts))
	for i, a := range alerts {
		ids[i] = a.ID
	}
	latest, err := p.store.AlertHistory().LatestByAlerts(ctx, ids, now)
	if err != nil {
		return nil, fmt.Errorf("load alert history: %w", err)
	}
	byAlert := make(map[string]map[models.HistoryKey]*models.AlertHistory)
	for key, h := range latest {
		if byAlert[key.AlertID] == nil {
			byAlert[key.AlertID] = make(map[models.HistoryKey]*models.AlertHistory)
		}
		byAlert[key.AlertID][key] = h
	}

	cache := &runCache{
		sources:     make(map[string]*models.Source),
		connections: make(map[string]*models.Connection),
		dashboards:  make(map[string]*models.Dashboard),
	}
	tasks := make(map[string]*AlertTask)

	for _, alert := range alerts {
		details, conn, err := p.resolve(ctx, cache, alert)
		if err != nil {
			reason := "error"
			var re *resolveError
			if errors.As(err, &re) {
				reason = re.reason
			}
			metrics.AlertsDropped.WithLabelValues(reason).Inc()
			p.logger.Warn().Err(err).
				Str("alert_id", alert.ID).
				Str("team_id", alert.TeamID).
				Str("reason", reason).
				Msg("dropping alert from run")
			continue
		}

		details.PreviousByGroup = byAlert[alert.ID]
		if details.PreviousByGroup == nil {
			details.PreviousByGroup = make(map[models.HistoryKey]*models.AlertHistory)
		}
		for _, h := range details.PreviousByGroup {
			if details.Previous == nil || h.CreatedAt.After(details.Previous.CreatedAt) {
				details.Previous = h
			}
		}

		task, ok := tasks[conn.ID]
		if !ok {
			task = &AlertTask{Conn: conn, Now: now}
			tasks[conn.ID] = task
		}
		task.Alerts = append(task.Alerts, details)
	}

	result := make([]*AlertTask, 0, len(tasks))
	for _, task := range tasks {
		result = append(result, task)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Conn.ID < result[j].Conn.ID })
	return result, nil
}

// resolve builds an alert's context and finds its connection.
func (p *Default) resolve(ctx context.Context, cache *runCache, alert *models.Alert) (*AlertDetails, *models.Connection, error) {
	if err := alert.Validate(); err != nil {
		return nil, nil, dropped("invalid_config", "invalid alert: %w", err)
	}

	details := &AlertDetails{Alert: alert}
	var sourceID string

	switch src := alert.Source.(type) {
	case *models.SavedSearchSource:
		search, err := p.store.SavedSearches().GetByID(ctx, src.SavedSearchID)
		if err != nil {
			return nil, nil, fmt.Errorf("get saved search: %w", err)
		}
		if search == nil || search.TeamID != alert.TeamID {
			return nil, nil, dropped("missing_saved_search", "saved search %s not found", src.SavedSearchID)
		}
		details.Target = &SavedSearchTarget{Search: search}
		sourceID = search.SourceID

	case *models.TileSource:
		dashboard, tile, err := p.dashboardTile(ctx, cache, alert.TeamID, src.DashboardID, src.TileID)
		if err != nil {
			return nil, nil, err
		}
		details.Target = &TileTarget{Dashboard: dashboard, Tile: tile}
		sourceID = tile.SourceID

	case *models.ChartSource:
		dashboard, tile, err := p.dashboardTile(ctx, cache, alert.TeamID, src.DashboardID, src.ChartID)
		if err != nil {
			return nil, nil, err
		}
		details.Target = &ChartTarget{Dashboard: dashboard, Tile: tile}
		sourceID = tile.SourceID

	case *models.CustomSource:
		details.Target = &CustomTarget{Series: src.Series}
		sourceID = src.SourceID

	default:
		return nil, nil, dropped("unsupported_source", "unsupported source binding %T", alert.Source)
	}

	if _, ok := alert.Policy.(*models.AnomalyPolicy); ok && details.SeriesCount() != 1 {
		return nil, nil, dropped("invalid_config", "anomaly alerts require exactly one series, got %d", details.SeriesCount())
	}

	source, err := p.source(ctx, cache, alert.TeamID, sourceID)
	if err != nil {
		return nil, nil, err
	}
	details.Source = source

	conn, err := p.connection(ctx, cache, alert.TeamID, source.ConnectionID)
	if err != nil {
		return nil, nil, err
	}
	return details, conn, nil
}

func (p *Default) dashboardTile(ctx context.Context, cache *runCache, teamID, dashboardID, tileID string) (*models.Dashboard, *models.Tile, error) {
	dashboard, ok := cache.dashboards[dashboardID]
	if !ok {
		var err error
		dashboard, err = p.store.Dashboards().GetByID(ctx, dashboardID)
		if err != nil {
			return nil, nil, fmt.Errorf("get dashboard: %w", err)
		}
		cache.dashboards[dashboardID] = dashboard
	}
	if dashboard == nil || dashboard.TeamID != teamID {
		return nil, nil, dropped("missing_dashboard", "dashboard %s not found", dashboardID)
	}
	tile, ok := dashboard.Tile(tileID)
	if !ok {
		return nil, nil, dropped("missing_tile", "tile %s not found in dashboard %s", tileID, dashboardID)
	}
	return dashboard, tile, nil
}

func (p *Default) source(ctx context.Context, cache *runCache, teamID, id string) (*models.Source, error) {
	source, ok := cache.sources[id]
	if !ok {
		var err error
		source, err = p.store.Sources().GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get source: %w", err)
		}
		cache.sources[id] = source
	}
	if source == nil || source.TeamID != teamID {
		return nil, dropped("missing_source", "source %s not found", id)
	}
	return source, nil
}

func (p *Default) connection(ctx context.Context, cache *runCache, teamID, id string) (*models.Connection, error) {
	conn, ok := cache.connections[id]
	if !ok {
		var err error
		conn, err = p.store.Connections().GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get connection: %w", err)
		}
		cache.connections[id] = conn
	}
	if conn == nil || conn.TeamID != teamID {
		return nil, dropped("missing_connection", "connection %s not found", id)
	}
	return conn, nil
}

// UpdateAlertState implements AlertProvider.
func (p *Default) UpdateAlertState(ctx context.Context, alertID string, state models.AlertState, histories []*models.AlertHistory) error {
	return p.store.AlertHistory().Record(ctx, alertID, state, histories)
}

// GetWebhooks implements AlertProvider.
func (p *Default) GetWebhooks(ctx context.Context, teamID string) ([]*models.Webhook, error) {
	webhooks, err := p.store.Webhooks().ListByTeam(ctx, teamID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return webhooks, nil
}

// GetTelemetryClient implements AlertProvider.
func (p *Default) GetTelemetryClient(ctx context.Context, conn *models.Connection) (telemetry.Client, error) {
	client, err := p.factory.Open(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("open telemetry client for connection %s: %w", conn.ID, err)
	}
	return client, nil
}
