package alerting

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/security"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/pkg/config"
)

// Definitions is a declarative set of alerting resources.
type Definitions struct {
	Connections   []ConnectionDef  `yaml:"connections"`
	Sources       []SourceDef      `yaml:"sources"`
	SavedSearches []SavedSearchDef `yaml:"saved_searches"`
	Dashboards    []DashboardDef   `yaml:"dashboards"`
	Webhooks      []WebhookDef     `yaml:"webhooks"`
	Alerts        []AlertDef       `yaml:"alerts"`
}

// ConnectionDef declares a telemetry connection.
type ConnectionDef struct {
	ID       string `yaml:"id"`
	Team     string `yaml:"team"`
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// FieldDef declares a source column.
type FieldDef struct {
	Name   string `yaml:"name"`
	Column string `yaml:"column,omitempty"`
	Kind   string `yaml:"kind,omitempty"`
}

// SourceDef declares a telemetry table.
type SourceDef struct {
	ID              string     `yaml:"id"`
	Team            string     `yaml:"team"`
	Name            string     `yaml:"name"`
	Connection      string     `yaml:"connection"`
	Database        string     `yaml:"database,omitempty"`
	Table           string     `yaml:"table"`
	TimestampColumn string     `yaml:"timestamp_column"`
	DefaultSelect   string     `yaml:"default_select,omitempty"`
	Fields          []FieldDef `yaml:"fields,omitempty"`
}

// SeriesDef declares an aggregate.
type SeriesDef struct {
	Agg   string `yaml:"agg"`
	Field string `yaml:"field,omitempty"`
	Where string `yaml:"where,omitempty"`
}

// SavedSearchDef declares a saved search.
type SavedSearchDef struct {
	ID     string `yaml:"id"`
	Team   string `yaml:"team"`
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
	Where  string `yaml:"where,omitempty"`
	Select string `yaml:"select,omitempty"`
}

// TileDef declares a dashboard tile.
type TileDef struct {
	ID      string      `yaml:"id"`
	Name    string      `yaml:"name"`
	Source  string      `yaml:"source"`
	GroupBy string      `yaml:"group_by,omitempty"`
	Series  []SeriesDef `yaml:"series"`
}

// DashboardDef declares a dashboard.
type DashboardDef struct {
	ID    string    `yaml:"id"`
	Team  string    `yaml:"team"`
	Name  string    `yaml:"name"`
	Tiles []TileDef `yaml:"tiles"`
}

// WebhookDef declares a notification webhook.
type WebhookDef struct {
	ID          string            `yaml:"id"`
	Team        string            `yaml:"team"`
	Name        string            `yaml:"name"`
	Service     string            `yaml:"service,omitempty"`
	URL         string            `yaml:"url"`
	Body        string            `yaml:"body,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	QueryParams map[string]string `yaml:"query_params,omitempty"`
}

// AlertDef declares an alert. Exactly one of SavedSearch, Tile, Chart and
// Custom, and exactly one of Threshold and Anomaly, must be set.
type AlertDef struct {
	ID       string `yaml:"id"`
	Team     string `yaml:"team"`
	Name     string `yaml:"name,omitempty"`
	Message  string `yaml:"message,omitempty"`
	Interval string `yaml:"interval"`
	GroupBy  string `yaml:"group_by,omitempty"`
	Webhook  string `yaml:"webhook"`
	Disabled bool   `yaml:"disabled,omitempty"`

	SavedSearch string `yaml:"saved_search,omitempty"`
	Tile        *struct {
		Dashboard string `yaml:"dashboard"`
		Tile      string `yaml:"tile"`
	} `yaml:"tile,omitempty"`
	Chart *struct {
		Dashboard string `yaml:"dashboard"`
		Chart     string `yaml:"chart"`
	} `yaml:"chart,omitempty"`
	Custom *struct {
		Source string      `yaml:"source"`
		Series []SeriesDef `yaml:"series"`
	} `yaml:"custom,omitempty"`

	Threshold *struct {
		Type  string  `yaml:"type"`
		Value float64 `yaml:"value"`
	} `yaml:"threshold,omitempty"`
	Anomaly *struct {
		HistoryWindow int                `yaml:"history_window"`
		Mode          string             `yaml:"mode,omitempty"`
		Models        []models.ModelSpec `yaml:"models,omitempty"`
	} `yaml:"anomaly,omitempty"`
}

func seriesFromDefs(defs []SeriesDef) []models.Series {
	out := make([]models.Series, len(defs))
	for i, d := range defs {
		agg := models.AggFn(d.Agg)
		if agg == "" {
			agg = models.AggCount
		}
		out[i] = models.Series{AggFn: agg, Field: d.Field, Where: d.Where}
	}
	return out
}

// Alert converts the definition into a validated alert.
func (d *AlertDef) Alert() (*models.Alert, error) {
	var sources []models.AlertSource
	if d.SavedSearch != "" {
		sources = append(sources, &models.SavedSearchSource{SavedSearchID: d.SavedSearch})
	}
	if d.Tile != nil {
		sources = append(sources, &models.TileSource{DashboardID: d.Tile.Dashboard, TileID: d.Tile.Tile})
	}
	if d.Chart != nil {
		sources = append(sources, &models.ChartSource{DashboardID: d.Chart.Dashboard, ChartID: d.Chart.Chart})
	}
	if d.Custom != nil {
		sources = append(sources, &models.CustomSource{SourceID: d.Custom.Source, Series: seriesFromDefs(d.Custom.Series)})
	}
	if len(sources) != 1 {
		return nil, fmt.Errorf("alert %s: exactly one of saved_search, tile, chart or custom is required", d.ID)
	}

	var policy models.EvaluationPolicy
	switch {
	case d.Threshold != nil && d.Anomaly != nil:
		return nil, fmt.Errorf("alert %s: threshold and anomaly are mutually exclusive", d.ID)
	case d.Threshold != nil:
		policy = &models.ThresholdPolicy{Type: models.ThresholdType(d.Threshold.Type), Threshold: d.Threshold.Value}
	case d.Anomaly != nil:
		policy = &models.AnomalyPolicy{
			HistoryWindow: d.Anomaly.HistoryWindow,
			Model:         models.ModelConfig{Mode: models.ModelMode(d.Anomaly.Mode), Models: d.Anomaly.Models},
		}
	default:
		return nil, fmt.Errorf("alert %s: threshold or anomaly is required", d.ID)
	}

	alert := models.NewAlert(d.Team, sources[0], policy, models.AlertInterval(d.Interval))
	alert.ID = d.ID
	alert.Name = d.Name
	alert.Message = d.Message
	alert.GroupBy = d.GroupBy
	alert.Channel.WebhookID = d.Webhook
	if d.Disabled {
		alert.State = models.AlertStateDisabled
	}
	if err := alert.Validate(); err != nil {
		return nil, fmt.Errorf("alert %s: %w", d.ID, err)
	}
	return alert, nil
}

// LoadDefinitionsFromFile loads definitions from a YAML file. Files with the
// sealed suffix are decrypted with masterKey first.
func LoadDefinitionsFromFile(path string, masterKey []byte) (*Definitions, error) {
	data, err := security.ReadFile(path, masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file: %w", err)
	}
	return LoadDefinitions(bytes.NewReader(data))
}

// LoadDefinitions parses YAML definitions, expanding ${VAR} and
// ${VAR:-default} references, and validates every alert.
func LoadDefinitions(r io.Reader) (*Definitions, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}

	var defs Definitions
	if err := yaml.Unmarshal([]byte(config.ExpandEnv(string(data))), &defs); err != nil {
		return nil, fmt.Errorf("failed to parse definitions YAML: %w", err)
	}

	for i := range defs.Alerts {
		if defs.Alerts[i].ID == "" {
			return nil, fmt.Errorf("alert at index %d has no id", i)
		}
		if _, err := defs.Alerts[i].Alert(); err != nil {
			return nil, fmt.Errorf("invalid alert at index %d: %w", i, err)
		}
	}
	return &defs, nil
}

// ApplyResult counts the resources written by Apply.
type ApplyResult struct {
	Created int
	Updated int
}

// Apply writes defs to the store. Existing alerts keep their state and
// silence; other existing resources are replaced.
func Apply(ctx context.Context, store storage.Storage, defs *Definitions) (*ApplyResult, error) {
	res := &ApplyResult{}
	now := time.Now()

	for _, d := range defs.Connections {
		conn := models.NewConnection(d.Team, d.Name, d.Host)
		conn.ID = d.ID
		conn.Username = d.Username
		conn.Password = d.Password
		existing, err := store.Connections().GetByID(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := store.Connections().Delete(ctx, d.ID); err != nil {
				return nil, err
			}
		}
		if err := store.Connections().Create(ctx, conn); err != nil {
			return nil, err
		}
		res.count(existing != nil)
	}

	for _, d := range defs.Sources {
		fields := make([]models.SourceField, len(d.Fields))
		for i, f := range d.Fields {
			kind := models.FieldKind(f.Kind)
			if kind == "" {
				kind = models.FieldKindString
			}
			fields[i] = models.SourceField{Name: f.Name, Column: f.Column, Kind: kind}
		}
		src := &models.Source{
			ID: d.ID, TeamID: d.Team, Name: d.Name, ConnectionID: d.Connection,
			Database: d.Database, Table: d.Table, TimestampColumn: d.TimestampColumn,
			DefaultSelect: d.DefaultSelect, Fields: fields, CreatedAt: now, UpdatedAt: now,
		}
		existing, err := store.Sources().GetByID(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := store.Sources().Delete(ctx, d.ID); err != nil {
				return nil, err
			}
		}
		if err := store.Sources().Create(ctx, src); err != nil {
			return nil, err
		}
		res.count(existing != nil)
	}

	for _, d := range defs.SavedSearches {
		search := &models.SavedSearch{
			ID: d.ID, TeamID: d.Team, Name: d.Name, SourceID: d.Source,
			Where: d.Where, Select: d.Select, Created: now,
		}
		existing, err := store.SavedSearches().GetByID(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := store.SavedSearches().Delete(ctx, d.ID); err != nil {
				return nil, err
			}
		}
		if err := store.SavedSearches().Create(ctx, search); err != nil {
			return nil, err
		}
		res.count(existing != nil)
	}

	for _, d := range defs.Dashboards {
		dashboard := &models.Dashboard{ID: d.ID, TeamID: d.Team, Name: d.Name, Created: now}
		for _, t := range d.Tiles {
			dashboard.Tiles = append(dashboard.Tiles, models.Tile{
				ID: t.ID, Name: t.Name, SourceID: t.Source, GroupBy: t.GroupBy, Series: seriesFromDefs(t.Series),
			})
		}
		existing, err := store.Dashboards().GetByID(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			err = store.Dashboards().Update(ctx, dashboard)
		} else {
			err = store.Dashboards().Create(ctx, dashboard)
		}
		if err != nil {
			return nil, err
		}
		res.count(existing != nil)
	}

	for _, d := range defs.Webhooks {
		wh := &models.Webhook{
			ID: d.ID, TeamID: d.Team, Name: d.Name, Service: models.ParseWebhookService(d.Service),
			URL: d.URL, Body: d.Body, Headers: d.Headers, QueryParams: d.QueryParams, CreatedAt: now,
		}
		existing, err := store.Webhooks().GetByID(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := store.Webhooks().Delete(ctx, d.ID); err != nil {
				return nil, err
			}
		}
		if err := store.Webhooks().Create(ctx, wh); err != nil {
			return nil, err
		}
		res.count(existing != nil)
	}

	for i := range defs.Alerts {
		alert, err := defs.Alerts[i].Alert()
		if err != nil {
			return nil, err
		}
		existing, err := store.Alerts().GetByID(ctx, alert.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if alert.State != models.AlertStateDisabled {
				alert.State = existing.State
				if alert.State == models.AlertStateDisabled {
					alert.State = models.AlertStateOK
				}
			}
			alert.Silenced = existing.Silenced
			alert.CreatedAt = existing.CreatedAt
			err = store.Alerts().Update(ctx, alert)
		} else {
			err = store.Alerts().Create(ctx, alert)
		}
		if err != nil {
			return nil, err
		}
		res.count(existing != nil)
	}

	return res, nil
}

func (r *ApplyResult) count(updated bool) {
	if updated {
		r.Updated++
	} else {
		r.Created++
	}
}
