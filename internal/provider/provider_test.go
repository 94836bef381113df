package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/internal/telemetry"
)

type nopClient struct{}

func (nopClient) QuerySeries(context.Context, *telemetry.SeriesQuery) ([]telemetry.Row, error) {
	return nil, nil
}
func (nopClient) SampleRows(context.Context, *telemetry.SampleQuery) ([]string, error) {
	return nil, nil
}
func (nopClient) Close() error { return nil }

var nopFactory = telemetry.FactoryFunc(func(context.Context, *models.Connection) (telemetry.Client, error) {
	return nopClient{}, nil
})

func setupStore(t *testing.T) storage.Storage {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"), []byte("test-master-key-32-bytes-long!!!"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())
	return store
}

type fixture struct {
	store    storage.Storage
	provider *Default
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := setupStore(t)

	for _, id := range []string{"conn-1", "conn-2"} {
		conn := models.NewConnection("team-1", id, "ch:9000")
		conn.ID = id
		conn.Password = "secret"
		require.NoError(t, store.Connections().Create(ctx, conn))
	}
	for _, src := range []*models.Source{
		{ID: "src-1", TeamID: "team-1", ConnectionID: "conn-1", Table: "logs", TimestampColumn: "ts"},
		{ID: "src-2", TeamID: "team-1", ConnectionID: "conn-2", Table: "logs", TimestampColumn: "ts"},
	} {
		require.NoError(t, store.Sources().Create(ctx, src))
	}
	require.NoError(t, store.SavedSearches().Create(ctx, &models.SavedSearch{
		ID: "search-1", TeamID: "team-1", Name: "errors", SourceID: "src-1", Where: `level == "error"`,
	}))
	require.NoError(t, store.Dashboards().Create(ctx, &models.Dashboard{
		ID: "dash-1", TeamID: "team-1", Name: "ops",
		Tiles: []models.Tile{
			{ID: "tile-1", Name: "latency", SourceID: "src-2", GroupBy: "service",
				Series: []models.Series{{AggFn: models.AggP99, Field: "duration"}}},
		},
	}))

	p, err := NewDefault(Deps{Storage: store, Telemetry: nopFactory, FrontendURL: "https://app.example.com/", Logger: zerolog.Nop()})
	require.NoError(t, err)
	return &fixture{store: store, provider: p}
}

func (f *fixture) addAlert(t *testing.T, id string, source models.AlertSource, policy models.EvaluationPolicy) *models.Alert {
	t.Helper()
	alert := models.NewAlert("team-1", source, policy, models.Interval5m)
	alert.ID = id
	alert.Channel.WebhookID = "wh-1"
	require.NoError(t, f.store.Alerts().Create(context.Background(), alert))
	return alert
}

var above = &models.ThresholdPolicy{Type: models.ThresholdAbove, Threshold: 1}

func TestDefault_GetAlertTasks_GroupsByConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addAlert(t, "a-search", &models.SavedSearchSource{SavedSearchID: "search-1"}, above)
	f.addAlert(t, "a-custom", &models.CustomSource{SourceID: "src-1", Series: []models.Series{{AggFn: models.AggCount}}}, above)
	f.addAlert(t, "a-tile", &models.TileSource{DashboardID: "dash-1", TileID: "tile-1"}, above)

	tasks, err := f.provider.GetAlertTasks(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	assert.Equal(t, "conn-1", tasks[0].Conn.ID)
	assert.Equal(t, "secret", tasks[0].Conn.Password)
	assert.Len(t, tasks[0].Alerts, 2)
	assert.Equal(t, "conn-2", tasks[1].Conn.ID)
	require.Len(t, tasks[1].Alerts, 1)

	tile := tasks[1].Alerts[0]
	assert.IsType(t, &TileTarget{}, tile.Target)
	assert.Equal(t, "service", tile.GroupBy())
	series, err := tile.Series()
	require.NoError(t, err)
	assert.Equal(t, models.AggP99, series.AggFn)
}

func TestDefault_GetAlertTasks_DropsUnresolvable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.addAlert(t, "ok", &models.SavedSearchSource{SavedSearchID: "search-1"}, above)
	f.addAlert(t, "missing-search", &models.SavedSearchSource{SavedSearchID: "nope"}, above)
	f.addAlert(t, "missing-tile", &models.TileSource{DashboardID: "dash-1", TileID: "nope"}, above)
	f.addAlert(t, "missing-dashboard", &models.ChartSource{DashboardID: "nope", ChartID: "c"}, above)
	f.addAlert(t, "missing-source", &models.CustomSource{SourceID: "nope", Series: []models.Series{{AggFn: models.AggCount}}}, above)
	disabled := f.addAlert(t, "disabled", &models.SavedSearchSource{SavedSearchID: "search-1"}, above)
	require.NoError(t, f.store.Alerts().SetState(ctx, disabled.ID, models.AlertStateDisabled))

	tasks, err := f.provider.GetAlertTasks(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Len(t, tasks[0].Alerts, 1)
	assert.Equal(t, "ok", tasks[0].Alerts[0].Alert.ID)
}

func TestDefault_GetAlertTasks_DropsMultiSeriesAnomaly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.Dashboards().Create(ctx, &models.Dashboard{
		ID: "dash-multi", TeamID: "team-1", Name: "traffic",
		Tiles: []models.Tile{
			{ID: "multi", Name: "requests", SourceID: "src-1",
				Series: []models.Series{{AggFn: models.AggCount}, {AggFn: models.AggAvg, Field: "duration"}}},
		},
	}))

	var logs bytes.Buffer
	p, err := NewDefault(Deps{Storage: f.store, Telemetry: nopFactory, Logger: zerolog.New(&logs)})
	require.NoError(t, err)

	spike := &models.AnomalyPolicy{HistoryWindow: 60, Model: models.DefaultModelConfig()}
	f.addAlert(t, "tile-anomaly", &models.TileSource{DashboardID: "dash-multi", TileID: "multi"}, spike)
	f.addAlert(t, "chart-anomaly", &models.ChartSource{DashboardID: "dash-multi", ChartID: "multi"}, spike)
	f.addAlert(t, "single-anomaly", &models.TileSource{DashboardID: "dash-1", TileID: "tile-1"}, spike)
	f.addAlert(t, "tile-threshold", &models.TileSource{DashboardID: "dash-multi", TileID: "multi"}, above)

	tasks, err := p.GetAlertTasks(ctx, time.Now())
	require.NoError(t, err)

	var kept []string
	for _, task := range tasks {
		for _, d := range task.Alerts {
			kept = append(kept, d.Alert.ID)
		}
	}
	assert.ElementsMatch(t, []string{"single-anomaly", "tile-threshold"}, kept)

	reasons := make(map[string]string)
	dec := json.NewDecoder(&logs)
	for dec.More() {
		var entry struct {
			AlertID string `json:"alert_id"`
			Reason  string `json:"reason"`
		}
		require.NoError(t, dec.Decode(&entry))
		if entry.Reason != "" {
			reasons[entry.AlertID] = entry.Reason
		}
	}
	assert.Equal(t, map[string]string{
		"tile-anomaly":  "invalid_config",
		"chart-anomaly": "invalid_config",
	}, reasons)
}

func TestDefault_GetAlertTasks_OtherTeamSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alert := models.NewAlert("team-2", &models.SavedSearchSource{SavedSearchID: "search-1"}, above, models.Interval5m)
	alert.ID = "foreign"
	alert.Channel.WebhookID = "wh-1"
	require.NoError(t, f.store.Alerts().Create(ctx, alert))

	tasks, err := f.provider.GetAlertTasks(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDefault_GetAlertTasks_PreviousHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alert := f.addAlert(t, "grouped", &models.SavedSearchSource{SavedSearchID: "search-1"}, above)

	older := time.Date(2024, 5, 1, 22, 5, 0, 0, time.UTC)
	newer := older.Add(5 * time.Minute)
	a := models.NewAlertHistory(alert.ID, "service:api", older)
	b := models.NewAlertHistory(alert.ID, "service:web", newer)
	b.State = models.AlertStateAlert
	require.NoError(t, f.provider.UpdateAlertState(ctx, alert.ID, models.AlertStateAlert, []*models.AlertHistory{a, b}))

	tasks, err := f.provider.GetAlertTasks(ctx, newer.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	details := tasks[0].Alerts[0]
	assert.Len(t, details.PreviousByGroup, 2)
	require.NotNil(t, details.Previous)
	assert.True(t, details.Previous.CreatedAt.Equal(newer))
	assert.Equal(t, models.AlertStateAlert, details.PreviousByGroup[models.HistoryKey{AlertID: alert.ID, Group: "service:web"}].State)
}

func TestAlertDetails_Series(t *testing.T) {
	chart := &AlertDetails{
		Alert:  &models.Alert{},
		Target: &ChartTarget{Tile: &models.Tile{ID: "c", Series: []models.Series{{}, {}}}},
	}
	_, err := chart.Series()
	assert.Error(t, err)

	search := &AlertDetails{
		Alert:  &models.Alert{GroupBy: "host"},
		Target: &SavedSearchTarget{Search: &models.SavedSearch{Where: "x"}},
	}
	series, err := search.Series()
	require.NoError(t, err)
	assert.Equal(t, models.Series{AggFn: models.AggCount, Where: "x"}, series)
	assert.Equal(t, "host", search.GroupBy())
}

func TestLoad_FallsBackToDefault(t *testing.T) {
	deps := Deps{Storage: setupStore(t), Telemetry: nopFactory, Logger: zerolog.Nop()}

	Register("broken", func(Deps) (AlertProvider, error) { return nil, errors.New("boom") })

	for _, name := range []string{"", "default", "missing", "broken"} {
		p, err := Load(name, deps)
		require.NoError(t, err, name)
		assert.IsType(t, &Default{}, p, name)
	}

	_, err := Load("missing", Deps{Logger: zerolog.Nop()})
	assert.Error(t, err)
}

func TestLoad_Registered(t *testing.T) {
	custom := &Default{}
	Register("custom", func(Deps) (AlertProvider, error) { return custom, nil })

	p, err := Load("custom", Deps{Logger: zerolog.Nop()})
	require.NoError(t, err)
	assert.Same(t, custom, p)
	assert.Contains(t, Names(), "custom")
}

func TestLinks(t *testing.T) {
	start := time.Date(2024, 5, 1, 22, 5, 0, 0, time.UTC)
	end := start.Add(5 * time.Minute)

	assert.Equal(t,
		"https://app.example.com/search/s1?from=1714601100000&isLive=false&to=1714601400000",
		LogSearchLink("https://app.example.com/", "s1", start, end))

	link := ChartLink("https://app.example.com", "d1", 5*time.Minute, start, end)
	assert.Equal(t,
		"https://app.example.com/dashboards/d1?from=1714599000000&granularity=5+minute&to=1714603500000",
		link)

	assert.Equal(t, "1 hour", granularityLabel(time.Hour))
	assert.Equal(t, "1 day", granularityLabel(24*time.Hour))
	assert.Equal(t, "30 second", granularityLabel(30*time.Second))
}
