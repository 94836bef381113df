package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/anomaly"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/provider"
	"github.com/good-yellow-bee/blazealert/internal/telemetry"
)

type fakeProvider struct {
	webhooks []*models.Webhook
}

func (f *fakeProvider) Init(context.Context) error { return nil }
func (f *fakeProvider) Close() error               { return nil }
func (f *fakeProvider) GetAlertTasks(context.Context, time.Time) ([]*provider.AlertTask, error) {
	return nil, nil
}
func (f *fakeProvider) BuildLogSearchLink(search *models.SavedSearch, start, end time.Time) string {
	return provider.LogSearchLink("https://app.example.com", search.ID, start, end)
}
func (f *fakeProvider) BuildChartLink(id string, g time.Duration, start, end time.Time) string {
	return provider.ChartLink("https://app.example.com", id, g, start, end)
}
func (f *fakeProvider) UpdateAlertState(context.Context, string, models.AlertState, []*models.AlertHistory) error {
	return nil
}
func (f *fakeProvider) GetWebhooks(context.Context, string) ([]*models.Webhook, error) {
	return f.webhooks, nil
}
func (f *fakeProvider) GetTelemetryClient(context.Context, *models.Connection) (telemetry.Client, error) {
	return nil, nil
}

type sampleClient struct {
	rows []string
}

func (c *sampleClient) QuerySeries(context.Context, *telemetry.SeriesQuery) ([]telemetry.Row, error) {
	return nil, nil
}
func (c *sampleClient) SampleRows(context.Context, *telemetry.SampleQuery) ([]string, error) {
	return c.rows, nil
}
func (c *sampleClient) Close() error { return nil }

// recorder is a webhook endpoint that keeps the last body.
type recorder struct {
	*httptest.Server
	hits atomic.Int32
	last atomic.Value
}

func newRecorder(t *testing.T) *recorder {
	t.Helper()
	r := &recorder{}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.last.Store(string(body))
		r.hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *recorder) body() string {
	s, _ := r.last.Load().(string)
	return s
}

var windowStart = time.Date(2024, 5, 1, 22, 5, 0, 0, time.UTC)

func searchEvent(alert *models.Alert) *Event {
	return &Event{
		Details: &provider.AlertDetails{
			Alert:  alert,
			Source: &models.Source{ID: "src-1", Name: "logs"},
			Target: &provider.SavedSearchTarget{Search: &models.SavedSearch{ID: "s1", Name: "errors", Where: `level == "error"`}},
		},
		State:       models.AlertStateAlert,
		Value:       2,
		Start:       windowStart,
		End:         windowStart.Add(5 * time.Minute),
		Granularity: 5 * time.Minute,
	}
}

func testAlert() *models.Alert {
	alert := models.NewAlert("team-1",
		&models.SavedSearchSource{SavedSearchID: "s1"},
		&models.ThresholdPolicy{Type: models.ThresholdAbove, Threshold: 1},
		models.Interval5m,
	)
	alert.ID = "alert-1"
	alert.Channel.WebhookID = "wh-1"
	return alert
}

func newTestNotifier(webhooks ...*models.Webhook) *Notifier {
	return New(&fakeProvider{webhooks: webhooks}, Config{Logger: zerolog.Nop()})
}

func TestNotify_Silenced(t *testing.T) {
	rec := newRecorder(t)
	n := newTestNotifier(&models.Webhook{ID: "wh-1", Service: models.WebhookServiceGeneric, URL: rec.URL})

	alert := testAlert()
	alert.Silenced = &models.Silenced{By: "token", At: time.Now(), Until: time.Now().Add(30 * time.Minute)}
	n.Notify(context.Background(), searchEvent(alert))

	if got := rec.hits.Load(); got != 0 {
		t.Errorf("dispatch calls = %d, want 0", got)
	}

	alert.Silenced.Until = time.Now().Add(-time.Minute)
	n.Notify(context.Background(), searchEvent(alert))
	if got := rec.hits.Load(); got != 1 {
		t.Errorf("dispatch calls after silence expired = %d, want 1", got)
	}
}

func TestDispatch_ChannelAndMentions(t *testing.T) {
	primary := newRecorder(t)
	ops := newRecorder(t)
	other := newRecorder(t)
	n := newTestNotifier(
		&models.Webhook{ID: "wh-1", Name: "primary", URL: primary.URL},
		&models.Webhook{ID: "wh-2", Name: "ops team", URL: ops.URL},
		&models.Webhook{ID: "wh-3", Name: "other", URL: other.URL},
	)

	alert := testAlert()
	alert.Message = "Errors spiking @webhook-ops-team @webhook-wh-1"
	if err := n.Dispatch(context.Background(), searchEvent(alert)); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if primary.hits.Load() != 1 || ops.hits.Load() != 1 || other.hits.Load() != 0 {
		t.Errorf("hits primary=%d ops=%d other=%d, want 1/1/0", primary.hits.Load(), ops.hits.Load(), other.hits.Load())
	}

	var payload genericPayload
	if err := json.Unmarshal([]byte(primary.body()), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Title != `Alert for "errors" - 2 lines found` {
		t.Errorf("title = %q", payload.Title)
	}
	if !strings.Contains(payload.Link, "/search/s1?") {
		t.Errorf("link = %q", payload.Link)
	}
	if payload.State != "ALERT" {
		t.Errorf("state = %q, want ALERT", payload.State)
	}
}

func TestDispatch_MissingWebhook(t *testing.T) {
	n := newTestNotifier()
	if err := n.Dispatch(context.Background(), searchEvent(testAlert())); err == nil {
		t.Error("expected error for missing webhook")
	}
}

func TestDispatch_BlockedHost(t *testing.T) {
	rec := newRecorder(t)
	n := New(&fakeProvider{webhooks: []*models.Webhook{{ID: "wh-1", URL: rec.URL}}}, Config{
		BlockedHosts: []string{"127.0.0.1"},
		Logger:       zerolog.Nop(),
	})

	err := n.Dispatch(context.Background(), searchEvent(testAlert()))
	if !errors.Is(err, ErrBlockedHost) {
		t.Errorf("expected ErrBlockedHost, got %v", err)
	}
	if rec.hits.Load() != 0 {
		t.Error("blocked webhook was called")
	}
}

func TestDispatch_RateLimited(t *testing.T) {
	rec := newRecorder(t)
	n := New(&fakeProvider{webhooks: []*models.Webhook{{ID: "wh-1", URL: rec.URL}}}, Config{
		RateLimit: 1,
		Logger:    zerolog.Nop(),
	})
	fixed := time.Now()
	n.now = func() time.Time { return fixed }

	if err := n.Dispatch(context.Background(), searchEvent(testAlert())); err != nil {
		t.Fatalf("first dispatch failed: %v", err)
	}
	if err := n.Dispatch(context.Background(), searchEvent(testAlert())); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestDispatch_Samples(t *testing.T) {
	rec := newRecorder(t)
	n := newTestNotifier(&models.Webhook{ID: "wh-1", URL: rec.URL})

	ev := searchEvent(testAlert())
	ev.Client = &sampleClient{rows: []string{"2024-05-01 22:06:00 error timeout", "2024-05-01 22:07:00 error refused"}}
	if err := n.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	var payload genericPayload
	if err := json.Unmarshal([]byte(rec.body()), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if !strings.Contains(payload.Body, "error refused") {
		t.Errorf("body missing samples: %q", payload.Body)
	}
}

type staticSilenceLinks string

func (l staticSilenceLinks) SilenceLink(alertID, _ string) string {
	return string(l) + "?alert=" + alertID
}

func TestDispatch_SilenceLinkOnFiringOnly(t *testing.T) {
	rec := newRecorder(t)
	n := New(&fakeProvider{webhooks: []*models.Webhook{{ID: "wh-1", URL: rec.URL}}}, Config{
		SilenceLinks: staticSilenceLinks("https://alerts.example.com/api/v1/silence"),
		Logger:       zerolog.Nop(),
	})

	ev := searchEvent(testAlert())
	if err := n.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	var payload genericPayload
	if err := json.Unmarshal([]byte(rec.body()), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.SilenceLink != "https://alerts.example.com/api/v1/silence?alert=alert-1" {
		t.Errorf("silence link = %q", payload.SilenceLink)
	}

	ev.State = models.AlertStateOK
	if err := n.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	payload = genericPayload{}
	if err := json.Unmarshal([]byte(rec.body()), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.SilenceLink != "" {
		t.Errorf("resolve notification has silence link %q", payload.SilenceLink)
	}
}

func TestGenericBody_Template(t *testing.T) {
	msg := &Message{
		Title:     `Alert for "errors"`,
		Body:      "line1\nline2",
		Link:      "https://app.example.com/search/s1",
		State:     models.AlertStateAlert,
		StartTime: windowStart,
		EndTime:   windowStart.Add(5 * time.Minute),
		EventID:   "ev-1",
	}

	body, err := genericBody(`{"text": "{{.Title}}", "details": "{{.Body}}", "url": "{{.Link}}", "id": "{{.EventID}}"}`, msg)
	if err != nil {
		t.Fatalf("genericBody failed: %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("rendered body is not valid JSON: %v\n%s", err, body)
	}
	if got["text"] != msg.Title || got["details"] != msg.Body || got["id"] != "ev-1" {
		t.Errorf("unexpected rendered body: %v", got)
	}
}

func TestWebhookURL_QueryParams(t *testing.T) {
	got, err := webhookURL(&models.Webhook{
		URL:         "https://hooks.example.com/in?token=abc",
		QueryParams: map[string]string{"channel": "alerts"},
	})
	if err != nil {
		t.Fatalf("webhookURL failed: %v", err)
	}
	if got != "https://hooks.example.com/in?channel=alerts&token=abc" {
		t.Errorf("url = %q", got)
	}
}

func TestHeadersApplied(t *testing.T) {
	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := NewGenericSender(time.Second)
	wh := &models.Webhook{URL: server.URL, Headers: map[string]string{"Authorization": "Bearer x"}}
	if err := s.Send(context.Background(), wh, &Message{Title: "t"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if auth.Load() != "Bearer x" {
		t.Errorf("Authorization = %v", auth.Load())
	}
}

func TestSlackSender(t *testing.T) {
	s := NewSlackSender(time.Second)
	err := s.Send(context.Background(), &models.Webhook{URL: "https://evil.example.com/hook"}, &Message{Title: "t"})
	if err == nil || !strings.Contains(err.Error(), "slack.com") {
		t.Errorf("expected slack host error, got %v", err)
	}

	for _, u := range []string{"https://hooks.slack.com/services/T0/B0/x", "https://slack.com/x"} {
		if err := validateSlackURL(u); err != nil {
			t.Errorf("validateSlackURL(%q) = %v", u, err)
		}
	}
	if err := validateSlackURL("https://notslack.com/x"); err == nil {
		t.Error("expected notslack.com to be rejected")
	}

	rec := newRecorder(t)
	s.allowAnyHost = true
	msg := &Message{Title: "Alert for \"errors\"", Body: "body", Link: "https://app.example.com/x", State: models.AlertStateAlert}
	if err := s.Send(context.Background(), &models.Webhook{URL: rec.URL, Service: models.WebhookServiceSlack}, msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var payload slackMessage
	if err := json.Unmarshal([]byte(rec.body()), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Blocks[0].Type != "header" || !strings.Contains(payload.Blocks[0].Text.Text, "errors") {
		t.Errorf("unexpected header block: %+v", payload.Blocks[0])
	}
	last := payload.Blocks[len(payload.Blocks)-1]
	if last.Type != "context" || !strings.Contains(last.Elements[0].Text, msg.Link) {
		t.Errorf("link block missing: %+v", last)
	}
}

func TestIncidentIOSender_Truncates(t *testing.T) {
	s := NewIncidentIOSender(time.Second, zerolog.Nop())
	msg := &Message{
		Title:   strings.Repeat("x", 300),
		EventID: strings.Repeat("k", 300),
		AlertID: "alert-1",
		Group:   "service:api",
		State:   models.AlertStateOK,
	}

	p := s.buildPayload(msg)
	if len(p.Title) != incidentIOMaxField {
		t.Errorf("title length = %d, want %d", len(p.Title), incidentIOMaxField)
	}
	if len(p.DeduplicationKey) != incidentIOMaxField {
		t.Errorf("dedup key length = %d, want %d", len(p.DeduplicationKey), incidentIOMaxField)
	}
	if p.Status != "resolved" {
		t.Errorf("status = %q, want resolved", p.Status)
	}
	if p.Metadata["group"] != "service:api" {
		t.Errorf("metadata = %v", p.Metadata)
	}
}

func TestTeamsPayload(t *testing.T) {
	msg := &Message{Title: "t", Body: "b", Link: "https://app.example.com", State: models.AlertStateAlert, Group: "host:a"}
	p := buildTeamsPayload(msg)

	card := p.Attachments[0].Content
	if card.Type != "AdaptiveCard" {
		t.Errorf("card type = %q", card.Type)
	}
	if len(card.Actions) != 1 {
		t.Errorf("expected one action, got %d", len(card.Actions))
	}
	header := card.Body[0].(container)
	if header.Style != "attention" {
		t.Errorf("style = %q, want attention", header.Style)
	}
}

func TestBuild_Titles(t *testing.T) {
	dashboard := &models.Dashboard{ID: "d1", Name: "ops"}
	tile := &models.Tile{ID: "t1", Name: "latency"}

	tileAlert := testAlert()
	tileAlert.Policy = &models.ThresholdPolicy{Type: models.ThresholdBelow, Threshold: 10}

	anomalyAlert := testAlert()
	anomalyAlert.Policy = &models.AnomalyPolicy{HistoryWindow: 60}

	named := testAlert()
	named.Name = "{{.Name}} {{.Value}} {{.Group}}"

	tests := []struct {
		name  string
		ev    *Event
		title string
	}{
		{
			name:  "saved search",
			ev:    searchEvent(testAlert()),
			title: `Alert for "errors" - 2 lines found`,
		},
		{
			name: "tile below",
			ev: &Event{
				Details: &provider.AlertDetails{Alert: tileAlert, Target: &provider.TileTarget{Dashboard: dashboard, Tile: tile}},
				State:   models.AlertStateAlert,
				Value:   3.5,
				Group:   "service:api",
			},
			title: `Alert for "latency" in "ops" - 3.5 falls below 10 (service:api)`,
		},
		{
			name: "anomaly",
			ev: &Event{
				Details: &provider.AlertDetails{Alert: anomalyAlert, Target: &provider.TileTarget{Dashboard: dashboard, Tile: tile}},
				State:   models.AlertStateAlert,
				Value:   120,
				Anomaly: &anomaly.Result{IsAnomalous: true, Details: map[string]map[string]any{"zscore": {"zscore": 4.25}}},
			},
			title: `Anomaly detected for "latency" - 120 (z=4.25)`,
		},
		{
			name: "resolved",
			ev: func() *Event {
				ev := searchEvent(testAlert())
				ev.State = models.AlertStateOK
				return ev
			}(),
			title: `[Resolved] Alert for "errors" - 2 lines found`,
		},
		{
			name: "name template",
			ev: func() *Event {
				ev := searchEvent(named)
				ev.Group = "host:a"
				return ev
			}(),
			title: "errors 2 host:a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := build(tt.ev, "", nil)
			if err != nil {
				t.Fatalf("build failed: %v", err)
			}
			if msg.Title != tt.title {
				t.Errorf("title = %q, want %q", msg.Title, tt.title)
			}
		})
	}
}

func TestBuild_BadTemplate(t *testing.T) {
	alert := testAlert()
	alert.Message = "{{.Nope"
	msg, err := build(searchEvent(alert), "", nil)
	if err == nil {
		t.Error("expected template error")
	}
	if !strings.Contains(msg.Body, "{{.Nope") {
		t.Errorf("body should fall back to raw text, got %q", msg.Body)
	}
}

func TestTruncateSamples(t *testing.T) {
	long := strings.Repeat("a", 800)
	got := truncateSamples([]string{long, long, long, long, long, long, long})
	if len(got) != maxSamples {
		t.Fatalf("samples = %d, want %d", len(got), maxSamples)
	}
	for _, s := range got {
		if len(s) != maxSampleLength {
			t.Errorf("sample length = %d, want %d", len(s), maxSampleLength)
		}
	}

	got = truncateSamples([]string{strings.Repeat("b", 600), strings.Repeat("b", 600), strings.Repeat("b", 600), strings.Repeat("b", 600), strings.Repeat("b", 600), strings.Repeat("b", 600)})
	total := 0
	for _, s := range got {
		total += len(s)
	}
	if total > maxSamplesTotal {
		t.Errorf("total sample length = %d, want <= %d", total, maxSamplesTotal)
	}
}

func TestRateLimiter(t *testing.T) {
	r := NewRateLimiter(2)
	now := time.Now()

	if !r.AllowAt("wh-1", now) || !r.AllowAt("wh-1", now) {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if r.AllowAt("wh-1", now) {
		t.Error("expected third notification to be limited")
	}
	if !r.AllowAt("wh-2", now) {
		t.Error("limits must be per webhook")
	}
	if !r.AllowAt("wh-1", now.Add(30*time.Second)) {
		t.Error("expected a token after 30s")
	}
	if r.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", r.Dropped())
	}

	if !NewRateLimiter(0).AllowAt("x", now) {
		t.Error("zero limit must disable limiting")
	}
}
