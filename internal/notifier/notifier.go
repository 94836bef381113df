// Package notifier renders alert notifications and delivers them to webhooks.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/anomaly"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/provider"
	"github.com/good-yellow-bee/blazealert/internal/telemetry"
)

var (
	// ErrRateLimited is returned when a webhook exceeded its notification budget.
	ErrRateLimited = errors.New("notification rate limited")
	// ErrBlockedHost is returned when a webhook points at a blocked host.
	ErrBlockedHost = errors.New("webhook host is blocked")
)

// Event is a state change of one alert group.
type Event struct {
	Details *provider.AlertDetails
	// Client fetches sample rows; may be nil.
	Client telemetry.Client
	Group  string
	// State is ALERT for a firing event and OK for a resolution.
	State       models.AlertState
	Value       float64
	Anomaly     *anomaly.Result
	Start       time.Time
	End         time.Time
	Granularity time.Duration
}

// Sender delivers a message in one webhook dialect.
type Sender interface {
	Service() models.WebhookService
	Send(ctx context.Context, wh *models.Webhook, msg *Message) error
}

// SilenceLinker builds a one-click link that silences an alert.
type SilenceLinker interface {
	SilenceLink(alertID, teamID string) string
}

// Config configures the notifier.
type Config struct {
	// RateLimit is the per-webhook budget per minute. Zero disables it.
	RateLimit int
	// BlockedHosts are hostnames webhooks must not target.
	BlockedHosts []string
	Timeout      time.Duration
	// SilenceLinks adds a silence link to firing notifications when set.
	SilenceLinks SilenceLinker
	Logger       zerolog.Logger
}

// Notifier gates, renders and routes notifications.
type Notifier struct {
	provider provider.AlertProvider
	senders  map[models.WebhookService]Sender
	limiter  *RateLimiter
	blocked  map[string]bool
	silences SilenceLinker
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a notifier with the built-in webhook senders.
func New(p provider.AlertProvider, cfg Config) *Notifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	blocked := make(map[string]bool, len(cfg.BlockedHosts))
	for _, h := range cfg.BlockedHosts {
		if h = normalizeHost(h); h != "" {
			blocked[h] = true
		}
	}
	n := &Notifier{
		provider: p,
		senders:  make(map[models.WebhookService]Sender),
		limiter:  NewRateLimiter(cfg.RateLimit),
		blocked:  blocked,
		silences: cfg.SilenceLinks,
		logger:   cfg.Logger.With().Str("component", "notifier").Logger(),
		now:      time.Now,
	}
	for _, s := range []Sender{
		NewGenericSender(cfg.Timeout),
		NewSlackSender(cfg.Timeout),
		NewIncidentIOSender(cfg.Timeout, n.logger),
		NewTeamsSender(cfg.Timeout),
	} {
		n.Register(s)
	}
	return n
}

// Register adds or replaces the sender for its service.
func (n *Notifier) Register(s Sender) {
	n.senders[s.Service()] = s
}

// Notify delivers ev to the alert's webhooks. Failures are logged.
func (n *Notifier) Notify(ctx context.Context, ev *Event) {
	alert := ev.Details.Alert
	logger := n.logger.With().Str("alert_id", alert.ID).Str("group", ev.Group).Logger()

	if alert.IsSilenced(n.now()) {
		metrics.NotificationsSuppressed.WithLabelValues("silenced").Inc()
		logger.Info().Time("until", alert.Silenced.Until).Msg("alert silenced, notification suppressed")
		return
	}

	if err := n.Dispatch(ctx, ev); err != nil {
		logger.Error().Err(err).Msg("notification failed")
	}
}

// Dispatch renders ev and sends it to every target webhook.
func (n *Notifier) Dispatch(ctx context.Context, ev *Event) error {
	alert := ev.Details.Alert

	webhooks, err := n.provider.GetWebhooks(ctx, alert.TeamID)
	if err != nil {
		return fmt.Errorf("get webhooks: %w", err)
	}
	targets := routeWebhooks(alert, webhooks)
	if len(targets) == 0 {
		metrics.NotificationsSuppressed.WithLabelValues("no_webhook").Inc()
		return fmt.Errorf("webhook %s not found", alert.Channel.WebhookID)
	}

	msg, err := build(ev, n.link(ev), n.samples(ctx, ev))
	if err != nil {
		n.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("alert template failed, using raw text")
	}
	if n.silences != nil && ev.State == models.AlertStateAlert {
		msg.SilenceLink = n.silences.SilenceLink(alert.ID, alert.TeamID)
	}

	var errs []error
	for _, wh := range targets {
		if err := n.send(ctx, wh, msg); err != nil {
			errs = append(errs, fmt.Errorf("webhook %s: %w", wh.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) send(ctx context.Context, wh *models.Webhook, msg *Message) error {
	service := wh.Service
	if service == "" {
		service = models.WebhookServiceGeneric
	}
	sender, ok := n.senders[service]
	if !ok {
		return fmt.Errorf("unsupported webhook service %q", wh.Service)
	}
	if err := n.checkHost(wh.URL); err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(service), "blocked").Inc()
		return err
	}
	if !n.limiter.AllowAt(wh.ID, n.now()) {
		metrics.NotificationsTotal.WithLabelValues(string(service), "rate_limited").Inc()
		return ErrRateLimited
	}
	if err := sender.Send(ctx, wh, msg); err != nil {
		metrics.NotificationsTotal.WithLabelValues(string(service), "failure").Inc()
		return err
	}
	metrics.NotificationsTotal.WithLabelValues(string(service), "success").Inc()
	return nil
}

func (n *Notifier) link(ev *Event) string {
	switch t := ev.Details.Target.(type) {
	case *provider.SavedSearchTarget:
		return n.provider.BuildLogSearchLink(t.Search, ev.Start, ev.End)
	case *provider.TileTarget:
		return n.provider.BuildChartLink(t.Dashboard.ID, ev.Granularity, ev.Start, ev.End)
	case *provider.ChartTarget:
		return n.provider.BuildChartLink(t.Dashboard.ID, ev.Granularity, ev.Start, ev.End)
	}
	return ""
}

// samples fetches example rows for firing saved-search alerts.
func (n *Notifier) samples(ctx context.Context, ev *Event) []string {
	t, ok := ev.Details.Target.(*provider.SavedSearchTarget)
	if !ok || ev.Client == nil || ev.State != models.AlertStateAlert {
		return nil
	}
	rows, err := ev.Client.SampleRows(ctx, &telemetry.SampleQuery{
		Source: ev.Details.Source,
		Where:  t.Search.Where,
		Select: t.Search.Select,
		Start:  ev.Start,
		End:    ev.End,
		Limit:  maxSamples,
	})
	if err != nil {
		n.logger.Warn().Err(err).Str("alert_id", ev.Details.Alert.ID).Msg("fetch sample rows")
		return nil
	}
	return rows
}

func (n *Notifier) checkHost(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid webhook url %q", rawURL)
	}
	if n.blocked[normalizeHost(u.Hostname())] {
		return fmt.Errorf("%w: %s", ErrBlockedHost, u.Hostname())
	}
	return nil
}

func normalizeHost(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	if strings.Contains(h, "://") {
		if u, err := url.Parse(h); err == nil {
			return u.Hostname()
		}
	}
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return h
}

var mentionPattern = regexp.MustCompile(`@webhook-([A-Za-z0-9_.-]+)`)

// routeWebhooks returns the alert's channel webhook followed by any
// @webhook-<id|name> mentions in its message, without duplicates.
func routeWebhooks(alert *models.Alert, webhooks []*models.Webhook) []*models.Webhook {
	var out []*models.Webhook
	seen := make(map[string]bool)
	add := func(wh *models.Webhook) {
		if !seen[wh.ID] {
			seen[wh.ID] = true
			out = append(out, wh)
		}
	}

	for _, wh := range webhooks {
		if wh.ID == alert.Channel.WebhookID {
			add(wh)
		}
	}
	for _, m := range mentionPattern.FindAllStringSubmatch(alert.Message, -1) {
		for _, wh := range webhooks {
			if wh.ID == m[1] || mentionName(wh.Name) == m[1] {
				add(wh)
			}
		}
	}
	return out
}

func mentionName(name string) string {
	return strings.ReplaceAll(strings.TrimSpace(name), " ", "-")
}
