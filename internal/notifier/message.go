package notifier

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/provider"
)

const (
	maxSamples      = 5
	maxSampleLength = 500
	maxSamplesTotal = 2500
	timeLayout      = "2006-01-02 15:04:05 MST"
)

// Message is a rendered notification, independent of the webhook dialect.
type Message struct {
	Title string
	Body  string
	Link  string
	// SilenceLink redeems a silence token for the alert.
	SilenceLink string
	State       models.AlertState
	StartTime   time.Time
	EndTime     time.Time
	// EventID is stable across the firing and resolution of one group.
	EventID string
	AlertID string
	Group   string
}

// View is the data available to alert name and message templates. Name is
// the display name of the watched search, tile or source.
type View struct {
	AlertID       string
	Name          string
	Group         string
	State         string
	Value         float64
	Threshold     float64
	ThresholdType string
	ZScore        float64
	Dashboard     string
	Tile          string
	Search        string
	StartTime     string
	EndTime       string
	Link          string
	Samples       []string
}

func eventID(alertID, group string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(alertID+"||"+group)).String()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// newView collects template data for an event.
func newView(ev *Event, link string, samples []string) View {
	alert := ev.Details.Alert
	v := View{
		AlertID:   alert.ID,
		Group:     ev.Group,
		State:     string(ev.State),
		Value:     ev.Value,
		StartTime: ev.Start.UTC().Format(timeLayout),
		EndTime:   ev.End.UTC().Format(timeLayout),
		Link:      link,
		Samples:   samples,
	}
	if p, ok := alert.Policy.(*models.ThresholdPolicy); ok {
		v.Threshold = p.Threshold
		v.ThresholdType = string(p.Type)
	}
	if ev.Anomaly != nil {
		if z, ok := ev.Anomaly.Details["zscore"]["zscore"].(float64); ok {
			v.ZScore = z
		}
	}
	switch t := ev.Details.Target.(type) {
	case *provider.SavedSearchTarget:
		v.Search = t.Search.Name
	case *provider.TileTarget:
		v.Dashboard, v.Tile = t.Dashboard.Name, t.Tile.Name
	case *provider.ChartTarget:
		v.Dashboard, v.Tile = t.Dashboard.Name, t.Tile.Name
	}
	v.Name = v.displayName(ev.Details)
	return v
}

func (v View) displayName(d *provider.AlertDetails) string {
	switch {
	case v.Search != "":
		return v.Search
	case v.Tile != "":
		return v.Tile
	case d.Source != nil && d.Source.Name != "":
		return d.Source.Name
	default:
		return d.Alert.ID
	}
}

// defaultTitle renders the title used when an alert has no name template.
func defaultTitle(ev *Event, v View) string {
	var title string
	switch {
	case ev.Anomaly != nil || isAnomaly(ev.Details.Alert):
		title = fmt.Sprintf("Anomaly detected for %q - %s (z=%.2f)", v.Name, formatValue(v.Value), v.ZScore)
	case v.Search != "":
		title = fmt.Sprintf("Alert for %q - %s lines found", v.Search, formatValue(v.Value))
	default:
		verb := "exceeds"
		if v.ThresholdType == string(models.ThresholdBelow) {
			verb = "falls below"
		}
		subject := fmt.Sprintf("%q", v.Name)
		if v.Dashboard != "" {
			subject = fmt.Sprintf("%q in %q", v.Tile, v.Dashboard)
		}
		title = fmt.Sprintf("Alert for %s - %s %s %s", subject, formatValue(v.Value), verb, formatValue(v.Threshold))
	}
	if ev.Group != "" {
		title += " (" + ev.Group + ")"
	}
	return title
}

func isAnomaly(a *models.Alert) bool {
	_, ok := a.Policy.(*models.AnomalyPolicy)
	return ok
}

// renderTemplate executes a user template over v, falling back to text on error.
func renderTemplate(name, text string, v View) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(text)
	if err != nil {
		return text, fmt.Errorf("parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return text, fmt.Errorf("render %s template: %w", name, err)
	}
	return buf.String(), nil
}

// truncateSamples caps each sample and the combined length.
func truncateSamples(samples []string) []string {
	if len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}
	out := make([]string, 0, len(samples))
	total := 0
	for _, s := range samples {
		s = truncate(s, maxSampleLength)
		if total+len(s) > maxSamplesTotal {
			break
		}
		total += len(s)
		out = append(out, s)
	}
	return out
}

// truncate truncates a string to max bytes with an ellipsis, keeping runes whole.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// build renders the message for ev. Template failures are returned alongside
// a usable message.
func build(ev *Event, link string, samples []string) (*Message, error) {
	alert := ev.Details.Alert
	v := newView(ev, link, truncateSamples(samples))
	msg := &Message{
		Link:      link,
		State:     ev.State,
		StartTime: ev.Start,
		EndTime:   ev.End,
		EventID:   eventID(alert.ID, ev.Group),
		AlertID:   alert.ID,
		Group:     ev.Group,
	}

	var errs []string
	if alert.Name != "" {
		title, err := renderTemplate("name", alert.Name, v)
		if err != nil {
			errs = append(errs, err.Error())
		}
		msg.Title = title
	} else {
		msg.Title = defaultTitle(ev, v)
	}
	if ev.State == models.AlertStateOK {
		msg.Title = "[Resolved] " + msg.Title
	}

	var body strings.Builder
	if ev.Group != "" {
		fmt.Fprintf(&body, "Group: %s\n", ev.Group)
	}
	fmt.Fprintf(&body, "Time range (UTC): %s - %s\n", v.StartTime, v.EndTime)
	if alert.Message != "" {
		text, err := renderTemplate("message", alert.Message, v)
		if err != nil {
			errs = append(errs, err.Error())
		}
		body.WriteString("\n" + text + "\n")
	}
	if len(v.Samples) > 0 {
		body.WriteString("\n```\n" + strings.Join(v.Samples, "\n") + "\n```\n")
	}
	msg.Body = strings.TrimRight(body.String(), "\n")

	if len(errs) > 0 {
		return msg, errors.New(strings.Join(errs, "; "))
	}
	return msg, nil
}
