package models

import "time"

// WebhookService identifies the payload dialect of a webhook.
type WebhookService string

const (
	WebhookServiceGeneric    WebhookService = "generic"
	WebhookServiceSlack      WebhookService = "slack"
	WebhookServiceIncidentIO WebhookService = "incidentio"
	WebhookServiceTeams      WebhookService = "teams"
)

// ParseWebhookService converts a string to WebhookService.
func ParseWebhookService(s string) WebhookService {
	switch s {
	case "slack":
		return WebhookServiceSlack
	case "incidentio":
		return WebhookServiceIncidentIO
	case "teams":
		return WebhookServiceTeams
	default:
		return WebhookServiceGeneric
	}
}

// Webhook is a team-owned notification destination.
type Webhook struct {
	ID      string         `json:"id"`
	TeamID  string         `json:"team_id"`
	Name    string         `json:"name"`
	Service WebhookService `json:"service"`
	URL     string         `json:"url"`
	// Body is a template for generic webhooks.
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
