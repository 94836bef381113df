package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// incidentIOMaxField is incident.io's limit on titles and deduplication keys.
const incidentIOMaxField = 255

// IncidentIOSender posts alert events to an incident.io HTTP alert source.
type IncidentIOSender struct {
	httpPoster
	logger zerolog.Logger
}

// NewIncidentIOSender creates an incident.io sender.
func NewIncidentIOSender(timeout time.Duration, logger zerolog.Logger) *IncidentIOSender {
	return &IncidentIOSender{httpPoster: newHTTPPoster(timeout), logger: logger}
}

// Service returns "incidentio".
func (s *IncidentIOSender) Service() models.WebhookService {
	return models.WebhookServiceIncidentIO
}

type incidentIOPayload struct {
	Title            string            `json:"title"`
	Description      string            `json:"description,omitempty"`
	DeduplicationKey string            `json:"deduplication_key"`
	Status           string            `json:"status"`
	SourceURL        string            `json:"source_url,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Send implements Sender.
func (s *IncidentIOSender) Send(ctx context.Context, wh *models.Webhook, msg *Message) error {
	payload := s.buildPayload(msg)
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return s.post(ctx, wh, jsonData)
}

func (s *IncidentIOSender) buildPayload(msg *Message) incidentIOPayload {
	status := "firing"
	if msg.State == models.AlertStateOK {
		status = "resolved"
	}
	p := incidentIOPayload{
		Title:            s.limit("title", msg.AlertID, msg.Title),
		Description:      msg.Body,
		DeduplicationKey: s.limit("deduplication_key", msg.AlertID, msg.EventID),
		Status:           status,
		SourceURL:        msg.Link,
		Metadata:         map[string]string{"alert_id": msg.AlertID},
	}
	if msg.Group != "" {
		p.Metadata["group"] = msg.Group
	}
	return p
}

// limit truncates a field to incident.io's maximum and logs when it does.
func (s *IncidentIOSender) limit(field, alertID, value string) string {
	if len(value) <= incidentIOMaxField {
		return value
	}
	s.logger.Warn().
		Str("alert_id", alertID).
		Str("field", field).
		Int("length", len(value)).
		Msg("incident.io field truncated")
	return truncate(value, incidentIOMaxField)
}
