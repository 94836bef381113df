package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// TeamsSender posts Adaptive Cards to Microsoft Teams incoming webhooks.
type TeamsSender struct {
	httpPoster
}

// NewTeamsSender creates a Teams sender.
func NewTeamsSender(timeout time.Duration) *TeamsSender {
	return &TeamsSender{httpPoster: newHTTPPoster(timeout)}
}

// Service returns "teams".
func (t *TeamsSender) Service() models.WebhookService {
	return models.WebhookServiceTeams
}

// Send implements Sender.
func (t *TeamsSender) Send(ctx context.Context, wh *models.Webhook, msg *Message) error {
	jsonData, err := json.Marshal(buildTeamsPayload(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return t.post(ctx, wh, jsonData)
}

// teamsMessage represents the Teams webhook payload with Adaptive Card.
type teamsMessage struct {
	Type        string            `json:"type"`
	Attachments []teamsAttachment `json:"attachments"`
}

// teamsAttachment represents an attachment in the Teams message.
type teamsAttachment struct {
	ContentType string       `json:"contentType"`
	ContentURL  *string      `json:"contentUrl"`
	Content     adaptiveCard `json:"content"`
}

// adaptiveCard represents a Microsoft Adaptive Card.
type adaptiveCard struct {
	Schema  string `json:"$schema"`
	Type    string `json:"type"`
	Version string `json:"version"`
	Body    []any  `json:"body"`
	Actions []any  `json:"actions,omitempty"`
}

// Adaptive Card element types
type textBlock struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Size   string `json:"size,omitempty"`
	Weight string `json:"weight,omitempty"`
	Color  string `json:"color,omitempty"`
	Wrap   bool   `json:"wrap,omitempty"`
}

type factSet struct {
	Type  string `json:"type"`
	Facts []fact `json:"facts"`
}

type fact struct {
	Title string `json:"title"`
	Value string `json:"value"`
}

type container struct {
	Type  string `json:"type"`
	Style string `json:"style,omitempty"`
	Items []any  `json:"items"`
}

type openURLAction struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// buildTeamsPayload builds the Adaptive Card message payload.
func buildTeamsPayload(msg *Message) teamsMessage {
	style := "good"
	if msg.State == models.AlertStateAlert {
		style = "attention"
	}

	facts := []fact{
		{Title: "State", Value: string(msg.State)},
		{Title: "From", Value: msg.StartTime.UTC().Format(timeLayout)},
		{Title: "To", Value: msg.EndTime.UTC().Format(timeLayout)},
	}
	if msg.Group != "" {
		facts = append(facts, fact{Title: "Group", Value: msg.Group})
	}

	body := []any{
		container{
			Type:  "Container",
			Style: style,
			Items: []any{
				textBlock{
					Type:   "TextBlock",
					Text:   fmt.Sprintf("%s %s", stateEmoji(msg.State), msg.Title),
					Size:   "Large",
					Weight: "Bolder",
					Wrap:   true,
				},
			},
		},
		factSet{Type: "FactSet", Facts: facts},
	}
	if msg.Body != "" {
		body = append(body, textBlock{Type: "TextBlock", Text: msg.Body, Wrap: true})
	}

	card := adaptiveCard{
		Schema:  "http://adaptivecards.io/schemas/adaptive-card.json",
		Type:    "AdaptiveCard",
		Version: "1.4",
		Body:    body,
	}
	if msg.Link != "" {
		card.Actions = append(card.Actions, openURLAction{Type: "Action.OpenUrl", Title: "View in BlazeAlert", URL: msg.Link})
	}
	if msg.SilenceLink != "" {
		card.Actions = append(card.Actions, openURLAction{Type: "Action.OpenUrl", Title: "Silence for 30m", URL: msg.SilenceLink})
	}

	return teamsMessage{
		Type: "message",
		Attachments: []teamsAttachment{
			{
				ContentType: "application/vnd.microsoft.card.adaptive",
				ContentURL:  nil,
				Content:     card,
			},
		},
	}
}
