package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// SlackSender posts Block Kit messages to Slack incoming webhooks.
type SlackSender struct {
	httpPoster
	// allowAnyHost skips the slack.com hostname check in tests.
	allowAnyHost bool
}

// NewSlackSender creates a Slack sender.
func NewSlackSender(timeout time.Duration) *SlackSender {
	return &SlackSender{httpPoster: newHTTPPoster(timeout)}
}

// Service returns "slack".
func (s *SlackSender) Service() models.WebhookService {
	return models.WebhookServiceSlack
}

// validateSlackURL requires a slack.com hostname.
func validateSlackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid slack webhook url: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host != "slack.com" && !strings.HasSuffix(host, ".slack.com") {
		return fmt.Errorf("slack webhook host %q is not a slack.com host", host)
	}
	return nil
}

// Send implements Sender.
func (s *SlackSender) Send(ctx context.Context, wh *models.Webhook, msg *Message) error {
	if !s.allowAnyHost {
		if err := validateSlackURL(wh.URL); err != nil {
			return err
		}
	}

	jsonData, err := json.Marshal(buildSlackPayload(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	return s.post(ctx, wh, jsonData)
}

// slackMessage represents the Slack webhook payload.
type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

// slackBlock represents a Slack Block Kit block.
type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

// slackText represents text in Slack Block Kit.
type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

// buildSlackPayload builds the Block Kit message payload.
func buildSlackPayload(msg *Message) slackMessage {
	emoji := stateEmoji(msg.State)

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{
				Type:  "plain_text",
				Text:  truncate(fmt.Sprintf("%s %s", emoji, msg.Title), 150),
				Emoji: true,
			},
		},
		{
			Type: "section",
			Fields: []slackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*State:*\n%s", msg.State)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Window:*\n%s", msg.StartTime.UTC().Format(timeLayout))},
			},
		},
	}

	if msg.Body != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: truncate(msg.Body, 3000)},
		})
	}

	var links []slackText
	if msg.Link != "" {
		links = append(links, slackText{Type: "mrkdwn", Text: fmt.Sprintf("<%s|View in BlazeAlert>", msg.Link)})
	}
	if msg.SilenceLink != "" {
		links = append(links, slackText{Type: "mrkdwn", Text: fmt.Sprintf("<%s|Silence for 30m>", msg.SilenceLink)})
	}
	if len(links) > 0 {
		blocks = append(blocks, slackBlock{Type: "context", Elements: links})
	}

	return slackMessage{Text: msg.Title, Blocks: blocks}
}

// stateEmoji returns an emoji for the alert state.
func stateEmoji(state models.AlertState) string {
	if state == models.AlertStateAlert {
		return "\U0001F534" // red circle
	}
	return "\U0001F7E2" // green circle
}
