package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/template"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// httpPoster posts payloads to webhook URLs.
type httpPoster struct {
	httpClient *http.Client
}

func newHTTPPoster(timeout time.Duration) httpPoster {
	return httpPoster{httpClient: &http.Client{Timeout: timeout}}
}

// post sends body to the webhook URL with its query params and headers applied.
func (p httpPoster) post(ctx context.Context, wh *models.Webhook, body []byte) error {
	target, err := webhookURL(wh)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s webhook error: status %d, body: %s", wh.Service, resp.StatusCode, string(respBody))
	}
	return nil
}

func webhookURL(wh *models.Webhook) (string, error) {
	u, err := url.Parse(wh.URL)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url: %w", err)
	}
	if len(wh.QueryParams) > 0 {
		q := u.Query()
		for k, v := range wh.QueryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// GenericSender posts a user-templated JSON body.
type GenericSender struct {
	httpPoster
}

// NewGenericSender creates a generic webhook sender.
func NewGenericSender(timeout time.Duration) *GenericSender {
	return &GenericSender{httpPoster: newHTTPPoster(timeout)}
}

// Service returns "generic".
func (s *GenericSender) Service() models.WebhookService {
	return models.WebhookServiceGeneric
}

// genericPayload is the body sent when a webhook has no template.
type genericPayload struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	Link        string `json:"link,omitempty"`
	SilenceLink string `json:"silence_link,omitempty"`
	State       string `json:"state"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	EventID     string `json:"event_id"`
}

// Send implements Sender.
func (s *GenericSender) Send(ctx context.Context, wh *models.Webhook, msg *Message) error {
	body, err := genericBody(wh.Body, msg)
	if err != nil {
		return err
	}
	return s.post(ctx, wh, body)
}

// genericBody renders the webhook template with JSON-escaped values.
func genericBody(tmplText string, msg *Message) ([]byte, error) {
	if strings.TrimSpace(tmplText) == "" {
		return json.Marshal(genericPayload{
			Title:       msg.Title,
			Body:        msg.Body,
			Link:        msg.Link,
			SilenceLink: msg.SilenceLink,
			State:       string(msg.State),
			StartTime:   msg.StartTime.UTC().Format(time.RFC3339),
			EndTime:     msg.EndTime.UTC().Format(time.RFC3339),
			EventID:     msg.EventID,
		})
	}

	tmpl, err := template.New("webhook").Option("missingkey=zero").Parse(tmplText)
	if err != nil {
		return nil, fmt.Errorf("parse webhook body: %w", err)
	}
	data := map[string]string{
		"Title":       jsonEscape(msg.Title),
		"Body":        jsonEscape(msg.Body),
		"Link":        jsonEscape(msg.Link),
		"SilenceLink": jsonEscape(msg.SilenceLink),
		"State":       jsonEscape(string(msg.State)),
		"StartTime":   jsonEscape(msg.StartTime.UTC().Format(time.RFC3339)),
		"EndTime":     jsonEscape(msg.EndTime.UTC().Format(time.RFC3339)),
		"EventID":     jsonEscape(msg.EventID),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render webhook body: %w", err)
	}
	return buf.Bytes(), nil
}

// jsonEscape returns s encoded as the inside of a JSON string literal.
func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}
