package anomaly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// HTTPScorer delegates scoring to an external detection service.
type HTTPScorer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPScorer creates a scorer posting to baseURL + "/detect_anomaly".
func NewHTTPScorer(baseURL string, timeout time.Duration) *HTTPScorer {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPScorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type detectRequest struct {
	History []Point            `json:"history"`
	Current Point              `json:"current"`
	Config  models.ModelConfig `json:"config"`
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, history []Point, current Point, cfg models.ModelConfig) (*Result, error) {
	body, err := json.Marshal(detectRequest{History: history, Current: current, Config: cfg})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/detect_anomaly", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect anomaly: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("detect anomaly: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
