// Package health serves liveness and readiness for the evaluation service.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Checker defines the interface for health checkers.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}

// PassSummary is the tally of the most recent evaluation pass.
type PassSummary struct {
	At        time.Time `json:"at"`
	Evaluated int       `json:"evaluated"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// Handler serves /health, /health/live and /health/ready.
type Handler struct {
	mu       sync.RWMutex
	checkers []Checker
	lastPass func() (PassSummary, bool)
	version  string
	logger   zerolog.Logger
}

// NewHandler creates a health handler reporting version.
func NewHandler(version string, logger zerolog.Logger) *Handler {
	return &Handler{
		version: version,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// RegisterChecker adds a dependency checker.
func (h *Handler) RegisterChecker(c Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, c)
}

// SetPassReporter sets the source of the last-pass tally shown by Ready.
// fn reports false until a pass has completed.
func (h *Handler) SetPassReporter(fn func() (PassSummary, bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastPass = fn
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
	LastPass *PassSummary      `json:"last_pass,omitempty"`
}

// Health reports that the process is up, with its version.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Live is the liveness probe.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "live"})
}

// Ready runs every checker and returns 503 if any fails. The body carries
// the tally of the last evaluation pass.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	h.mu.RLock()
	checkers := make([]Checker, len(h.checkers))
	copy(checkers, h.checkers)
	lastPass := h.lastPass
	h.mu.RUnlock()

	resp := HealthResponse{
		Status:  "ready",
		Version: h.version,
		Checks:  make(map[string]string, len(checkers)),
	}

	for _, checker := range checkers {
		if err := checker.Check(ctx); err != nil {
			resp.Checks[checker.Name()] = err.Error()
			resp.Status = "not_ready"
			h.logger.Warn().Err(err).Str("checker", checker.Name()).Msg("readiness check failed")
		} else {
			resp.Checks[checker.Name()] = "ok"
		}
	}

	if lastPass != nil {
		if pass, ok := lastPass(); ok {
			resp.LastPass = &pass
		}
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
