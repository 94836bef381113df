package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazealert/internal/api/middleware"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/silence"
)

// SilenceService is the silence token service used by the API.
type SilenceService interface {
	Enabled() bool
	TTL() time.Duration
	Issue(alertID, teamID string) (string, error)
	Redeem(ctx context.Context, token string) (*models.Alert, error)
	SilenceUntil(ctx context.Context, alertID, by string, until time.Time) (*models.Alert, error)
	Unsilence(ctx context.Context, alertID string) error
}

// silenceRequest is the body of POST /alerts/{id}/silenced.
type silenceRequest struct {
	MutedUntil string `json:"muted_until"`
}

// redeemRequest is the body of POST /silence.
type redeemRequest struct {
	Token string `json:"token"`
}

func silenceResponse(alert *models.Alert) *SilenceResponse {
	return &SilenceResponse{
		AlertID: alert.ID,
		By:      alert.Silenced.By,
		At:      formatTime(alert.Silenced.At),
		Until:   formatTime(alert.Silenced.Until),
	}
}

// silenceError maps silence service errors to API errors.
func (s *Server) silenceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, silence.ErrNotConfigured):
		JSONError(w, ErrNotConfigured)
	case errors.Is(err, silence.ErrTokenExpired):
		JSONError(w, ErrTokenExpired)
	case errors.Is(err, silence.ErrInvalidToken):
		JSONError(w, ErrInvalidToken)
	case errors.Is(err, silence.ErrAlertNotFound):
		JSONError(w, ErrAlertNotFound)
	default:
		s.logger.Error().Err(err).Msg("silence request failed")
		JSONError(w, ErrInternalServer)
	}
}

// IssueToken handles POST /api/v1/alerts/{id}/silence-token.
func (s *Server) IssueToken(w http.ResponseWriter, r *http.Request) {
	if !s.silences.Enabled() {
		JSONError(w, ErrNotConfigured)
		return
	}

	alert, err := s.storage.Alerts().GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.silenceError(w, err)
		return
	}
	if alert == nil {
		JSONError(w, ErrAlertNotFound)
		return
	}

	token, err := s.silences.Issue(alert.ID, alert.TeamID)
	if err != nil {
		s.silenceError(w, err)
		return
	}

	resp := &SilenceTokenResponse{Token: token, ExpiresIn: int(s.silences.TTL().Seconds())}
	if s.config.PublicURL != "" {
		resp.RedeemURL = strings.TrimRight(s.config.PublicURL, "/") + "/api/v1/silence?token=" + url.QueryEscape(token)
	}
	Created(w, resp)
}

// Redeem handles GET and POST /api/v1/silence. GET reads the token from the
// query string so notification links work as plain hyperlinks.
func (s *Server) Redeem(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if r.Method == http.MethodPost && token == "" {
		var req redeemRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
			JSONError(w, NewBadRequest("invalid request body"))
			return
		}
		token = req.Token
	}
	if token == "" {
		JSONError(w, NewValidationError("token is required"))
		return
	}

	alert, err := s.silences.Redeem(r.Context(), token)
	if err != nil {
		s.silenceError(w, err)
		return
	}
	s.logger.Info().Str("alert_id", alert.ID).Time("until", alert.Silenced.Until).Msg("alert silenced by token")
	OK(w, silenceResponse(alert))
}

// Silence handles POST /api/v1/alerts/{id}/silenced.
func (s *Server) Silence(w http.ResponseWriter, r *http.Request) {
	var req silenceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&req); err != nil {
		JSONError(w, NewBadRequest("invalid request body"))
		return
	}
	until, err := time.Parse(time.RFC3339, req.MutedUntil)
	if err != nil {
		JSONError(w, NewValidationError("muted_until must be an RFC 3339 timestamp"))
		return
	}
	if !until.After(time.Now()) {
		JSONError(w, NewValidationError("muted_until must be in the future"))
		return
	}

	alert, err := s.silences.SilenceUntil(r.Context(), chi.URLParam(r, "id"), middleware.GetCaller(r.Context()), until)
	if err != nil {
		s.silenceError(w, err)
		return
	}
	OK(w, silenceResponse(alert))
}

// Unsilence handles DELETE /api/v1/alerts/{id}/silenced.
func (s *Server) Unsilence(w http.ResponseWriter, r *http.Request) {
	if err := s.silences.Unsilence(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.silenceError(w, err)
		return
	}
	NoContent(w)
}
