// Package silence issues and redeems signed tokens that temporarily
// suppress an alert's notifications.
package silence

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

const (
	// DefaultTokenTTL is how long an issued token can be redeemed.
	DefaultTokenTTL = time.Hour
	// DefaultSilenceDuration is how long a redeemed token silences an alert.
	DefaultSilenceDuration = 30 * time.Minute

	issuer     = "blazealert-silence"
	redeemedBy = "token"
)

var (
	ErrInvalidToken  = errors.New("invalid silence token")
	ErrTokenExpired  = errors.New("silence token expired")
	ErrNotConfigured = errors.New("silence secret not configured")
	ErrAlertNotFound = errors.New("alert not found")
)

// Claims identifies the alert a token silences.
type Claims struct {
	jwt.RegisteredClaims
	AlertID string `json:"aid"`
	TeamID  string `json:"tid"`
}

// Service handles silence token issuance and redemption.
type Service struct {
	secret   []byte
	alerts   storage.AlertRepository
	ttl      time.Duration
	duration time.Duration
	baseURL  string
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithDuration overrides how long redemption silences an alert.
func WithDuration(d time.Duration) Option {
	return func(s *Service) { s.duration = d }
}

// WithBaseURL sets the public API address used by SilenceLink.
func WithBaseURL(base string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(base, "/") }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a silence service. An empty secret disables issuance
// and redemption.
func NewService(secret []byte, alerts storage.AlertRepository, opts ...Option) *Service {
	s := &Service{
		secret:   secret,
		alerts:   alerts,
		ttl:      DefaultTokenTTL,
		duration: DefaultSilenceDuration,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether a signing secret is configured.
func (s *Service) Enabled() bool {
	return len(s.secret) > 0
}

// Issue signs a token for the alert. It returns "" without error when no
// secret is configured.
func (s *Service) Issue(alertID, teamID string) (string, error) {
	if !s.Enabled() {
		metrics.SilenceTokens.WithLabelValues("issue", "disabled").Inc()
		return "", nil
	}
	if alertID == "" || teamID == "" {
		return "", fmt.Errorf("issue silence token: alert and team ids are required")
	}

	now := s.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   alertID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
		AlertID: alertID,
		TeamID:  teamID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		metrics.SilenceTokens.WithLabelValues("issue", "error").Inc()
		return "", fmt.Errorf("sign silence token: %w", err)
	}
	metrics.SilenceTokens.WithLabelValues("issue", "success").Inc()
	return token, nil
}

// SilenceLink returns a URL that redeems a fresh token for the alert, or ""
// when tokens are disabled or no base URL is set.
func (s *Service) SilenceLink(alertID, teamID string) string {
	if s.baseURL == "" {
		return ""
	}
	token, err := s.Issue(alertID, teamID)
	if err != nil || token == "" {
		return ""
	}
	return s.baseURL + "/api/v1/silence?token=" + url.QueryEscape(token)
}

// Verify checks the token signature, expiry and claims.
func (s *Service) Verify(tokenString string) (*Claims, error) {
	if !s.Enabled() {
		return nil, ErrNotConfigured
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.AlertID == "" || claims.TeamID == "" {
		return nil, fmt.Errorf("%w: missing alert or team claim", ErrInvalidToken)
	}
	return claims, nil
}

// Redeem verifies the token and silences its alert until now+duration.
func (s *Service) Redeem(ctx context.Context, tokenString string) (*models.Alert, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		metrics.SilenceTokens.WithLabelValues("redeem", "rejected").Inc()
		return nil, err
	}

	alert, err := s.alerts.GetByID(ctx, claims.AlertID)
	if err != nil {
		return nil, fmt.Errorf("load alert: %w", err)
	}
	if alert == nil || alert.TeamID != claims.TeamID {
		metrics.SilenceTokens.WithLabelValues("redeem", "rejected").Inc()
		return nil, ErrAlertNotFound
	}

	now := s.now().UTC()
	silenced := &models.Silenced{By: redeemedBy, At: now, Until: now.Add(s.duration)}
	if err := s.alerts.SetSilenced(ctx, alert.ID, silenced); err != nil {
		return nil, fmt.Errorf("silence alert: %w", err)
	}
	alert.Silenced = silenced

	metrics.SilenceTokens.WithLabelValues("redeem", "success").Inc()
	return alert, nil
}

// SilenceUntil silences the alert until the given time on behalf of by.
func (s *Service) SilenceUntil(ctx context.Context, alertID, by string, until time.Time) (*models.Alert, error) {
	now := s.now().UTC()
	if !until.After(now) {
		return nil, fmt.Errorf("silence end %s is not in the future", until.Format(time.RFC3339))
	}
	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return nil, fmt.Errorf("load alert: %w", err)
	}
	if alert == nil {
		return nil, ErrAlertNotFound
	}
	silenced := &models.Silenced{By: by, At: now, Until: until.UTC()}
	if err := s.alerts.SetSilenced(ctx, alertID, silenced); err != nil {
		return nil, fmt.Errorf("silence alert: %w", err)
	}
	alert.Silenced = silenced
	metrics.SilenceTokens.WithLabelValues("silence", "success").Inc()
	return alert, nil
}

// Unsilence clears the alert's silence.
func (s *Service) Unsilence(ctx context.Context, alertID string) error {
	alert, err := s.alerts.GetByID(ctx, alertID)
	if err != nil {
		return fmt.Errorf("load alert: %w", err)
	}
	if alert == nil {
		return ErrAlertNotFound
	}
	if err := s.alerts.SetSilenced(ctx, alertID, nil); err != nil {
		return fmt.Errorf("unsilence alert: %w", err)
	}
	metrics.SilenceTokens.WithLabelValues("unsilence", "success").Inc()
	return nil
}

// TTL returns the token lifetime.
func (s *Service) TTL() time.Duration {
	return s.ttl
}
