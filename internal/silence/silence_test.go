package silence

import (
	"context"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

var testSecret = []byte("test-silence-secret-32-bytes!!!!")

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func setup(t *testing.T) (storage.Storage, *clock) {
	t.Helper()
	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"), []byte("test-master-key-32-bytes-long!!!"))
	require.NoError(t, store.Open())
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate())

	for _, id := range []string{"alert-1", "alert-2"} {
		alert := models.NewAlert("team-1",
			&models.SavedSearchSource{SavedSearchID: "search-1"},
			&models.ThresholdPolicy{Type: models.ThresholdAbove, Threshold: 1},
			models.Interval5m)
		alert.ID = id
		alert.Channel.WebhookID = "wh-1"
		require.NoError(t, store.Alerts().Create(context.Background(), alert))
	}
	return store, &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestIssueAndRedeem(t *testing.T) {
	store, c := setup(t)
	svc := NewService(testSecret, store.Alerts(), WithClock(c.now))

	token, err := svc.Issue("alert-1", "team-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	alert, err := svc.Redeem(context.Background(), token)
	require.NoError(t, err)
	require.NotNil(t, alert.Silenced)
	assert.Equal(t, c.t.Add(30*time.Minute), alert.Silenced.Until)

	stored, err := store.Alerts().GetByID(context.Background(), "alert-1")
	require.NoError(t, err)
	require.NotNil(t, stored.Silenced)
	assert.Equal(t, "token", stored.Silenced.By)
	assert.True(t, stored.IsSilenced(c.t.Add(29*time.Minute)))
	assert.False(t, stored.IsSilenced(c.t.Add(31*time.Minute)))
}

func TestRedeem_TamperedToken(t *testing.T) {
	store, c := setup(t)
	svc := NewService(testSecret, store.Alerts(), WithClock(c.now))

	first, err := svc.Issue("alert-1", "team-1")
	require.NoError(t, err)
	second, err := svc.Issue("alert-2", "team-1")
	require.NoError(t, err)

	// Splice the second token's claims onto the first token's signature.
	a := strings.Split(first, ".")
	b := strings.Split(second, ".")
	forged := strings.Join([]string{a[0], b[1], a[2]}, ".")

	_, err = svc.Redeem(context.Background(), forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewService([]byte("another-secret-entirely-32-bytes"), store.Alerts(), WithClock(c.now))
	foreign, err := other.Issue("alert-1", "team-1")
	require.NoError(t, err)
	_, err = svc.Redeem(context.Background(), foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	stored, err := store.Alerts().GetByID(context.Background(), "alert-2")
	require.NoError(t, err)
	assert.Nil(t, stored.Silenced)
}

func TestRedeem_Expired(t *testing.T) {
	store, c := setup(t)
	svc := NewService(testSecret, store.Alerts(), WithClock(c.now))

	token, err := svc.Issue("alert-1", "team-1")
	require.NoError(t, err)

	c.t = c.t.Add(time.Hour + time.Second)
	_, err = svc.Redeem(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestRedeem_Invalid(t *testing.T) {
	store, c := setup(t)
	svc := NewService(testSecret, store.Alerts(), WithClock(c.now))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-jwt-token"},
		{"wrong-segments", "a.b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Redeem(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestRedeem_UnknownAlert(t *testing.T) {
	store, c := setup(t)
	svc := NewService(testSecret, store.Alerts(), WithClock(c.now))

	token, err := svc.Issue("alert-404", "team-1")
	require.NoError(t, err)
	_, err = svc.Redeem(context.Background(), token)
	assert.ErrorIs(t, err, ErrAlertNotFound)

	token, err = svc.Issue("alert-1", "team-2")
	require.NoError(t, err)
	_, err = svc.Redeem(context.Background(), token)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestNotConfigured(t *testing.T) {
	store, _ := setup(t)
	svc := NewService(nil, store.Alerts())

	token, err := svc.Issue("alert-1", "team-1")
	require.NoError(t, err)
	assert.Empty(t, token)

	_, err = svc.Redeem(context.Background(), "anything")
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestUnsilence(t *testing.T) {
	store, c := setup(t)
	svc := NewService(testSecret, store.Alerts(), WithClock(c.now))
	ctx := context.Background()

	token, err := svc.Issue("alert-1", "team-1")
	require.NoError(t, err)
	_, err = svc.Redeem(ctx, token)
	require.NoError(t, err)

	require.NoError(t, svc.Unsilence(ctx, "alert-1"))
	stored, err := store.Alerts().GetByID(ctx, "alert-1")
	require.NoError(t, err)
	assert.Nil(t, stored.Silenced)

	assert.ErrorIs(t, svc.Unsilence(ctx, "alert-404"), ErrAlertNotFound)
}

func TestSilenceLink(t *testing.T) {
	store, c := setup(t)

	assert.Empty(t, NewService(testSecret, store.Alerts()).SilenceLink("alert-1", "team-1"))
	assert.Empty(t, NewService(nil, store.Alerts(), WithBaseURL("https://alerts.example.com")).SilenceLink("alert-1", "team-1"))

	svc := NewService(testSecret, store.Alerts(), WithClock(c.now), WithBaseURL("https://alerts.example.com/"))
	link := svc.SilenceLink("alert-1", "team-1")
	require.True(t, strings.HasPrefix(link, "https://alerts.example.com/api/v1/silence?token="), link)

	u, err := url.Parse(link)
	require.NoError(t, err)
	_, err = svc.Redeem(context.Background(), u.Query().Get("token"))
	require.NoError(t, err)
}

func TestSilenceUntil(t *testing.T) {
	store, c := setup(t)
	svc := NewService(testSecret, store.Alerts(), WithClock(c.now))
	ctx := context.Background()

	until := c.t.Add(2 * time.Hour)
	alert, err := svc.SilenceUntil(ctx, "alert-1", "ops@example.com", until)
	require.NoError(t, err)
	assert.Equal(t, until, alert.Silenced.Until)
	assert.Equal(t, "ops@example.com", alert.Silenced.By)

	_, err = svc.SilenceUntil(ctx, "alert-1", "ops@example.com", c.t.Add(-time.Minute))
	assert.Error(t, err)

	_, err = svc.SilenceUntil(ctx, "alert-404", "ops@example.com", until)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}
