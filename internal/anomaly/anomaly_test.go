package anomaly

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

func series(counts ...float64) []Point {
	points := make([]Point, len(counts))
	for i, c := range counts {
		points[i] = Point{Count: c, TSBucket: int64(i * 60)}
	}
	return points
}

func TestMergeConfig(t *testing.T) {
	merged := MergeConfig(models.ModelConfig{
		Mode: models.ModelModeCombined,
		Models: []models.ModelSpec{
			{Name: "zscore", Enabled: true, Params: map[string]float64{"threshold": 2}},
			{Name: "unknown", Enabled: true},
		},
	})

	assert.Equal(t, models.ModelModeCombined, merged.Mode)
	require.Len(t, merged.Models, 3)
	assert.Equal(t, 2.0, merged.Models[0].Params["threshold"])
	assert.False(t, merged.Models[1].Enabled)

	defaults := MergeConfig(models.ModelConfig{})
	assert.Equal(t, models.ModelModeAny, defaults.Mode)
	assert.Equal(t, 3.0, defaults.Models[0].Params["threshold"])
}

func TestLocal_ZScore(t *testing.T) {
	scorer := NewLocal()
	ctx := context.Background()

	tests := []struct {
		name    string
		history []Point
		want    bool
	}{
		{"spike", series(10, 12, 11, 9, 10, 11, 10, 12, 9, 100), true},
		{"steady", series(10, 12, 11, 9, 10, 11, 10, 12, 9, 11), false},
		{"flat baseline never fires", series(10, 10, 10, 10, 500), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := tt.history[len(tt.history)-1]
			result, err := scorer.Score(ctx, tt.history, current, models.DefaultModelConfig())
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.IsAnomalous)
			assert.Equal(t, current.Count, result.Count)
			assert.Contains(t, result.Details, "zscore")
		})
	}
}

func TestLocal_ExcludesCurrentFromBaseline(t *testing.T) {
	history := series(10, 11, 9, 10, 11, 9, 10)
	current := Point{Count: 40, TSBucket: 7 * 60}

	// current passed separately and also appended must score the same
	separate, err := NewLocal().Score(context.Background(), history, current, models.ModelConfig{})
	require.NoError(t, err)
	appended, err := NewLocal().Score(context.Background(), append(history, current), current, models.ModelConfig{})
	require.NoError(t, err)

	assert.True(t, separate.IsAnomalous)
	assert.Equal(t, separate.Details["zscore"]["zscore"], appended.Details["zscore"]["zscore"])
}

func TestLocal_CombinedMode(t *testing.T) {
	cfg := models.ModelConfig{Mode: models.ModelModeCombined}
	history := series(10, 12, 11, 9, 10, 11, 10, 12, 9, 100)

	result, err := NewLocal().Score(context.Background(), history, history[len(history)-1], cfg)
	require.NoError(t, err)
	assert.True(t, result.IsAnomalous)
}

func TestLocal_UnsupportedModel(t *testing.T) {
	cfg := models.ModelConfig{Models: []models.ModelSpec{{Name: "isolation_forest", Enabled: true}}}
	history := series(1, 2, 3)

	_, err := NewLocal().Score(context.Background(), history, history[2], cfg)
	assert.True(t, errors.Is(err, ErrUnsupportedModel))
}

func TestHTTPScorer(t *testing.T) {
	var got detectRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/detect_anomaly", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"is_anomalous": true, "count": 42, "ts_bucket": 120, "details": {"zscore": {"zscore": 4.2}}}`))
	}))
	defer srv.Close()

	scorer := NewHTTPScorer(srv.URL+"/", 0)
	history := series(1, 2, 42)
	result, err := scorer.Score(context.Background(), history, history[2], models.DefaultModelConfig())
	require.NoError(t, err)

	assert.True(t, result.IsAnomalous)
	assert.Equal(t, 4.2, result.Details["zscore"]["zscore"])
	assert.Len(t, got.History, 3)
	assert.Equal(t, 42.0, got.Current.Count)
}

func TestHTTPScorer_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPScorer(srv.URL, 0).Score(context.Background(), nil, Point{}, models.ModelConfig{})
	assert.Error(t, err)
}
