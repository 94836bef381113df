// Package anomaly scores the current bucket of a series against its history.
package anomaly

import (
	"context"
	"errors"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// ErrUnsupportedModel is returned when an enabled model cannot be evaluated.
var ErrUnsupportedModel = errors.New("unsupported anomaly model")

// Point is one bucket of a series.
type Point struct {
	Count float64 `json:"count"`
	// TSBucket is the bucket start in unix seconds.
	TSBucket int64 `json:"ts_bucket"`
}

// Result is the verdict for the current point.
type Result struct {
	IsAnomalous bool                      `json:"is_anomalous"`
	Count       float64                   `json:"count"`
	TSBucket    int64                     `json:"ts_bucket"`
	Details     map[string]map[string]any `json:"details"`
}

// Scorer decides whether current deviates from history. history may include
// current as its last element.
type Scorer interface {
	Score(ctx context.Context, history []Point, current Point, cfg models.ModelConfig) (*Result, error)
}

// MergeConfig overlays cfg onto the default model set: zscore enabled with
// threshold 3, change_point and isolation_forest disabled, mode any.
func MergeConfig(cfg models.ModelConfig) models.ModelConfig {
	merged := models.ModelConfig{
		Mode: models.ModelModeAny,
		Models: []models.ModelSpec{
			{Name: "zscore", Enabled: true, Params: map[string]float64{"threshold": 3}},
			{Name: "change_point", Enabled: false, Params: map[string]float64{"penalty": 10}},
			{Name: "isolation_forest", Enabled: false, Params: map[string]float64{"contamination": 0.05}},
		},
	}

	for _, user := range cfg.Models {
		for i := range merged.Models {
			if merged.Models[i].Name != user.Name {
				continue
			}
			merged.Models[i].Enabled = user.Enabled
			if user.Params != nil {
				params := make(map[string]float64, len(merged.Models[i].Params)+len(user.Params))
				for k, v := range merged.Models[i].Params {
					params[k] = v
				}
				for k, v := range user.Params {
					params[k] = v
				}
				merged.Models[i].Params = params
			}
		}
	}
	if cfg.Mode != "" {
		merged.Mode = cfg.Mode
	}
	return merged
}
