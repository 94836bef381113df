package anomaly

import (
	"context"
	"fmt"
	"math"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Local evaluates the z-score model in process.
type Local struct{}

// NewLocal creates an in-process scorer.
func NewLocal() *Local {
	return &Local{}
}

type zscoreResult struct {
	isAnomalous bool
	zscore      float64
	mean        float64
	stdv        float64
	threshold   float64
}

// Score implements Scorer. When current is history's last point it is left
// out of the baseline.
func (l *Local) Score(ctx context.Context, history []Point, current Point, cfg models.ModelConfig) (*Result, error) {
	cfg = MergeConfig(cfg)

	baseline := make([]float64, 0, len(history))
	for i, p := range history {
		if i == len(history)-1 && p.TSBucket == current.TSBucket {
			break
		}
		baseline = append(baseline, p.Count)
	}

	var z []zscoreResult
	enabled := 0
	for _, m := range cfg.Models {
		if !m.Enabled {
			continue
		}
		enabled++
		switch m.Name {
		case "zscore":
			threshold, ok := m.Params["threshold"]
			if !ok {
				threshold = 3
			}
			z = zscores(baseline, current.Count, threshold)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, m.Name)
		}
	}

	result := &Result{
		Count:    current.Count,
		TSBucket: current.TSBucket,
		Details:  map[string]map[string]any{},
	}
	if z == nil {
		return result, nil
	}

	last := z[len(z)-1]
	result.Details["zscore"] = map[string]any{
		"is_anomalous": last.isAnomalous,
		"zscore":       last.zscore,
		"mean":         last.mean,
		"stdv":         last.stdv,
		"threshold":    last.threshold,
	}

	switch cfg.Mode {
	case models.ModelModeCombined:
		// Scores are normalized by the series maximum and averaged over
		// every enabled model.
		maxZ := 0.0
		for _, r := range z {
			maxZ = math.Max(maxZ, r.zscore)
		}
		normalized := 0.0
		if maxZ > 0 {
			normalized = last.zscore / maxZ
		}
		result.IsAnomalous = normalized/float64(enabled) > 0.5
	default:
		result.IsAnomalous = last.isAnomalous
	}
	return result, nil
}

// zscores scores every baseline point against the baseline and appends the
// score of current.
func zscores(baseline []float64, current, threshold float64) []zscoreResult {
	mean, stdv := meanStdv(baseline)

	out := make([]zscoreResult, 0, len(baseline)+1)
	score := func(v float64) zscoreResult {
		r := zscoreResult{mean: mean, stdv: stdv, threshold: threshold}
		if stdv != 0 {
			r.zscore = math.Abs((v - mean) / stdv)
		}
		r.isAnomalous = r.zscore > threshold
		return r
	}
	for _, v := range baseline {
		out = append(out, score(v))
	}
	return append(out, score(current))
}

// meanStdv returns the mean and population standard deviation.
func meanStdv(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(variance / float64(len(values)))
}
