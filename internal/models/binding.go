package models

import (
	"encoding/json"
	"fmt"
)

// SourceKind tags the variant of an alert's source binding.
type SourceKind string

const (
	SourceKindSavedSearch SourceKind = "saved_search"
	SourceKindTile        SourceKind = "tile"
	SourceKindCustom      SourceKind = "custom"
	SourceKindChart       SourceKind = "chart"
)

// AlertSource is the closed set of things an alert can watch.
// Implementations: *SavedSearchSource, *TileSource, *CustomSource, *ChartSource.
type AlertSource interface {
	Kind() SourceKind
	validate() error
}

// SavedSearchSource counts the rows matching a saved search.
type SavedSearchSource struct {
	SavedSearchID string `json:"saved_search_id"`
}

func (*SavedSearchSource) Kind() SourceKind { return SourceKindSavedSearch }

func (s *SavedSearchSource) validate() error {
	if s.SavedSearchID == "" {
		return fmt.Errorf("saved search id is required")
	}
	return nil
}

// TileSource evaluates the first series of a dashboard tile.
type TileSource struct {
	DashboardID string `json:"dashboard_id"`
	TileID      string `json:"tile_id"`
}

func (*TileSource) Kind() SourceKind { return SourceKindTile }

func (s *TileSource) validate() error {
	if s.DashboardID == "" || s.TileID == "" {
		return fmt.Errorf("dashboard id and tile id are required")
	}
	return nil
}

// CustomSource carries an inline series definition against a source table.
type CustomSource struct {
	SourceID string   `json:"source_id"`
	Series   []Series `json:"series"`
}

func (*CustomSource) Kind() SourceKind { return SourceKindCustom }

func (s *CustomSource) validate() error {
	if s.SourceID == "" {
		return fmt.Errorf("source id is required")
	}
	if len(s.Series) != 1 {
		return fmt.Errorf("custom source must define exactly one series, got %d", len(s.Series))
	}
	return nil
}

// ChartSource references a single-series chart on a dashboard.
type ChartSource struct {
	DashboardID string `json:"dashboard_id"`
	ChartID     string `json:"chart_id"`
}

func (*ChartSource) Kind() SourceKind { return SourceKindChart }

func (s *ChartSource) validate() error {
	if s.DashboardID == "" || s.ChartID == "" {
		return fmt.Errorf("dashboard id and chart id are required")
	}
	return nil
}

// CheckerKind tags the variant of an alert's evaluation policy.
type CheckerKind string

const (
	CheckerKindThreshold CheckerKind = "threshold"
	CheckerKindAnomaly   CheckerKind = "anomaly"
)

// EvaluationPolicy is the closed set of decision rules.
// Implementations: *ThresholdPolicy, *AnomalyPolicy.
type EvaluationPolicy interface {
	Kind() CheckerKind
	validate() error
}

// ThresholdType is the comparison direction of a threshold alert.
type ThresholdType string

const (
	ThresholdAbove ThresholdType = "above"
	ThresholdBelow ThresholdType = "below"
)

// ThresholdPolicy fires when a bucket aggregate crosses a fixed bound.
type ThresholdPolicy struct {
	Type      ThresholdType `json:"type"`
	Threshold float64       `json:"threshold"`
}

func (*ThresholdPolicy) Kind() CheckerKind { return CheckerKindThreshold }

func (p *ThresholdPolicy) validate() error {
	switch p.Type {
	case ThresholdAbove, ThresholdBelow:
		return nil
	default:
		return fmt.Errorf("invalid threshold type %q", p.Type)
	}
}

// Exceeds reports whether value meets the firing condition.
func (p *ThresholdPolicy) Exceeds(value float64) bool {
	if p.Type == ThresholdBelow {
		return value < p.Threshold
	}
	return value >= p.Threshold
}

// ModelMode controls how enabled anomaly models are combined.
type ModelMode string

const (
	// ModelModeAny flags an anomaly when any enabled model does.
	ModelModeAny ModelMode = "any"
	// ModelModeCombined requires every enabled model to agree.
	ModelModeCombined ModelMode = "combined"
)

// ModelSpec configures one anomaly model.
type ModelSpec struct {
	Name    string             `json:"name"`
	Enabled bool               `json:"enabled"`
	Params  map[string]float64 `json:"params,omitempty"`
}

// ModelConfig is the anomaly model configuration handed to the scorer.
type ModelConfig struct {
	Mode   ModelMode   `json:"mode"`
	Models []ModelSpec `json:"models"`
}

// DefaultModelConfig returns a single z-score model with threshold 3.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Mode: ModelModeAny,
		Models: []ModelSpec{
			{Name: "zscore", Enabled: true, Params: map[string]float64{"threshold": 3}},
		},
	}
}

// AnomalyPolicy fires when the scoring function flags the current bucket.
type AnomalyPolicy struct {
	// HistoryWindow is the lookback in minutes.
	HistoryWindow int         `json:"history_window"`
	Model         ModelConfig `json:"model"`
}

func (*AnomalyPolicy) Kind() CheckerKind { return CheckerKindAnomaly }

func (p *AnomalyPolicy) validate() error {
	if p.HistoryWindow <= 0 {
		return fmt.Errorf("anomaly alerts require a positive history window")
	}
	switch p.Model.Mode {
	case "", ModelModeAny, ModelModeCombined:
	default:
		return fmt.Errorf("invalid model mode %q", p.Model.Mode)
	}
	return nil
}

// EncodeSource serializes a source binding into its tag and JSON body.
func EncodeSource(s AlertSource) (SourceKind, []byte, error) {
	if s == nil {
		return "", nil, fmt.Errorf("nil source")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", nil, fmt.Errorf("marshal source: %w", err)
	}
	return s.Kind(), data, nil
}

// DecodeSource rebuilds a source binding from its tag and JSON body.
func DecodeSource(kind SourceKind, data []byte) (AlertSource, error) {
	var s AlertSource
	switch kind {
	case SourceKindSavedSearch:
		s = &SavedSearchSource{}
	case SourceKindTile:
		s = &TileSource{}
	case SourceKindCustom:
		s = &CustomSource{}
	case SourceKindChart:
		s = &ChartSource{}
	default:
		return nil, fmt.Errorf("unsupported source kind %q", kind)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("unmarshal %s source: %w", kind, err)
	}
	return s, nil
}

// EncodePolicy serializes an evaluation policy into its tag and JSON body.
func EncodePolicy(p EvaluationPolicy) (CheckerKind, []byte, error) {
	if p == nil {
		return "", nil, fmt.Errorf("nil policy")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("marshal policy: %w", err)
	}
	return p.Kind(), data, nil
}

// DecodePolicy rebuilds an evaluation policy from its tag and JSON body.
func DecodePolicy(kind CheckerKind, data []byte) (EvaluationPolicy, error) {
	var p EvaluationPolicy
	switch kind {
	case CheckerKindThreshold:
		p = &ThresholdPolicy{}
	case CheckerKindAnomaly:
		p = &AnomalyPolicy{}
	default:
		return nil, fmt.Errorf("unsupported checker kind %q", kind)
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("unmarshal %s policy: %w", kind, err)
	}
	return p, nil
}
