package models

import (
	"testing"
	"time"
)

func TestAlertInterval_Minutes(t *testing.T) {
	tests := []struct {
		interval AlertInterval
		want     int
		valid    bool
	}{
		{Interval1m, 1, true},
		{Interval5m, 5, true},
		{Interval15m, 15, true},
		{Interval30m, 30, true},
		{Interval1h, 60, true},
		{Interval6h, 360, true},
		{Interval12h, 720, true},
		{Interval1d, 1440, true},
		{AlertInterval("2m"), 0, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.interval), func(t *testing.T) {
			if got := tt.interval.Minutes(); got != tt.want {
				t.Errorf("Minutes() = %d, want %d", got, tt.want)
			}
			if got := tt.interval.Valid(); got != tt.valid {
				t.Errorf("Valid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestThresholdPolicy_Exceeds(t *testing.T) {
	tests := []struct {
		name   string
		policy ThresholdPolicy
		value  float64
		want   bool
	}{
		{"above equal fires", ThresholdPolicy{Type: ThresholdAbove, Threshold: 1}, 1, true},
		{"above greater fires", ThresholdPolicy{Type: ThresholdAbove, Threshold: 1}, 2, true},
		{"above less ok", ThresholdPolicy{Type: ThresholdAbove, Threshold: 1}, 0, false},
		{"below less fires", ThresholdPolicy{Type: ThresholdBelow, Threshold: 1}, 0, true},
		{"below equal ok", ThresholdPolicy{Type: ThresholdBelow, Threshold: 1}, 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Exceeds(tt.value); got != tt.want {
				t.Errorf("Exceeds(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestAlert_Validate(t *testing.T) {
	threshold := &ThresholdPolicy{Type: ThresholdAbove, Threshold: 1}
	anomaly := &AnomalyPolicy{HistoryWindow: 60, Model: DefaultModelConfig()}
	oneSeries := []Series{{AggFn: AggCount}}

	tests := []struct {
		name    string
		alert   *Alert
		wantErr bool
	}{
		{
			name:  "valid saved search threshold",
			alert: newTestAlert(&SavedSearchSource{SavedSearchID: "s1"}, threshold),
		},
		{
			name:    "missing saved search id",
			alert:   newTestAlert(&SavedSearchSource{}, threshold),
			wantErr: true,
		},
		{
			name:    "tile without tile id",
			alert:   newTestAlert(&TileSource{DashboardID: "d1"}, threshold),
			wantErr: true,
		},
		{
			name:  "custom anomaly single series",
			alert: newTestAlert(&CustomSource{SourceID: "src", Series: oneSeries}, anomaly),
		},
		{
			name: "custom with two series",
			alert: newTestAlert(&CustomSource{SourceID: "src", Series: []Series{
				{AggFn: AggCount}, {AggFn: AggSum, Field: "bytes"},
			}}, threshold),
			wantErr: true,
		},
		{
			name:    "anomaly without history window",
			alert:   newTestAlert(&ChartSource{DashboardID: "d", ChartID: "c"}, &AnomalyPolicy{}),
			wantErr: true,
		},
		{
			name:    "nil policy",
			alert:   newTestAlert(&ChartSource{DashboardID: "d", ChartID: "c"}, nil),
			wantErr: true,
		},
		{
			name:    "bad threshold type",
			alert:   newTestAlert(&ChartSource{DashboardID: "d", ChartID: "c"}, &ThresholdPolicy{Type: "sideways"}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.alert.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAlert_ValidateInterval(t *testing.T) {
	a := newTestAlert(&SavedSearchSource{SavedSearchID: "s1"}, &ThresholdPolicy{Type: ThresholdAbove})
	a.Interval = "7m"
	if err := a.Validate(); err == nil {
		t.Error("expected error for unsupported interval")
	}
}

func TestSourceCodec_RoundTripsEveryKind(t *testing.T) {
	sources := []AlertSource{
		&SavedSearchSource{SavedSearchID: "s1"},
		&TileSource{DashboardID: "d1", TileID: "t1"},
		&CustomSource{SourceID: "src", Series: []Series{{AggFn: AggAvg, Field: "duration", Where: `level == "error"`}}},
		&ChartSource{DashboardID: "d1", ChartID: "c1"},
	}

	for _, src := range sources {
		t.Run(string(src.Kind()), func(t *testing.T) {
			kind, data, err := EncodeSource(src)
			if err != nil {
				t.Fatalf("EncodeSource: %v", err)
			}
			got, err := DecodeSource(kind, data)
			if err != nil {
				t.Fatalf("DecodeSource: %v", err)
			}
			if got.Kind() != src.Kind() {
				t.Errorf("kind = %s, want %s", got.Kind(), src.Kind())
			}
		})
	}

	if _, err := DecodeSource("unknown", []byte(`{}`)); err == nil {
		t.Error("expected error for unknown source kind")
	}
}

func TestPolicyCodec(t *testing.T) {
	kind, data, err := EncodePolicy(&AnomalyPolicy{HistoryWindow: 30, Model: DefaultModelConfig()})
	if err != nil {
		t.Fatalf("EncodePolicy: %v", err)
	}
	p, err := DecodePolicy(kind, data)
	if err != nil {
		t.Fatalf("DecodePolicy: %v", err)
	}
	anomaly, ok := p.(*AnomalyPolicy)
	if !ok {
		t.Fatalf("decoded %T, want *AnomalyPolicy", p)
	}
	if anomaly.HistoryWindow != 30 {
		t.Errorf("HistoryWindow = %d, want 30", anomaly.HistoryWindow)
	}
	if len(anomaly.Model.Models) != 1 || anomaly.Model.Models[0].Params["threshold"] != 3 {
		t.Errorf("model config not preserved: %+v", anomaly.Model)
	}
}

func TestSilenced_Active(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	var nilSilence *Silenced
	if nilSilence.Active(now) {
		t.Error("nil silence should not be active")
	}

	s := &Silenced{By: "token", At: now, Until: now.Add(30 * time.Minute)}
	if !s.Active(now) {
		t.Error("silence should be active before until")
	}
	if s.Active(now.Add(30 * time.Minute)) {
		t.Error("silence should expire at until")
	}
}

func TestDashboard_Tile(t *testing.T) {
	d := &Dashboard{Tiles: []Tile{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}}
	tile, ok := d.Tile("b")
	if !ok || tile.Name != "B" {
		t.Errorf("Tile(b) = %+v, %v", tile, ok)
	}
	if _, ok := d.Tile("missing"); ok {
		t.Error("expected missing tile")
	}
}

func newTestAlert(source AlertSource, policy EvaluationPolicy) *Alert {
	a := NewAlert("team-1", source, policy, Interval5m)
	a.Channel.WebhookID = "wh-1"
	return a
}
