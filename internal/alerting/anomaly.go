package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/anomaly"
	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/notifier"
	"github.com/good-yellow-bee/blazealert/internal/telemetry"
)

const (
	// availabilityThreshold is the minimum fraction of non-zero buckets.
	availabilityThreshold = 0.5
	// countThreshold is the minimum value of the current bucket.
	countThreshold = 10
)

// dataAvailability returns the fraction of rows with a non-zero value.
func dataAvailability(rows []telemetry.Row) float64 {
	if len(rows) == 0 {
		return 0
	}
	nonZero := 0
	for _, r := range rows {
		if r.Value != 0 {
			nonZero++
		}
	}
	return float64(nonZero) / float64(len(rows))
}

// checkAnomaly scores the newest bucket of the history window.
func (e *Engine) checkAnomaly(ctx context.Context, j job, policy *models.AnomalyPolicy, bucketStart time.Time) (*evaluation, error) {
	d := j.details
	if n := d.SeriesCount(); n != 1 {
		return nil, fmt.Errorf("%w: anomaly alerts require exactly one series, got %d", ErrConfig, n)
	}
	if e.scorer == nil {
		return nil, fmt.Errorf("%w: no anomaly scorer configured", ErrConfig)
	}
	series, err := d.Series()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	interval := d.Alert.Interval.Duration()
	start := bucketStart.Add(-time.Duration(policy.HistoryWindow) * time.Minute)
	rows, err := j.client.QuerySeries(ctx, &telemetry.SeriesQuery{
		Source:      d.Source,
		Series:      series,
		Start:       start,
		End:         bucketStart,
		Granularity: interval,
		Fill:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}

	history := models.NewAlertHistory(d.Alert.ID, "", bucketStart)
	result := &evaluation{histories: []*models.AlertHistory{history}}
	if len(rows) == 0 {
		return result, nil
	}

	current := rows[len(rows)-1]
	history.Counts = current.Value
	history.LastValues = append(history.LastValues, models.LastValue{Count: current.Value, StartTime: current.Bucket})

	key := models.HistoryKey{AlertID: d.Alert.ID}
	wasAlerting := false
	if prev, ok := d.PreviousByGroup[key]; ok {
		wasAlerting = prev.State == models.AlertStateAlert
	}
	resolve := func() *evaluation {
		if wasAlerting {
			result.events = append(result.events, anomalyEvent(history, models.AlertStateOK, nil, current, interval))
		}
		return result
	}

	availability := dataAvailability(rows)
	if availability < availabilityThreshold || current.Value < countThreshold {
		e.logger.Debug().
			Str("alert_id", d.Alert.ID).
			Float64("availability", availability).
			Float64("current", current.Value).
			Msg("insufficient signal for anomaly detection")
		return resolve(), nil
	}

	points := make([]anomaly.Point, len(rows))
	for i, r := range rows {
		points[i] = anomaly.Point{Count: r.Value, TSBucket: r.Bucket.Unix()}
	}
	score, err := e.scorer.Score(ctx, points, points[len(points)-1], anomaly.MergeConfig(policy.Model))
	if err != nil {
		return nil, fmt.Errorf("score anomaly: %w", err)
	}
	if !score.IsAnomalous {
		return resolve(), nil
	}

	history.State = models.AlertStateAlert
	result.events = append(result.events, anomalyEvent(history, models.AlertStateAlert, score, current, interval))
	return result, nil
}

func anomalyEvent(h *models.AlertHistory, state models.AlertState, score *anomaly.Result, current telemetry.Row, interval time.Duration) *notifier.Event {
	return &notifier.Event{
		Group:       h.Group,
		State:       state,
		Value:       current.Value,
		Anomaly:     score,
		Start:       current.Bucket,
		End:         current.Bucket.Add(interval),
		Granularity: interval,
	}
}
