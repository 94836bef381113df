package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/notifier"
	"github.com/good-yellow-bee/blazealert/internal/provider"
	"github.com/good-yellow-bee/blazealert/internal/telemetry"
)

// checkThreshold compares each bucket of each group against the policy.
func (e *Engine) checkThreshold(ctx context.Context, j job, policy *models.ThresholdPolicy, bucketStart time.Time) (*evaluation, error) {
	d := j.details
	series, err := d.Series()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	interval := d.Alert.Interval.Duration()
	start, end := thresholdRange(bucketStart, interval, d.Previous)
	groupBy := d.GroupBy()

	rows, err := j.client.QuerySeries(ctx, &telemetry.SeriesQuery{
		Source:      d.Source,
		Series:      series,
		GroupBy:     groupBy,
		Start:       start,
		End:         end,
		Granularity: interval,
		Fill:        groupBy == "",
	})
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}

	acc := newGroupAccumulator(d.Alert.ID, bucketStart)
	for _, row := range rows {
		acc.observe(row.Group, row.Bucket, row.Value, policy.Exceeds(row.Value), d.PreviousByGroup)
	}

	// Groups that were alerting but returned no data resolve.
	for key, prev := range d.PreviousByGroup {
		if prev.State == models.AlertStateAlert {
			acc.get(key.Group, d.PreviousByGroup)
		}
	}

	result := &evaluation{}
	if len(acc.groups) == 0 {
		result.histories = append(result.histories, models.NewAlertHistory(d.Alert.ID, "", bucketStart))
		return result, nil
	}

	for _, g := range acc.sorted() {
		result.histories = append(result.histories, g.history)
		switch {
		case g.fired != nil:
			result.events = append(result.events, thresholdEvent(d, g, models.AlertStateAlert, interval, start, end))
		case g.previous == models.AlertStateAlert:
			result.events = append(result.events, thresholdEvent(d, g, models.AlertStateOK, interval, start, end))
		}
	}
	return result, nil
}

func thresholdEvent(d *provider.AlertDetails, g *groupState, state models.AlertState, interval time.Duration, start, end time.Time) *notifier.Event {
	ev := &notifier.Event{
		Group:       g.history.Group,
		State:       state,
		Start:       start,
		End:         end,
		Granularity: interval,
		Value:       g.history.Counts,
	}
	if g.fired != nil {
		ev.Value = g.fired.Count
		ev.Start = g.fired.StartTime
		ev.End = g.fired.StartTime.Add(interval)
	}
	return ev
}
