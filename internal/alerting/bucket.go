package alerting

import (
	"sort"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// maxCatchUpWindows bounds how many missed windows a threshold alert reads.
const maxCatchUpWindows = 50

// RoundDown truncates now to the most recent multiple of intervalMinutes since
// the Unix epoch, in UTC.
func RoundDown(now time.Time, intervalMinutes int) time.Time {
	if intervalMinutes <= 0 {
		return now.UTC()
	}
	step := int64(intervalMinutes) * time.Minute.Milliseconds()
	ms := now.UnixMilli()
	return time.UnixMilli(ms - ms%step).UTC()
}

// thresholdRange returns the query range for a threshold alert. It resumes
// from the previous bucket when one exists, capped at maxCatchUpWindows.
func thresholdRange(bucketStart time.Time, interval time.Duration, previous *models.AlertHistory) (time.Time, time.Time) {
	start := bucketStart.Add(-interval)
	if previous != nil && previous.CreatedAt.Before(start) {
		start = previous.CreatedAt
	}
	if earliest := bucketStart.Add(-maxCatchUpWindows * interval); start.Before(earliest) {
		start = earliest
	}
	return start, bucketStart
}

// groupState accumulates one group's outcome across the buckets of a run.
type groupState struct {
	history *models.AlertHistory
	// fired is the last bucket that met the condition.
	fired    *models.LastValue
	previous models.AlertState
}

// groupAccumulator collects per-group results keyed by (alert, group). It is
// owned by a single evaluation.
type groupAccumulator struct {
	alertID     string
	bucketStart time.Time
	groups      map[models.HistoryKey]*groupState
}

func newGroupAccumulator(alertID string, bucketStart time.Time) *groupAccumulator {
	return &groupAccumulator{
		alertID:     alertID,
		bucketStart: bucketStart,
		groups:      make(map[models.HistoryKey]*groupState),
	}
}

// get returns the group's state, creating an OK row on first use.
func (a *groupAccumulator) get(group string, previous map[models.HistoryKey]*models.AlertHistory) *groupState {
	key := models.HistoryKey{AlertID: a.alertID, Group: group}
	if g, ok := a.groups[key]; ok {
		return g
	}
	g := &groupState{
		history:  models.NewAlertHistory(a.alertID, group, a.bucketStart),
		previous: models.AlertStateOK,
	}
	if prev, ok := previous[key]; ok {
		g.previous = prev.State
	}
	a.groups[key] = g
	return g
}

// observe adds one bucket value to the group.
func (a *groupAccumulator) observe(group string, bucket time.Time, value float64, firing bool, previous map[models.HistoryKey]*models.AlertHistory) {
	g := a.get(group, previous)
	lv := models.LastValue{Count: value, StartTime: bucket}
	g.history.LastValues = append(g.history.LastValues, lv)
	g.history.Counts += value
	if firing {
		g.history.State = models.AlertStateAlert
		g.fired = &lv
	}
}

// sorted returns the groups ordered by name.
func (a *groupAccumulator) sorted() []*groupState {
	out := make([]*groupState, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].history.Group < out[j].history.Group })
	return out
}
