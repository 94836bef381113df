package models

import "time"

// LastValue is one sub-bucket observed during an evaluation.
type LastValue struct {
	Count     float64   `json:"count"`
	StartTime time.Time `json:"start_time"`
}

// AlertHistory records the outcome of one evaluation window for one alert group.
type AlertHistory struct {
	ID      string `json:"id"`
	AlertID string `json:"alert_id"`
	// Group is empty for ungrouped alerts.
	Group string `json:"group,omitempty"`
	// CreatedAt is the bucket start, not wall-clock time.
	CreatedAt  time.Time   `json:"created_at"`
	State      AlertState  `json:"state"`
	Counts     float64     `json:"counts"`
	LastValues []LastValue `json:"last_values"`
}

// NewAlertHistory creates an OK history row for the given bucket.
func NewAlertHistory(alertID, group string, bucketStart time.Time) *AlertHistory {
	return &AlertHistory{
		AlertID:    alertID,
		Group:      group,
		CreatedAt:  bucketStart,
		State:      AlertStateOK,
		LastValues: []LastValue{},
	}
}

// HistoryKey identifies the state lineage of one alert group.
type HistoryKey struct {
	AlertID string
	Group   string
}

// String returns the "alertId||group" form used in logs.
func (k HistoryKey) String() string {
	return k.AlertID + "||" + k.Group
}

// Key returns the lineage key of this history row.
func (h *AlertHistory) Key() HistoryKey {
	return HistoryKey{AlertID: h.AlertID, Group: h.Group}
}
