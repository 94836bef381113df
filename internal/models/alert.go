// Package models defines domain models for BlazeAlert.
package models

import (
	"fmt"
	"time"
)

// AlertState represents the runtime state of an alert.
type AlertState string

const (
	AlertStateOK       AlertState = "OK"
	AlertStateAlert    AlertState = "ALERT"
	AlertStateDisabled AlertState = "DISABLED"
)

// ParseAlertState converts a string to AlertState.
func ParseAlertState(s string) AlertState {
	switch s {
	case "ALERT":
		return AlertStateAlert
	case "DISABLED":
		return AlertStateDisabled
	default:
		return AlertStateOK
	}
}

// AlertInterval is one of the fixed evaluation cadences.
type AlertInterval string

const (
	Interval1m  AlertInterval = "1m"
	Interval5m  AlertInterval = "5m"
	Interval15m AlertInterval = "15m"
	Interval30m AlertInterval = "30m"
	Interval1h  AlertInterval = "1h"
	Interval6h  AlertInterval = "6h"
	Interval12h AlertInterval = "12h"
	Interval1d  AlertInterval = "1d"
)

var intervalMinutes = map[AlertInterval]int{
	Interval1m:  1,
	Interval5m:  5,
	Interval15m: 15,
	Interval30m: 30,
	Interval1h:  60,
	Interval6h:  360,
	Interval12h: 720,
	Interval1d:  1440,
}

// Minutes returns the interval length in minutes, or 0 if the interval is unknown.
func (i AlertInterval) Minutes() int {
	return intervalMinutes[i]
}

// Duration returns the interval as a time.Duration.
func (i AlertInterval) Duration() time.Duration {
	return time.Duration(i.Minutes()) * time.Minute
}

// Valid reports whether the interval is one of the supported values.
func (i AlertInterval) Valid() bool {
	_, ok := intervalMinutes[i]
	return ok
}

// ChannelType identifies a notification channel kind.
type ChannelType string

const (
	ChannelTypeWebhook ChannelType = "webhook"
)

// Channel binds an alert to a notification destination.
type Channel struct {
	Type      ChannelType `json:"type"`
	WebhookID string      `json:"webhook_id,omitempty"`
}

// Silenced records a temporary suppression of notifications.
type Silenced struct {
	By    string    `json:"by"`
	At    time.Time `json:"at"`
	Until time.Time `json:"until"`
}

// Active reports whether the silence is still in effect at now.
func (s *Silenced) Active(now time.Time) bool {
	return s != nil && s.Until.After(now)
}

// Alert is a persisted monitoring rule.
type Alert struct {
	ID       string `json:"id"`
	TeamID   string `json:"team_id"`
	IsSystem bool   `json:"is_system"`

	// Name and Message are optional notification templates.
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`

	Source   AlertSource      `json:"-"`
	Policy   EvaluationPolicy `json:"-"`
	Interval AlertInterval    `json:"interval"`
	// GroupBy is an optional dimension expression evaluated per group.
	GroupBy string  `json:"group_by,omitempty"`
	Channel Channel `json:"channel"`

	State    AlertState `json:"state"`
	Silenced *Silenced  `json:"silenced,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAlert creates a new Alert in the OK state with initialized timestamps.
func NewAlert(teamID string, source AlertSource, policy EvaluationPolicy, interval AlertInterval) *Alert {
	now := time.Now()
	return &Alert{
		TeamID:    teamID,
		Source:    source,
		Policy:    policy,
		Interval:  interval,
		Channel:   Channel{Type: ChannelTypeWebhook},
		State:     AlertStateOK,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks that the source binding and evaluation policy are consistent.
func (a *Alert) Validate() error {
	if a.TeamID == "" {
		return fmt.Errorf("team id is required")
	}
	if !a.Interval.Valid() {
		return fmt.Errorf("invalid interval %q", a.Interval)
	}
	if a.Source == nil {
		return fmt.Errorf("source binding is required")
	}
	if err := a.Source.validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if a.Policy == nil {
		return fmt.Errorf("evaluation policy is required")
	}
	if err := a.Policy.validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	if _, ok := a.Policy.(*AnomalyPolicy); ok {
		if c, ok := a.Source.(*CustomSource); ok && len(c.Series) != 1 {
			return fmt.Errorf("anomaly alerts require exactly one series, got %d", len(c.Series))
		}
	}
	switch a.Channel.Type {
	case ChannelTypeWebhook:
		if a.Channel.WebhookID == "" {
			return fmt.Errorf("webhook channel requires a webhook id")
		}
	default:
		return fmt.Errorf("unsupported channel type %q", a.Channel.Type)
	}
	return nil
}

// IsSilenced reports whether notifications are suppressed at now.
func (a *Alert) IsSilenced(now time.Time) bool {
	return a.Silenced.Active(now)
}
