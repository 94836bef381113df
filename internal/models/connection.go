package models

import (
	"time"
)

// ConnectionType represents the kind of telemetry backend.
type ConnectionType string

const (
	ConnectionTypeClickHouse ConnectionType = "clickhouse"
)

// Connection is a team-owned telemetry backend with credentials.
type Connection struct {
	ID       string         `json:"id"`
	TeamID   string         `json:"team_id"`
	Name     string         `json:"name"`
	Type     ConnectionType `json:"type"`
	Host     string         `json:"host"`
	Username string         `json:"username,omitempty"`
	// Password is populated only after decryption and never serialized.
	Password             string    `json:"-"`
	CredentialsEncrypted []byte    `json:"-"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// NewConnection creates a new ClickHouse Connection with initialized timestamps.
func NewConnection(teamID, name, host string) *Connection {
	now := time.Now()
	return &Connection{
		TeamID:    teamID,
		Name:      name,
		Type:      ConnectionTypeClickHouse,
		Host:      host,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ParseConnectionType converts a string to ConnectionType.
func ParseConnectionType(s string) ConnectionType {
	switch s {
	case "clickhouse":
		return ConnectionTypeClickHouse
	default:
		return ConnectionTypeClickHouse
	}
}
