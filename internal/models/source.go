package models

import "time"

// AggFn is a series aggregation function.
type AggFn string

const (
	AggCount         AggFn = "count"
	AggCountDistinct AggFn = "count_distinct"
	AggSum           AggFn = "sum"
	AggAvg           AggFn = "avg"
	AggMin           AggFn = "min"
	AggMax           AggFn = "max"
	AggP50           AggFn = "p50"
	AggP90           AggFn = "p90"
	AggP95           AggFn = "p95"
	AggP99           AggFn = "p99"
)

// Series is a declarative aggregate over a source table.
type Series struct {
	AggFn AggFn `json:"agg_fn"`
	// Field is the aggregated column; unused for count.
	Field string `json:"field,omitempty"`
	// Where is a filter expression in the query language.
	Where string `json:"where,omitempty"`
}

// FieldKind is the data type of a source column.
type FieldKind string

const (
	FieldKindString FieldKind = "string"
	FieldKindInt    FieldKind = "int"
	FieldKindFloat  FieldKind = "float"
	FieldKindTime   FieldKind = "time"
	FieldKindMap    FieldKind = "map"
)

// SourceField describes one queryable column of a source table.
type SourceField struct {
	Name   string    `json:"name"`
	Column string    `json:"column,omitempty"`
	Kind   FieldKind `json:"kind"`
}

// Source is a telemetry table reachable through a connection.
type Source struct {
	ID              string        `json:"id"`
	TeamID          string        `json:"team_id"`
	Name            string        `json:"name"`
	ConnectionID    string        `json:"connection_id"`
	Database        string        `json:"database"`
	Table           string        `json:"table"`
	TimestampColumn string        `json:"timestamp_column"`
	// DefaultSelect lists the columns rendered in notification samples.
	DefaultSelect string        `json:"default_select,omitempty"`
	Fields        []SourceField `json:"fields,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SavedSearch is a persisted filter over a source.
type SavedSearch struct {
	ID       string    `json:"id"`
	TeamID   string    `json:"team_id"`
	Name     string    `json:"name"`
	SourceID string    `json:"source_id"`
	Where    string    `json:"where,omitempty"`
	Select   string    `json:"select,omitempty"`
	OrderBy  string    `json:"order_by,omitempty"`
	Created  time.Time `json:"created_at"`
}

// Tile is one chart placed on a dashboard.
type Tile struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	SourceID string   `json:"source_id"`
	Series   []Series `json:"series"`
	GroupBy  string   `json:"group_by,omitempty"`
}

// Dashboard groups tiles.
type Dashboard struct {
	ID      string    `json:"id"`
	TeamID  string    `json:"team_id"`
	Name    string    `json:"name"`
	Tiles   []Tile    `json:"tiles"`
	Created time.Time `json:"created_at"`
}

// Tile returns the tile with the given id.
func (d *Dashboard) Tile(id string) (*Tile, bool) {
	for i := range d.Tiles {
		if d.Tiles[i].ID == id {
			return &d.Tiles[i], true
		}
	}
	return nil, false
}
