// Package telemetry queries aggregate series from a source's backing store.
package telemetry

import (
	"context"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Row is one aggregate bucket returned by the query engine.
type Row struct {
	Bucket time.Time
	Value  float64
	// Group is the rendered "key:value, key:value" label, empty when ungrouped.
	Group string
}

// SeriesQuery asks for one series bucketed by Granularity over [Start, End).
type SeriesQuery struct {
	Source      *models.Source
	Series      models.Series
	GroupBy     string
	Start       time.Time
	End         time.Time
	Granularity time.Duration
	// Fill zero-fills missing buckets. Ignored for grouped queries.
	Fill bool
}

// SampleQuery asks for a few rendered rows matching a filter.
type SampleQuery struct {
	Source *models.Source
	Where  string
	Select string
	Start  time.Time
	End    time.Time
	Limit  int
}

// Client executes queries against one connection.
type Client interface {
	QuerySeries(ctx context.Context, q *SeriesQuery) ([]Row, error)
	SampleRows(ctx context.Context, q *SampleQuery) ([]string, error)
	Close() error
}

// Factory opens a Client for a connection.
type Factory interface {
	Open(ctx context.Context, conn *models.Connection) (Client, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, conn *models.Connection) (Client, error)

// Open calls f.
func (f FactoryFunc) Open(ctx context.Context, conn *models.Connection) (Client, error) {
	return f(ctx, conn)
}
