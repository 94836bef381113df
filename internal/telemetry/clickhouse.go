package telemetry

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// ClickHouseConfig holds client settings shared by every connection.
type ClickHouseConfig struct {
	// MaxOpenConns is the maximum number of open connections per client.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections per client.
	MaxIdleConns int

	// DialTimeout is the connection timeout.
	DialTimeout time.Duration

	// Compression enables LZ4 compression on native connections.
	Compression bool
}

// ClickHouseFactory opens ClickHouse clients for team connections.
type ClickHouseFactory struct {
	config ClickHouseConfig
}

// NewClickHouseFactory creates a factory, applying defaults.
func NewClickHouseFactory(config ClickHouseConfig) *ClickHouseFactory {
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	return &ClickHouseFactory{config: config}
}

// Open creates a client for conn and verifies it with a ping.
func (f *ClickHouseFactory) Open(ctx context.Context, conn *models.Connection) (Client, error) {
	opts, err := f.options(conn)
	if err != nil {
		return nil, err
	}

	db := clickhouse.OpenDB(opts)
	db.SetMaxOpenConns(f.config.MaxOpenConns)
	db.SetMaxIdleConns(f.config.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, f.config.DialTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping clickhouse %s: %w", conn.Host, err)
	}

	return &ClickHouseClient{db: db}, nil
}

// options maps a connection host ("http://h:8123", "https://h:8443" or "h:9000")
// to driver options.
func (f *ClickHouseFactory) options(conn *models.Connection) (*clickhouse.Options, error) {
	if conn.Host == "" {
		return nil, fmt.Errorf("connection %s has no host", conn.ID)
	}

	opts := &clickhouse.Options{
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Username: conn.Username,
			Password: conn.Password,
		},
		DialTimeout: f.config.DialTimeout,
	}

	if strings.Contains(conn.Host, "://") {
		u, err := url.Parse(conn.Host)
		if err != nil {
			return nil, fmt.Errorf("parse connection host: %w", err)
		}
		switch u.Scheme {
		case "http":
			opts.Protocol = clickhouse.HTTP
		case "https":
			opts.Protocol = clickhouse.HTTP
			opts.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		case "clickhouse", "tcp":
		default:
			return nil, fmt.Errorf("unsupported connection scheme %q", u.Scheme)
		}
		opts.Addr = []string{u.Host}
	} else {
		opts.Addr = []string{conn.Host}
	}

	if f.config.Compression && opts.Protocol == clickhouse.Native {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	return opts, nil
}

// ClickHouseClient implements Client over database/sql.
type ClickHouseClient struct {
	db *sql.DB
}

// NewClickHouseClient wraps an existing database handle.
func NewClickHouseClient(db *sql.DB) *ClickHouseClient {
	return &ClickHouseClient{db: db}
}

// QuerySeries runs an aggregate series query.
func (c *ClickHouseClient) QuerySeries(ctx context.Context, q *SeriesQuery) ([]Row, error) {
	built, err := buildSeriesQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, built.SQL, built.Args...)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	return scanSeries(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanSeries reads (bucket, value, group) rows. Buckets whose aggregate is
// NULL carry no data and are skipped.
func scanSeries(rows rowScanner) ([]Row, error) {
	var result []Row
	for rows.Next() {
		var row Row
		var value sql.NullFloat64
		if err := rows.Scan(&row.Bucket, &value, &row.Group); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if !value.Valid {
			continue
		}
		row.Bucket = row.Bucket.UTC()
		row.Value = value.Float64
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return result, nil
}

// SampleRows returns up to q.Limit rendered rows, newest first.
func (c *ClickHouseClient) SampleRows(ctx context.Context, q *SampleQuery) ([]string, error) {
	built, err := buildSampleQuery(q)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, built.SQL, built.Args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return lines, nil
}

// Close closes the database connection.
func (c *ClickHouseClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}
