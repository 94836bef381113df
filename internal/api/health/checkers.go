package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteChecker checks SQLite database connectivity.
type SQLiteChecker struct {
	db *sql.DB
}

// NewSQLiteChecker creates a new SQLite health checker.
func NewSQLiteChecker(db *sql.DB) *SQLiteChecker {
	return &SQLiteChecker{db: db}
}

// Name returns the checker name.
func (c *SQLiteChecker) Name() string {
	return "sqlite"
}

// Check verifies the SQLite database is accessible.
func (c *SQLiteChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// SchedulerChecker reports unhealthy when the evaluation loop has not
// completed a pass within maxAge.
type SchedulerChecker struct {
	lastRun func() time.Time
	maxAge  time.Duration
}

// NewSchedulerChecker creates a scheduler health checker.
func NewSchedulerChecker(lastRun func() time.Time, maxAge time.Duration) *SchedulerChecker {
	return &SchedulerChecker{lastRun: lastRun, maxAge: maxAge}
}

// Name returns the checker name.
func (c *SchedulerChecker) Name() string {
	return "scheduler"
}

// Check verifies the last evaluation pass is recent.
func (c *SchedulerChecker) Check(ctx context.Context) error {
	if c.lastRun == nil {
		return fmt.Errorf("scheduler not running")
	}
	last := c.lastRun()
	if last.IsZero() {
		return fmt.Errorf("no evaluation pass completed yet")
	}
	if age := time.Since(last); age > c.maxAge {
		return fmt.Errorf("last evaluation pass %s ago", age.Truncate(time.Second))
	}
	return nil
}
