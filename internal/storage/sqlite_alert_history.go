package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type sqliteAlertHistoryRepo struct {
	db *sql.DB
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const insertHistoryQuery = `
	INSERT INTO alert_history (id, alert_id, group_key, bucket_ms, state, counts, last_values_json)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

func insertHistory(ctx context.Context, db execer, history *models.AlertHistory) error {
	if history.ID == "" {
		history.ID = uuid.New().String()
	}
	if history.LastValues == nil {
		history.LastValues = []models.LastValue{}
	}
	lastValuesJSON, err := json.Marshal(history.LastValues)
	if err != nil {
		return fmt.Errorf("marshal last values: %w", err)
	}

	_, err = db.ExecContext(ctx, insertHistoryQuery,
		history.ID, history.AlertID, history.Group, history.CreatedAt.UnixMilli(),
		history.State, history.Counts, string(lastValuesJSON),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("alert %s group %q at %s: %w",
			history.AlertID, history.Group, history.CreatedAt.UTC().Format(time.RFC3339), ErrDuplicateHistory)
	}
	if err != nil {
		return fmt.Errorf("insert alert history: %w", err)
	}
	return nil
}

func (r *sqliteAlertHistoryRepo) Create(ctx context.Context, history *models.AlertHistory) error {
	return insertHistory(ctx, r.db, history)
}

func (r *sqliteAlertHistoryRepo) Record(ctx context.Context, alertID string, state models.AlertState, histories []*models.AlertHistory) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, h := range histories {
		if err := insertHistory(ctx, tx, h); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE alerts SET state = ?, updated_at = ? WHERE id = ? AND state != ?",
		state, time.Now(), alertID, models.AlertStateDisabled,
	)
	if err != nil {
		return fmt.Errorf("set alert state: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx, "SELECT state FROM alerts WHERE id = ?", alertID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("get alert state: %w", err)
		}
		return fmt.Errorf("alert %s: %w", alertID, ErrAlertDisabled)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit alert history: %w", err)
	}
	return nil
}

func (r *sqliteAlertHistoryRepo) LatestByAlerts(ctx context.Context, alertIDs []string, asOf time.Time) (map[models.HistoryKey]*models.AlertHistory, error) {
	latest := make(map[models.HistoryKey]*models.AlertHistory)
	if len(alertIDs) == 0 {
		return latest, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(alertIDs)), ", ")
	args := make([]interface{}, 0, len(alertIDs)+1)
	for _, id := range alertIDs {
		args = append(args, id)
	}
	args = append(args, asOf.UnixMilli())

	query := `
		SELECT h.id, h.alert_id, h.group_key, h.bucket_ms, h.state, h.counts, h.last_values_json
		FROM alert_history h
		JOIN (
			SELECT alert_id, group_key, MAX(bucket_ms) AS bucket_ms
			FROM alert_history
			WHERE alert_id IN (` + placeholders + `) AND bucket_ms <= ?
			GROUP BY alert_id, group_key
		) m ON h.alert_id = m.alert_id AND h.group_key = m.group_key AND h.bucket_ms = m.bucket_ms
	`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query latest history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		latest[h.Key()] = h
	}
	return latest, rows.Err()
}

func (r *sqliteAlertHistoryRepo) ListByAlert(ctx context.Context, alertID string, limit, offset int) ([]*models.AlertHistory, int64, error) {
	var total int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alert_history WHERE alert_id = ?", alertID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alert history: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, alert_id, group_key, bucket_ms, state, counts, last_values_json
		FROM alert_history WHERE alert_id = ?
		ORDER BY bucket_ms DESC, group_key
		LIMIT ? OFFSET ?
	`, alertID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query alert history: %w", err)
	}
	defer rows.Close()

	var histories []*models.AlertHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, 0, err
		}
		histories = append(histories, h)
	}
	return histories, total, rows.Err()
}

func (r *sqliteAlertHistoryRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alert_history WHERE bucket_ms < ?", before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete alert history: %w", err)
	}
	return result.RowsAffected()
}

func scanHistory(row scanner) (*models.AlertHistory, error) {
	h := &models.AlertHistory{}
	var bucketMS int64
	var state, lastValuesJSON string

	if err := row.Scan(&h.ID, &h.AlertID, &h.Group, &bucketMS, &state, &h.Counts, &lastValuesJSON); err != nil {
		return nil, fmt.Errorf("scan alert history: %w", err)
	}

	h.CreatedAt = time.UnixMilli(bucketMS).UTC()
	h.State = models.ParseAlertState(state)
	if err := json.Unmarshal([]byte(lastValuesJSON), &h.LastValues); err != nil {
		return nil, fmt.Errorf("unmarshal last values: %w", err)
	}
	return h, nil
}
