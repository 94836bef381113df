package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, team_id, is_system, name, message, source_kind, source_json,
	checker_kind, checker_json, interval, group_by, channel_type, channel_webhook_id,
	state, silenced_json, created_at, updated_at`

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert) error {
	row, err := encodeAlert(alert)
	if err != nil {
		return err
	}

	query := `INSERT INTO alerts (` + alertColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID, alert.TeamID, boolToInt(alert.IsSystem),
		nullString(alert.Name), nullString(alert.Message),
		row.sourceKind, row.sourceJSON, row.checkerKind, row.checkerJSON,
		alert.Interval, nullString(alert.GroupBy),
		alert.Channel.Type, nullString(alert.Channel.WebhookID),
		alert.State, row.silencedJSON,
		alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE id = ?`
	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

func (r *sqliteAlertRepo) Update(ctx context.Context, alert *models.Alert) error {
	row, err := encodeAlert(alert)
	if err != nil {
		return err
	}

	query := `
		UPDATE alerts SET team_id = ?, is_system = ?, name = ?, message = ?,
			source_kind = ?, source_json = ?, checker_kind = ?, checker_json = ?,
			interval = ?, group_by = ?, channel_type = ?, channel_webhook_id = ?,
			state = ?, silenced_json = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		alert.TeamID, boolToInt(alert.IsSystem),
		nullString(alert.Name), nullString(alert.Message),
		row.sourceKind, row.sourceJSON, row.checkerKind, row.checkerJSON,
		alert.Interval, nullString(alert.GroupBy),
		alert.Channel.Type, nullString(alert.Channel.WebhookID),
		alert.State, row.silencedJSON, alert.UpdatedAt,
		alert.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return checkAffected(result, "alert", alert.ID)
}

func (r *sqliteAlertRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	return checkAffected(result, "alert", id)
}

func (r *sqliteAlertRepo) List(ctx context.Context) ([]*models.Alert, error) {
	return r.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY created_at`)
}

func (r *sqliteAlertRepo) ListByTeam(ctx context.Context, teamID string) ([]*models.Alert, error) {
	return r.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE team_id = ? ORDER BY created_at`, teamID)
}

func (r *sqliteAlertRepo) ListActive(ctx context.Context) ([]*models.Alert, error) {
	return r.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE state != ? ORDER BY created_at`,
		models.AlertStateDisabled)
}

func (r *sqliteAlertRepo) SetState(ctx context.Context, id string, state models.AlertState) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET state = ?, updated_at = ? WHERE id = ?",
		state, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set alert state: %w", err)
	}
	return checkAffected(result, "alert", id)
}

func (r *sqliteAlertRepo) SetSilenced(ctx context.Context, id string, silenced *models.Silenced) error {
	silencedJSON, err := encodeSilenced(silenced)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx,
		"UPDATE alerts SET silenced_json = ?, updated_at = ? WHERE id = ?",
		silencedJSON, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("set alert silenced: %w", err)
	}
	return checkAffected(result, "alert", id)
}

func (r *sqliteAlertRepo) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

type encodedAlert struct {
	sourceKind   models.SourceKind
	sourceJSON   string
	checkerKind  models.CheckerKind
	checkerJSON  string
	silencedJSON sql.NullString
}

func encodeAlert(alert *models.Alert) (*encodedAlert, error) {
	sourceKind, sourceJSON, err := models.EncodeSource(alert.Source)
	if err != nil {
		return nil, fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}
	checkerKind, checkerJSON, err := models.EncodePolicy(alert.Policy)
	if err != nil {
		return nil, fmt.Errorf("encode alert %s: %w", alert.ID, err)
	}
	silencedJSON, err := encodeSilenced(alert.Silenced)
	if err != nil {
		return nil, err
	}
	return &encodedAlert{
		sourceKind:   sourceKind,
		sourceJSON:   string(sourceJSON),
		checkerKind:  checkerKind,
		checkerJSON:  string(checkerJSON),
		silencedJSON: silencedJSON,
	}, nil
}

func encodeSilenced(s *models.Silenced) (sql.NullString, error) {
	if s == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal silenced: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanAlert(row scanner) (*models.Alert, error) {
	alert := &models.Alert{}
	var name, message, groupBy, webhookID, silencedJSON sql.NullString
	var sourceKind, sourceJSON, checkerKind, checkerJSON, state string
	var isSystem int

	err := row.Scan(
		&alert.ID, &alert.TeamID, &isSystem, &name, &message,
		&sourceKind, &sourceJSON, &checkerKind, &checkerJSON,
		&alert.Interval, &groupBy, &alert.Channel.Type, &webhookID,
		&state, &silencedJSON, &alert.CreatedAt, &alert.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.IsSystem = isSystem != 0
	alert.Name = name.String
	alert.Message = message.String
	alert.GroupBy = groupBy.String
	alert.Channel.WebhookID = webhookID.String
	alert.State = models.ParseAlertState(state)

	// Undecodable bindings stay nil; Validate reports them.
	alert.Source, _ = models.DecodeSource(models.SourceKind(sourceKind), []byte(sourceJSON))
	alert.Policy, _ = models.DecodePolicy(models.CheckerKind(checkerKind), []byte(checkerJSON))
	if silencedJSON.Valid {
		alert.Silenced = &models.Silenced{}
		if err := json.Unmarshal([]byte(silencedJSON.String), alert.Silenced); err != nil {
			return nil, fmt.Errorf("unmarshal silenced: %w", err)
		}
	}

	return alert, nil
}
