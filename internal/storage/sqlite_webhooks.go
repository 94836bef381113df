package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type sqliteWebhookRepo struct {
	db *sql.DB
}

const webhookColumns = `id, team_id, name, service, url, body, headers_json, query_params_json, created_at`

func (r *sqliteWebhookRepo) Create(ctx context.Context, webhook *models.Webhook) error {
	headersJSON, err := marshalStringMap(webhook.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	paramsJSON, err := marshalStringMap(webhook.QueryParams)
	if err != nil {
		return fmt.Errorf("marshal query params: %w", err)
	}

	query := `INSERT INTO webhooks (` + webhookColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		webhook.ID, webhook.TeamID, webhook.Name, webhook.Service, webhook.URL,
		nullString(webhook.Body), headersJSON, paramsJSON, webhook.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (r *sqliteWebhookRepo) GetByID(ctx context.Context, id string) (*models.Webhook, error) {
	webhook, err := scanWebhook(r.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	return webhook, err
}

func (r *sqliteWebhookRepo) ListByTeam(ctx context.Context, teamID string) ([]*models.Webhook, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE team_id = ? ORDER BY name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*models.Webhook
	for rows.Next() {
		webhook, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		webhooks = append(webhooks, webhook)
	}
	return webhooks, rows.Err()
}

func (r *sqliteWebhookRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM webhooks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return checkAffected(result, "webhook", id)
}

func scanWebhook(row scanner) (*models.Webhook, error) {
	webhook := &models.Webhook{}
	var service, headersJSON, paramsJSON string
	var body sql.NullString

	err := row.Scan(
		&webhook.ID, &webhook.TeamID, &webhook.Name, &service, &webhook.URL,
		&body, &headersJSON, &paramsJSON, &webhook.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan webhook: %w", err)
	}

	webhook.Service = models.ParseWebhookService(service)
	webhook.Body = body.String
	if err := json.Unmarshal([]byte(headersJSON), &webhook.Headers); err != nil {
		return nil, fmt.Errorf("unmarshal headers: %w", err)
	}
	if err := json.Unmarshal([]byte(paramsJSON), &webhook.QueryParams); err != nil {
		return nil, fmt.Errorf("unmarshal query params: %w", err)
	}
	return webhook, nil
}

func marshalStringMap(m map[string]string) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
