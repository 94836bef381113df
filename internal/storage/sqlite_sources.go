package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

type sqliteSourceRepo struct {
	db *sql.DB
}

func (r *sqliteSourceRepo) Create(ctx context.Context, source *models.Source) error {
	fieldsJSON, err := json.Marshal(source.Fields)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}

	query := `
		INSERT INTO sources (id, team_id, name, connection_id, database_name, table_name,
			timestamp_column, default_select, fields_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		source.ID, source.TeamID, source.Name, source.ConnectionID, source.Database, source.Table,
		source.TimestampColumn, nullString(source.DefaultSelect), string(fieldsJSON),
		source.CreatedAt, source.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func (r *sqliteSourceRepo) GetByID(ctx context.Context, id string) (*models.Source, error) {
	query := `
		SELECT id, team_id, name, connection_id, database_name, table_name,
			timestamp_column, default_select, fields_json, created_at, updated_at
		FROM sources WHERE id = ?
	`
	source := &models.Source{}
	var defaultSelect sql.NullString
	var fieldsJSON string

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&source.ID, &source.TeamID, &source.Name, &source.ConnectionID, &source.Database, &source.Table,
		&source.TimestampColumn, &defaultSelect, &fieldsJSON, &source.CreatedAt, &source.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}

	source.DefaultSelect = defaultSelect.String
	if err := json.Unmarshal([]byte(fieldsJSON), &source.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	return source, nil
}

func (r *sqliteSourceRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM sources WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	return checkAffected(result, "source", id)
}

type sqliteSavedSearchRepo struct {
	db *sql.DB
}

func (r *sqliteSavedSearchRepo) Create(ctx context.Context, search *models.SavedSearch) error {
	query := `
		INSERT INTO saved_searches (id, team_id, name, source_id, where_expr, select_expr, order_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		search.ID, search.TeamID, search.Name, search.SourceID,
		nullString(search.Where), nullString(search.Select), nullString(search.OrderBy),
		search.Created,
	)
	if err != nil {
		return fmt.Errorf("insert saved search: %w", err)
	}
	return nil
}

func (r *sqliteSavedSearchRepo) GetByID(ctx context.Context, id string) (*models.SavedSearch, error) {
	query := `
		SELECT id, team_id, name, source_id, where_expr, select_expr, order_by, created_at
		FROM saved_searches WHERE id = ?
	`
	search := &models.SavedSearch{}
	var where, sel, orderBy sql.NullString

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&search.ID, &search.TeamID, &search.Name, &search.SourceID,
		&where, &sel, &orderBy, &search.Created,
	)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan saved search: %w", err)
	}

	search.Where = where.String
	search.Select = sel.String
	search.OrderBy = orderBy.String
	return search, nil
}

func (r *sqliteSavedSearchRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM saved_searches WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete saved search: %w", err)
	}
	return checkAffected(result, "saved search", id)
}

type sqliteDashboardRepo struct {
	db *sql.DB
}

func (r *sqliteDashboardRepo) Create(ctx context.Context, dashboard *models.Dashboard) error {
	tilesJSON, err := json.Marshal(dashboard.Tiles)
	if err != nil {
		return fmt.Errorf("marshal tiles: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		"INSERT INTO dashboards (id, team_id, name, tiles_json, created_at) VALUES (?, ?, ?, ?, ?)",
		dashboard.ID, dashboard.TeamID, dashboard.Name, string(tilesJSON), dashboard.Created,
	)
	if err != nil {
		return fmt.Errorf("insert dashboard: %w", err)
	}
	return nil
}

func (r *sqliteDashboardRepo) GetByID(ctx context.Context, id string) (*models.Dashboard, error) {
	dashboard := &models.Dashboard{}
	var tilesJSON string

	err := r.db.QueryRowContext(ctx,
		"SELECT id, team_id, name, tiles_json, created_at FROM dashboards WHERE id = ?", id,
	).Scan(&dashboard.ID, &dashboard.TeamID, &dashboard.Name, &tilesJSON, &dashboard.Created)
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan dashboard: %w", err)
	}

	if err := json.Unmarshal([]byte(tilesJSON), &dashboard.Tiles); err != nil {
		return nil, fmt.Errorf("unmarshal tiles: %w", err)
	}
	return dashboard, nil
}

func (r *sqliteDashboardRepo) Update(ctx context.Context, dashboard *models.Dashboard) error {
	tilesJSON, err := json.Marshal(dashboard.Tiles)
	if err != nil {
		return fmt.Errorf("marshal tiles: %w", err)
	}
	result, err := r.db.ExecContext(ctx,
		"UPDATE dashboards SET name = ?, tiles_json = ? WHERE id = ?",
		dashboard.Name, string(tilesJSON), dashboard.ID,
	)
	if err != nil {
		return fmt.Errorf("update dashboard: %w", err)
	}
	return checkAffected(result, "dashboard", dashboard.ID)
}

func (r *sqliteDashboardRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM dashboards WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete dashboard: %w", err)
	}
	return checkAffected(result, "dashboard", id)
}
