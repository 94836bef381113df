package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/blazealert/internal/models"
	"github.com/good-yellow-bee/blazealert/internal/security"
)

type sqliteConnectionRepo struct {
	db        *sql.DB
	masterKey []byte
}

const connectionColumns = `id, team_id, name, type, host, username, credentials_encrypted, created_at, updated_at`

func (r *sqliteConnectionRepo) Create(ctx context.Context, conn *models.Connection) error {
	if conn.Password != "" {
		encrypted, err := r.EncryptCredentials([]byte(conn.Password))
		if err != nil {
			return err
		}
		conn.CredentialsEncrypted = encrypted
	}

	query := `INSERT INTO connections (` + connectionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		conn.ID, conn.TeamID, conn.Name, conn.Type, conn.Host, nullString(conn.Username),
		conn.CredentialsEncrypted, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

func (r *sqliteConnectionRepo) GetByID(ctx context.Context, id string) (*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = ?`
	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		//nolint:nilnil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if len(conn.CredentialsEncrypted) > 0 {
		password, err := r.DecryptCredentials(conn.CredentialsEncrypted)
		if err != nil {
			return nil, fmt.Errorf("connection %s: %w", id, err)
		}
		conn.Password = string(password)
	}
	return conn, nil
}

func (r *sqliteConnectionRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM connections WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return checkAffected(result, "connection", id)
}

// ListByTeam returns connections without decrypting their credentials.
func (r *sqliteConnectionRepo) ListByTeam(ctx context.Context, teamID string) ([]*models.Connection, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE team_id = ? ORDER BY name`, teamID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var conns []*models.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

// EncryptCredentials encrypts credentials for storage.
func (r *sqliteConnectionRepo) EncryptCredentials(plaintext []byte) ([]byte, error) {
	sealed, err := security.Seal(plaintext, r.masterKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt credentials: %w", err)
	}
	return sealed, nil
}

// DecryptCredentials decrypts credentials from storage.
func (r *sqliteConnectionRepo) DecryptCredentials(encrypted []byte) ([]byte, error) {
	if len(encrypted) == 0 {
		return nil, nil
	}
	plaintext, err := security.Open(encrypted, r.masterKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials: %w", err)
	}
	return plaintext, nil
}

func scanConnection(row scanner) (*models.Connection, error) {
	conn := &models.Connection{}
	var connType string
	var username sql.NullString

	err := row.Scan(
		&conn.ID, &conn.TeamID, &conn.Name, &connType, &conn.Host, &username,
		&conn.CredentialsEncrypted, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection: %w", err)
	}

	conn.Type = models.ParseConnectionType(connType)
	conn.Username = username.String
	return conn, nil
}
