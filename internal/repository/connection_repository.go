package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"commentflow/internal/models"
)

const connectionColumns = `id, workspace_id, external_account_id, username, status, credential_ref,
	token_expires_at, last_verified_at, last_error, created_at, updated_at`

type connectionRepository struct {
	db *sqlx.DB
}

// NewConnectionRepository creates a new account connection repository
func NewConnectionRepository(db *sqlx.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

// GetByID retrieves a connection by ID
func (r *connectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AccountConnection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM ig_account_connections
		WHERE id = $1
	`

	conn := &models.AccountConnection{}
	err := r.db.GetContext(ctx, conn, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return conn, nil
}

// GetActiveForWorkspace picks the workspace's active connection.
// The most recently verified connection wins; ties fall back to the oldest row.
func (r *connectionRepository) GetActiveForWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.AccountConnection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM ig_account_connections
		WHERE workspace_id = $1 AND status = 'active'
		ORDER BY last_verified_at DESC NULLS LAST, created_at ASC, id ASC
		LIMIT 1
	`

	conn := &models.AccountConnection{}
	err := r.db.GetContext(ctx, conn, query, workspaceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active connection: %w", err)
	}

	return conn, nil
}

// UpdateStatus changes the connection status and records the last error
func (r *connectionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, lastError *string) error {
	query := `
		UPDATE ig_account_connections
		SET status = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, status, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to update connection status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// MarkVerified records a successful verification and reactivates the connection
func (r *connectionRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE ig_account_connections
		SET status = 'active', last_verified_at = NOW(), last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark connection verified: %w", err)
	}

	return nil
}
