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

type workspaceRepository struct {
	db *sqlx.DB
}

// NewWorkspaceRepository creates a new workspace repository
func NewWorkspaceRepository(db *sqlx.DB) WorkspaceRepository {
	return &workspaceRepository{db: db}
}

// GetByID retrieves a workspace by ID
func (r *workspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	query := `
		SELECT id, name, plan, created_at
		FROM workspaces
		WHERE id = $1
	`

	workspace := &models.Workspace{}
	err := r.db.GetContext(ctx, workspace, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}

	return workspace, nil
}

// IsMember reports whether the user belongs to the workspace
func (r *workspaceRepository) IsMember(ctx context.Context, workspaceID uuid.UUID, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM workspace_memberships
			WHERE workspace_id = $1 AND user_id = $2
		)
	`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, workspaceID, userID); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}

	return exists, nil
}
