package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"commentflow/internal/models"
)

var connectionColumnNames = []string{
	"id", "workspace_id", "external_account_id", "username", "status", "credential_ref",
	"token_expires_at", "last_verified_at", "last_error", "created_at", "updated_at",
}

// TestConnectionRepository_GetActiveForWorkspace tests the deterministic active connection pick
func TestConnectionRepository_GetActiveForWorkspace(t *testing.T) {
	// Setup
	db, mock := newMockDB(t)
	repo := NewConnectionRepository(db)
	workspaceID, connID := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(`FROM ig_account_connections\s+WHERE workspace_id = \$1 AND status = 'active'\s+ORDER BY last_verified_at DESC NULLS LAST, created_at ASC, id ASC`).
		WithArgs(workspaceID).
		WillReturnRows(sqlmock.NewRows(connectionColumnNames).
			AddRow(connID.String(), workspaceID.String(), "1784", "shop", "active", "ref", nil, now, nil, now, now))

	// Execute
	conn, err := repo.GetActiveForWorkspace(context.Background(), workspaceID)

	// Verify
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
	if conn.ID != connID || conn.Status != models.ConnectionStatusActive || conn.LastVerifiedAt == nil {
		t.Errorf("Unexpected connection: %+v", conn)
	}
	assertExpectations(t, mock)
}

// TestConnectionRepository_GetActiveForWorkspace_None tests the not found sentinel
func TestConnectionRepository_GetActiveForWorkspace_None(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConnectionRepository(db)
	workspaceID := uuid.New()

	mock.ExpectQuery("FROM ig_account_connections").
		WithArgs(workspaceID).
		WillReturnRows(sqlmock.NewRows(connectionColumnNames))

	_, err := repo.GetActiveForWorkspace(context.Background(), workspaceID)

	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound but got: %v", err)
	}
	assertExpectations(t, mock)
}
