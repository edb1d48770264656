package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"commentflow/internal/models"
	"commentflow/internal/repository"
)

// AccessService checks workspace membership for the authenticated user
type AccessService struct {
	workspaces  repository.WorkspaceRepository
	connections repository.ConnectionRepository
}

// NewAccessService creates a new access service
func NewAccessService(workspaces repository.WorkspaceRepository, connections repository.ConnectionRepository) *AccessService {
	return &AccessService{workspaces: workspaces, connections: connections}
}

// AuthorizeWorkspace returns the workspace when userID is one of its members
func (s *AccessService) AuthorizeWorkspace(ctx context.Context, workspaceID uuid.UUID, userID string) (*models.Workspace, error) {
	workspace, err := s.workspaces.GetByID(ctx, workspaceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "workspace", ID: workspaceID.String()}
	}
	if err != nil {
		return nil, err
	}

	member, err := s.workspaces.IsMember(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, &PermissionError{Message: fmt.Sprintf("user is not a member of workspace %s", workspaceID)}
	}

	return workspace, nil
}

// AuthorizeConnection returns the connection when userID belongs to its workspace
func (s *AccessService) AuthorizeConnection(ctx context.Context, connectionID uuid.UUID, userID string) (*models.AccountConnection, error) {
	conn, err := s.connections.GetByID(ctx, connectionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "ig_connection", ID: connectionID.String()}
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.AuthorizeWorkspace(ctx, conn.WorkspaceID, userID); err != nil {
		return nil, err
	}
	return conn, nil
}

// ActiveConnection returns the workspace's active connection. When several are
// active the most recently verified one wins, oldest first on ties.
func (s *AccessService) ActiveConnection(ctx context.Context, workspaceID uuid.UUID, userID string) (*models.AccountConnection, error) {
	if _, err := s.AuthorizeWorkspace(ctx, workspaceID, userID); err != nil {
		return nil, err
	}

	conn, err := s.connections.GetActiveForWorkspace(ctx, workspaceID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &ValidationError{Message: "No active Instagram connection found for this workspace"}
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}
