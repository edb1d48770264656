package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ConnectionStatus represents valid account connection statuses
type ConnectionStatus string

const (
	ConnectionStatusActive  ConnectionStatus = "active"
	ConnectionStatusExpired ConnectionStatus = "expired"
	ConnectionStatusRevoked ConnectionStatus = "revoked"
	ConnectionStatusError   ConnectionStatus = "error"
)

// CredentialStore resolves the access token of a connection.
// Implementations must never log or serialize the token.
type CredentialStore interface {
	GetDecryptedCredential(ctx context.Context, connectionID uuid.UUID) (string, error)
	SetCredential(ctx context.Context, connectionID uuid.UUID, token string) error
}

// AccountConnection is a linked business account on the social platform
type AccountConnection struct {
	ID                uuid.UUID        `json:"id" db:"id"`
	WorkspaceID       uuid.UUID        `json:"workspace_id" db:"workspace_id"`
	ExternalAccountID string           `json:"external_account_id" db:"external_account_id"`
	Username          string           `json:"username" db:"username"`
	Status            ConnectionStatus `json:"status" db:"status"`
	CredentialRef     string           `json:"-" db:"credential_ref"`
	TokenExpiresAt    *time.Time       `json:"token_expires_at,omitempty" db:"token_expires_at"`
	LastVerifiedAt    *time.Time       `json:"last_verified_at,omitempty" db:"last_verified_at"`
	LastError         *string          `json:"last_error,omitempty" db:"last_error"`
	CreatedAt         time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at" db:"updated_at"`
}

// IsTokenExpired reports whether the token expiry lies in the past
func (c *AccountConnection) IsTokenExpired(now time.Time) bool {
	return c.TokenExpiresAt != nil && !now.Before(*c.TokenExpiresAt)
}

// IsUsable reports whether the connection may call the platform API
func (c *AccountConnection) IsUsable(now time.Time) bool {
	return c.Status == ConnectionStatusActive && !c.IsTokenExpired(now)
}

// Credential returns the decrypted access token through store
func (c *AccountConnection) Credential(ctx context.Context, store CredentialStore) (string, error) {
	if store == nil {
		return "", errors.New("credential store is not configured")
	}
	return store.GetDecryptedCredential(ctx, c.ID)
}

// SetCredential stores a new access token through store
func (c *AccountConnection) SetCredential(ctx context.Context, store CredentialStore, token string) error {
	if store == nil {
		return errors.New("credential store is not configured")
	}
	if token == "" {
		return errors.New("credential cannot be empty")
	}
	return store.SetCredential(ctx, c.ID, token)
}
