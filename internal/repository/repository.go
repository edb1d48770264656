package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"commentflow/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint
	ErrDuplicate = errors.New("duplicate record")
)

// WorkspaceRepository defines workspace data access operations
type WorkspaceRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
	IsMember(ctx context.Context, workspaceID uuid.UUID, userID string) (bool, error)
}

// UsageRepository defines monthly usage counter operations
type UsageRepository interface {
	GetOrCreate(ctx context.Context, workspaceID uuid.UUID, year, month int) (*models.UsageCounter, error)
	// IncrementWithinLimit locks the period row and adds amount to metric only when the
	// locked value stays within limit (-1 means unlimited). It reports whether the
	// increment was applied and returns the row as seen under the lock.
	IncrementWithinLimit(ctx context.Context, workspaceID uuid.UUID, year, month int, metric models.Metric, amount, limit int) (*models.UsageCounter, bool, error)
	// Decrement gives back amount units of metric, never going below zero
	Decrement(ctx context.Context, workspaceID uuid.UUID, year, month int, metric models.Metric, amount int) error
}

// ConnectionRepository defines account connection data access operations
type ConnectionRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.AccountConnection, error)
	GetActiveForWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.AccountConnection, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, lastError *string) error
	MarkVerified(ctx context.Context, id uuid.UUID) error
}

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.CampaignStatus) error
	ListActiveByMedia(ctx context.Context, mediaID string) ([]*models.Campaign, error)
	GetLatestByMedia(ctx context.Context, mediaID string) (*models.Campaign, error)
	IncrementSent(ctx context.Context, id uuid.UUID) error
	IncrementFailed(ctx context.Context, id uuid.UUID) error
}

// DispatchLogRepository defines dispatch log data access operations
type DispatchLogRepository interface {
	Create(ctx context.Context, log *models.DispatchLog) error
	ExistsForComment(ctx context.Context, campaignID uuid.UUID, commentID string) (bool, error)
	CountSince(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error)
	CountByStatusSince(ctx context.Context, campaignID uuid.UUID, since time.Time) (*models.DispatchCounts, error)
	MarkSent(ctx context.Context, id uuid.UUID, response json.RawMessage) error
	MarkFailed(ctx context.Context, id uuid.UUID, code, message string, response json.RawMessage) error
	MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error
	ListByCampaign(ctx context.Context, campaignID uuid.UUID, status *models.DispatchStatus, limit int) ([]*models.DispatchLog, error)
}

// SpamRepository defines spam filter and spam log data access operations
type SpamRepository interface {
	GetConfigByConnection(ctx context.Context, connectionID uuid.UUID) (*models.SpamFilterConfig, error)
	CreateConfig(ctx context.Context, config *models.SpamFilterConfig) error
	UpdateConfig(ctx context.Context, config *models.SpamFilterConfig) error
	// CreateLog also counts the detection on the filter
	CreateLog(ctx context.Context, log *models.SpamLog) error
	GetLogByComment(ctx context.Context, configID uuid.UUID, commentID string) (*models.SpamLog, error)
	// MarkLogHidden also counts the hide on the filter
	MarkLogHidden(ctx context.Context, id uuid.UUID) error
	MarkLogFailed(ctx context.Context, id uuid.UUID, message string) error
	ListLogs(ctx context.Context, configID uuid.UUID, status *models.SpamLogStatus, limit int) ([]*models.SpamLog, error)
}

// isUniqueViolation reports whether err is a postgres unique_violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// nullableJSON keeps empty payloads out of jsonb columns and wraps bodies that
// are not JSON so the column accepts them
func nullableJSON(raw json.RawMessage) interface{} {
	doc := models.JSONDocument(raw)
	if doc == nil {
		return nil
	}
	return []byte(doc)
}
