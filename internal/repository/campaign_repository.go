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

const campaignColumns = `id, ig_connection_id, name, media_id, message_template, status,
	max_sends_per_hour, total_sent, total_failed, created_at, updated_at`

type campaignRepository struct {
	db *sqlx.DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db *sqlx.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

// Create creates a new campaign
func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}

	query := `
		INSERT INTO auto_dm_campaigns (id, ig_connection_id, name, media_id, message_template, status, max_sends_per_hour)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(
		ctx,
		query,
		campaign.ID,
		campaign.ConnectionID,
		campaign.Name,
		campaign.MediaID,
		campaign.MessageTemplate,
		campaign.Status,
		campaign.MaxSendsPerHour,
	).Scan(&campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM auto_dm_campaigns
		WHERE id = $1
	`

	campaign := &models.Campaign{}
	err := r.db.GetContext(ctx, campaign, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// UpdateStatus updates campaign status
func (r *campaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.CampaignStatus) error {
	query := `
		UPDATE auto_dm_campaigns
		SET status = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
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

// ListActiveByMedia returns active campaigns targeting the post, oldest first
func (r *campaignRepository) ListActiveByMedia(ctx context.Context, mediaID string) ([]*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM auto_dm_campaigns
		WHERE media_id = $1 AND status = 'active'
		ORDER BY created_at ASC, id ASC
	`

	campaigns := []*models.Campaign{}
	if err := r.db.SelectContext(ctx, &campaigns, query, mediaID); err != nil {
		return nil, fmt.Errorf("failed to list campaigns by media: %w", err)
	}

	return campaigns, nil
}

// GetLatestByMedia returns the most recently created campaign for the post in any status
func (r *campaignRepository) GetLatestByMedia(ctx context.Context, mediaID string) (*models.Campaign, error) {
	query := `SELECT ` + campaignColumns + `
		FROM auto_dm_campaigns
		WHERE media_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	campaign := &models.Campaign{}
	err := r.db.GetContext(ctx, campaign, query, mediaID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign by media: %w", err)
	}

	return campaign, nil
}

// IncrementSent adds one to total_sent
func (r *campaignRepository) IncrementSent(ctx context.Context, id uuid.UUID) error {
	return r.incrementCounter(ctx, id, "total_sent")
}

// IncrementFailed adds one to total_failed
func (r *campaignRepository) IncrementFailed(ctx context.Context, id uuid.UUID) error {
	return r.incrementCounter(ctx, id, "total_failed")
}

func (r *campaignRepository) incrementCounter(ctx context.Context, id uuid.UUID, column string) error {
	query := fmt.Sprintf(`
		UPDATE auto_dm_campaigns
		SET %[1]s = %[1]s + 1, updated_at = NOW()
		WHERE id = $1
	`, column)

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to increment %s: %w", column, err)
	}

	return nil
}
