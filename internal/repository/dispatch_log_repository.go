package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"commentflow/internal/models"
)

const dispatchLogColumns = `id, campaign_id, comment_id, recipient_user_id, recipient_username,
	comment_text, message_sent, status, error_code, error_message, api_response, sent_at, created_at`

type dispatchLogRepository struct {
	db *sqlx.DB
}

// NewDispatchLogRepository creates a new dispatch log repository
func NewDispatchLogRepository(db *sqlx.DB) DispatchLogRepository {
	return &dispatchLogRepository{db: db}
}

// Create inserts a dispatch log. A second non-skipped row for the same
// (campaign, comment) violates the partial unique index and yields ErrDuplicate.
func (r *dispatchLogRepository) Create(ctx context.Context, log *models.DispatchLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	query := `
		INSERT INTO sent_dm_logs (
			id, campaign_id, comment_id, recipient_user_id, recipient_username,
			comment_text, message_sent, status, error_message
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	err := r.db.QueryRowxContext(
		ctx,
		query,
		log.ID,
		log.CampaignID,
		log.CommentID,
		log.RecipientUserID,
		log.RecipientUsername,
		log.CommentText,
		log.MessageSent,
		log.Status,
		log.ErrorMessage,
	).Scan(&log.CreatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create dispatch log: %w", err)
	}

	return nil
}

// ExistsForComment reports whether a non-skipped attempt exists for the pair
func (r *dispatchLogRepository) ExistsForComment(ctx context.Context, campaignID uuid.UUID, commentID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM sent_dm_logs
			WHERE campaign_id = $1 AND comment_id = $2 AND status <> 'skipped'
		)
	`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, campaignID, commentID); err != nil {
		return false, fmt.Errorf("failed to check dispatch log: %w", err)
	}

	return exists, nil
}

// CountSince counts all log rows of the campaign created at or after since
func (r *dispatchLogRepository) CountSince(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM sent_dm_logs
		WHERE campaign_id = $1 AND created_at >= $2
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query, campaignID, since); err != nil {
		return 0, fmt.Errorf("failed to count dispatch logs: %w", err)
	}

	return count, nil
}

// CountByStatusSince groups the campaign's recent log rows by status
func (r *dispatchLogRepository) CountByStatusSince(ctx context.Context, campaignID uuid.UUID, since time.Time) (*models.DispatchCounts, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'sent') AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'skipped') AS skipped
		FROM sent_dm_logs
		WHERE campaign_id = $1 AND created_at >= $2
	`

	counts := &models.DispatchCounts{}
	if err := r.db.GetContext(ctx, counts, query, campaignID, since); err != nil {
		return nil, fmt.Errorf("failed to count dispatch logs by status: %w", err)
	}

	return counts, nil
}

// MarkSent moves a pending log to sent and stores the gateway response
func (r *dispatchLogRepository) MarkSent(ctx context.Context, id uuid.UUID, response json.RawMessage) error {
	query := `
		UPDATE sent_dm_logs
		SET status = 'sent', api_response = $1, sent_at = NOW()
		WHERE id = $2 AND status = 'pending'
	`

	if _, err := r.db.ExecContext(ctx, query, nullableJSON(response), id); err != nil {
		return fmt.Errorf("failed to mark dispatch log sent: %w", err)
	}

	return nil
}

// MarkFailed moves a pending log to failed with the error detail
func (r *dispatchLogRepository) MarkFailed(ctx context.Context, id uuid.UUID, code, message string, response json.RawMessage) error {
	query := `
		UPDATE sent_dm_logs
		SET status = 'failed', error_code = NULLIF($1, ''), error_message = $2, api_response = $3
		WHERE id = $4 AND status = 'pending'
	`

	if _, err := r.db.ExecContext(ctx, query, code, message, nullableJSON(response), id); err != nil {
		return fmt.Errorf("failed to mark dispatch log failed: %w", err)
	}

	return nil
}

// MarkSkipped moves a pending log to skipped. The row then no longer blocks a
// later attempt for the same comment.
func (r *dispatchLogRepository) MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE sent_dm_logs
		SET status = 'skipped', error_message = $1
		WHERE id = $2 AND status = 'pending'
	`

	if _, err := r.db.ExecContext(ctx, query, reason, id); err != nil {
		return fmt.Errorf("failed to mark dispatch log skipped: %w", err)
	}

	return nil
}

// ListByCampaign returns the newest dispatch logs of a campaign
func (r *dispatchLogRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, status *models.DispatchStatus, limit int) ([]*models.DispatchLog, error) {
	query := `SELECT ` + dispatchLogColumns + `
		FROM sent_dm_logs
		WHERE campaign_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`

	var statusArg interface{}
	if status != nil {
		statusArg = string(*status)
	}

	logs := []*models.DispatchLog{}
	if err := r.db.SelectContext(ctx, &logs, query, campaignID, statusArg, limit); err != nil {
		return nil, fmt.Errorf("failed to list dispatch logs: %w", err)
	}

	return logs, nil
}
