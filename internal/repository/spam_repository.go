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

const spamConfigColumns = `id, ig_connection_id, status, spam_keywords, block_urls,
	total_spam_detected, total_hidden, created_at, updated_at`

const spamLogColumns = `id, spam_filter_id, comment_id, comment_text, commenter_user_id, commenter_username,
	media_id, reasons, status, error_message, created_at, hidden_at`

type spamRepository struct {
	db *sqlx.DB
}

// NewSpamRepository creates a new spam filter repository
func NewSpamRepository(db *sqlx.DB) SpamRepository {
	return &spamRepository{db: db}
}

// GetConfigByConnection retrieves the spam filter of a connection
func (r *spamRepository) GetConfigByConnection(ctx context.Context, connectionID uuid.UUID) (*models.SpamFilterConfig, error) {
	query := `SELECT ` + spamConfigColumns + `
		FROM spam_filter_configs
		WHERE ig_connection_id = $1
	`

	config := &models.SpamFilterConfig{}
	err := r.db.GetContext(ctx, config, query, connectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spam filter config: %w", err)
	}

	return config, nil
}

// CreateConfig inserts a spam filter; a second filter for the same connection yields ErrDuplicate
func (r *spamRepository) CreateConfig(ctx context.Context, config *models.SpamFilterConfig) error {
	if config.ID == uuid.Nil {
		config.ID = uuid.New()
	}

	query := `
		INSERT INTO spam_filter_configs (id, ig_connection_id, status, spam_keywords, block_urls)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRowxContext(
		ctx,
		query,
		config.ID,
		config.ConnectionID,
		config.Status,
		config.SpamKeywords,
		config.BlockURLs,
	).Scan(&config.CreatedAt, &config.UpdatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create spam filter config: %w", err)
	}

	return nil
}

// UpdateConfig saves status, keywords and URL blocking
func (r *spamRepository) UpdateConfig(ctx context.Context, config *models.SpamFilterConfig) error {
	query := `
		UPDATE spam_filter_configs
		SET status = $1, spam_keywords = $2, block_urls = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at
	`

	err := r.db.QueryRowxContext(ctx, query, config.Status, config.SpamKeywords, config.BlockURLs, config.ID).
		Scan(&config.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update spam filter config: %w", err)
	}

	return nil
}

// CreateLog inserts a spam log in detected state and counts it on the filter in
// the same transaction. One log per (filter, comment); a second yields ErrDuplicate.
func (r *spamRepository) CreateLog(ctx context.Context, log *models.SpamLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO spam_comment_logs (
			id, spam_filter_id, comment_id, comment_text, commenter_user_id, commenter_username,
			media_id, reasons, status, webhook_payload
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	err = tx.QueryRowxContext(
		ctx,
		query,
		log.ID,
		log.SpamFilterID,
		log.CommentID,
		log.CommentText,
		log.CommenterUserID,
		log.CommenterUsername,
		log.MediaID,
		log.Reasons,
		log.Status,
		nullableJSON(log.WebhookPayload),
	).Scan(&log.CreatedAt)

	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to create spam log: %w", err)
	}

	countQuery := `UPDATE spam_filter_configs SET total_spam_detected = total_spam_detected + 1 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, countQuery, log.SpamFilterID); err != nil {
		return fmt.Errorf("failed to increment spam detected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetLogByComment retrieves the spam log of a comment under a filter
func (r *spamRepository) GetLogByComment(ctx context.Context, configID uuid.UUID, commentID string) (*models.SpamLog, error) {
	query := `SELECT ` + spamLogColumns + `
		FROM spam_comment_logs
		WHERE spam_filter_id = $1 AND comment_id = $2
	`

	log := &models.SpamLog{}
	err := r.db.GetContext(ctx, log, query, configID, commentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spam log: %w", err)
	}

	return log, nil
}

// MarkLogHidden moves a detected log to hidden and counts it on the filter.
// A log that already left detected is left alone.
func (r *spamRepository) MarkLogHidden(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE spam_comment_logs
		SET status = 'hidden', hidden_at = NOW()
		WHERE id = $1 AND status = 'detected'
		RETURNING spam_filter_id
	`

	var configID uuid.UUID
	err = tx.GetContext(ctx, &configID, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark spam log hidden: %w", err)
	}

	countQuery := `UPDATE spam_filter_configs SET total_hidden = total_hidden + 1 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, countQuery, configID); err != nil {
		return fmt.Errorf("failed to increment spam hidden: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// MarkLogFailed moves a detected log to failed
func (r *spamRepository) MarkLogFailed(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE spam_comment_logs
		SET status = 'failed', error_message = $1
		WHERE id = $2 AND status = 'detected'
	`
	if _, err := r.db.ExecContext(ctx, query, message, id); err != nil {
		return fmt.Errorf("failed to mark spam log failed: %w", err)
	}
	return nil
}

// ListLogs returns the newest spam logs of a filter
func (r *spamRepository) ListLogs(ctx context.Context, configID uuid.UUID, status *models.SpamLogStatus, limit int) ([]*models.SpamLog, error) {
	query := `SELECT ` + spamLogColumns + `
		FROM spam_comment_logs
		WHERE spam_filter_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`

	var statusArg interface{}
	if status != nil {
		statusArg = string(*status)
	}

	logs := []*models.SpamLog{}
	if err := r.db.SelectContext(ctx, &logs, query, configID, statusArg, limit); err != nil {
		return nil, fmt.Errorf("failed to list spam logs: %w", err)
	}

	return logs, nil
}
