package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"commentflow/internal/models"
)

const insertUsageCounterQuery = `
	INSERT INTO usage_counters (id, workspace_id, year, month, comments_collected, dm_sent)
	VALUES ($1, $2, $3, $4, 0, 0)
	ON CONFLICT (workspace_id, year, month) DO NOTHING
`

const usageCounterColumns = `id, workspace_id, year, month, comments_collected, dm_sent, created_at, updated_at`

type usageRepository struct {
	db *sqlx.DB
}

// NewUsageRepository creates a new usage counter repository
func NewUsageRepository(db *sqlx.DB) UsageRepository {
	return &usageRepository{db: db}
}

// GetOrCreate returns the counter row for the period, inserting a zeroed row if absent.
// Concurrent callers converge on the single row guarded by the unique key.
func (r *usageRepository) GetOrCreate(ctx context.Context, workspaceID uuid.UUID, year, month int) (*models.UsageCounter, error) {
	if _, err := r.db.ExecContext(ctx, insertUsageCounterQuery, uuid.New(), workspaceID, year, month); err != nil {
		return nil, fmt.Errorf("failed to create usage counter: %w", err)
	}

	query := `SELECT ` + usageCounterColumns + `
		FROM usage_counters
		WHERE workspace_id = $1 AND year = $2 AND month = $3
	`

	counter := &models.UsageCounter{}
	if err := r.db.GetContext(ctx, counter, query, workspaceID, year, month); err != nil {
		return nil, fmt.Errorf("failed to get usage counter: %w", err)
	}

	return counter, nil
}

// IncrementWithinLimit performs the locked check-and-increment in one transaction
func (r *usageRepository) IncrementWithinLimit(ctx context.Context, workspaceID uuid.UUID, year, month int, metric models.Metric, amount, limit int) (*models.UsageCounter, bool, error) {
	if !metric.Valid() {
		return nil, false, fmt.Errorf("invalid metric: %s", metric)
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertUsageCounterQuery, uuid.New(), workspaceID, year, month); err != nil {
		return nil, false, fmt.Errorf("failed to create usage counter: %w", err)
	}

	lockQuery := `SELECT ` + usageCounterColumns + `
		FROM usage_counters
		WHERE workspace_id = $1 AND year = $2 AND month = $3
		FOR UPDATE
	`

	counter := &models.UsageCounter{}
	if err := tx.GetContext(ctx, counter, lockQuery, workspaceID, year, month); err != nil {
		return nil, false, fmt.Errorf("failed to lock usage counter: %w", err)
	}

	current := counter.Value(metric)
	if limit != -1 && current+amount > limit {
		return counter, false, nil
	}

	// metric is validated above, so the column name is one of two constants
	updateQuery := fmt.Sprintf(`
		UPDATE usage_counters
		SET %[1]s = %[1]s + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING %[1]s
	`, string(metric))

	var updated int
	if err := tx.GetContext(ctx, &updated, updateQuery, amount, counter.ID); err != nil {
		return nil, false, fmt.Errorf("failed to increment usage counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	switch metric {
	case models.MetricCommentsCollected:
		counter.CommentsCollected = updated
	case models.MetricDMSent:
		counter.DMSent = updated
	}

	return counter, true, nil
}

// Decrement subtracts amount from metric on the period row, clamped at zero.
// A missing row is left alone.
func (r *usageRepository) Decrement(ctx context.Context, workspaceID uuid.UUID, year, month int, metric models.Metric, amount int) error {
	if !metric.Valid() {
		return fmt.Errorf("invalid metric: %s", metric)
	}

	query := fmt.Sprintf(`
		UPDATE usage_counters
		SET %[1]s = GREATEST(%[1]s - $1, 0), updated_at = NOW()
		WHERE workspace_id = $2 AND year = $3 AND month = $4
	`, string(metric))

	if _, err := r.db.ExecContext(ctx, query, amount, workspaceID, year, month); err != nil {
		return fmt.Errorf("failed to decrement usage counter: %w", err)
	}

	return nil
}
