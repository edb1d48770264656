package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"commentflow/internal/metrics"
	"commentflow/internal/models"
	"commentflow/internal/repository"
)

// ModerationGateway hides comments on the platform
type ModerationGateway interface {
	HideComment(ctx context.Context, commentID, token string) (json.RawMessage, error)
}

// SpamVerdict is the outcome of the spam stage for one comment
type SpamVerdict struct {
	IsSpam  bool                 `json:"is_spam"`
	Reasons []string             `json:"reasons,omitempty"`
	Status  models.SpamLogStatus `json:"status,omitempty"`
	LogID   *uuid.UUID           `json:"log_id,omitempty"`
}

// UpdateSpamFilterRequest is a partial update of a spam filter
type UpdateSpamFilterRequest struct {
	Status       *models.SpamFilterStatus `json:"status"`
	SpamKeywords *[]string                `json:"spam_keywords"`
	BlockURLs    *bool                    `json:"block_urls"`
}

// Validate checks the update request
func (r *UpdateSpamFilterRequest) Validate() error {
	if r.Status != nil && *r.Status != models.SpamFilterStatusActive && *r.Status != models.SpamFilterStatusInactive {
		return fmt.Errorf("status must be 'active' or 'inactive'")
	}
	if r.SpamKeywords != nil && len(*r.SpamKeywords) > models.MaxSpamKeywords {
		return fmt.Errorf("spam_keywords cannot exceed %d entries", models.MaxSpamKeywords)
	}
	return nil
}

// SpamFilterService runs the spam stage and manages filter settings
type SpamFilterService struct {
	spam        repository.SpamRepository
	connections repository.ConnectionRepository
	moderation  ModerationGateway
	credentials models.CredentialStore
	now         func() time.Time
	log         *zap.SugaredLogger
}

// NewSpamFilterService creates a new spam filter service
func NewSpamFilterService(
	spam repository.SpamRepository,
	connections repository.ConnectionRepository,
	moderation ModerationGateway,
	credentials models.CredentialStore,
	log *zap.SugaredLogger,
) *SpamFilterService {
	return &SpamFilterService{
		spam:        spam,
		connections: connections,
		moderation:  moderation,
		credentials: credentials,
		now:         time.Now,
		log:         log,
	}
}

// Evaluate classifies the comment with the connection's active filter. A spam
// comment is logged, counted and hidden; hide failures are recorded on the log
// and do not produce an error.
func (s *SpamFilterService) Evaluate(ctx context.Context, connectionID uuid.UUID, event *models.CommentEvent) (*SpamVerdict, error) {
	config, err := s.spam.GetConfigByConnection(ctx, connectionID)
	if errors.Is(err, repository.ErrNotFound) {
		return &SpamVerdict{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load spam filter: %w", err)
	}

	if !config.IsActive() {
		return &SpamVerdict{}, nil
	}

	isSpam, reasons := ClassifySpam(event.Text, config.EffectiveKeywords(), config.BlockURLs)
	if !isSpam {
		return &SpamVerdict{}, nil
	}

	spamLog := &models.SpamLog{
		SpamFilterID:      config.ID,
		CommentID:         event.CommentID,
		CommentText:       event.Text,
		CommenterUserID:   event.CommenterID,
		CommenterUsername: event.CommenterUsername,
		MediaID:           event.MediaID,
		Reasons:           reasons,
		Status:            models.SpamLogStatusDetected,
		WebhookPayload:    event.Raw,
	}

	err = s.spam.CreateLog(ctx, spamLog)
	if errors.Is(err, repository.ErrDuplicate) {
		existing, err := s.spam.GetLogByComment(ctx, config.ID, event.CommentID)
		if err != nil {
			return nil, fmt.Errorf("failed to load spam log: %w", err)
		}
		if existing.Status != models.SpamLogStatusDetected {
			s.log.Infow("spam comment already handled", "comment_id", event.CommentID, "status", existing.Status)
			return &SpamVerdict{IsSpam: true, Reasons: existing.Reasons, LogID: &existing.ID, Status: existing.Status}, nil
		}
		// an earlier attempt stopped before the hide step
		s.log.Infow("resuming spam comment", "comment_id", event.CommentID, "spam_log_id", existing.ID)
		spamLog = existing
	} else if err != nil {
		return nil, fmt.Errorf("failed to record spam comment: %w", err)
	} else {
		s.log.Infow("spam comment detected",
			"comment_id", event.CommentID,
			"media_id", event.MediaID,
			"reasons", reasons,
		)
	}

	verdict := &SpamVerdict{IsSpam: true, Reasons: spamLog.Reasons, LogID: &spamLog.ID}

	conn, err := s.connections.GetByID(ctx, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}

	if hideErr := s.hide(ctx, conn, event.CommentID); hideErr != nil {
		s.log.Warnw("failed to hide spam comment", "comment_id", event.CommentID, "error", hideErr)
		metrics.SpamDetections.WithLabelValues("hide_failed").Inc()
		if err := s.spam.MarkLogFailed(ctx, spamLog.ID, hideErr.Error()); err != nil {
			return nil, err
		}
		verdict.Status = models.SpamLogStatusFailed
		return verdict, nil
	}

	metrics.SpamDetections.WithLabelValues("hidden").Inc()
	if err := s.spam.MarkLogHidden(ctx, spamLog.ID); err != nil {
		return nil, err
	}

	verdict.Status = models.SpamLogStatusHidden
	return verdict, nil
}

func (s *SpamFilterService) hide(ctx context.Context, conn *models.AccountConnection, commentID string) error {
	if !conn.IsUsable(s.now()) {
		return fmt.Errorf("Instagram connection is not active: %s", conn.Status)
	}

	token, err := conn.Credential(ctx, s.credentials)
	if err != nil {
		return fmt.Errorf("failed to resolve credential: %w", err)
	}

	if _, err := s.moderation.HideComment(ctx, commentID, token); err != nil {
		return err
	}
	return nil
}

// GetOrCreateConfig returns the connection's filter, creating an inactive one with default keywords
func (s *SpamFilterService) GetOrCreateConfig(ctx context.Context, connectionID uuid.UUID) (*models.SpamFilterConfig, error) {
	config, err := s.spam.GetConfigByConnection(ctx, connectionID)
	if err == nil {
		return config, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load spam filter: %w", err)
	}

	config = &models.SpamFilterConfig{
		ConnectionID: connectionID,
		Status:       models.SpamFilterStatusInactive,
		SpamKeywords: append([]string(nil), models.DefaultSpamKeywords...),
		BlockURLs:    true,
	}

	err = s.spam.CreateConfig(ctx, config)
	if errors.Is(err, repository.ErrDuplicate) {
		// lost a concurrent create; read the winner
		return s.spam.GetConfigByConnection(ctx, connectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create spam filter: %w", err)
	}

	return config, nil
}

// UpdateConfig applies a partial update to the connection's filter
func (s *SpamFilterService) UpdateConfig(ctx context.Context, connectionID uuid.UUID, req *UpdateSpamFilterRequest) (*models.SpamFilterConfig, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	config, err := s.GetOrCreateConfig(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	if req.Status != nil {
		config.Status = *req.Status
	}
	if req.SpamKeywords != nil {
		config.SpamKeywords = *req.SpamKeywords
	}
	if req.BlockURLs != nil {
		config.BlockURLs = *req.BlockURLs
	}

	if err := s.spam.UpdateConfig(ctx, config); err != nil {
		return nil, fmt.Errorf("failed to update spam filter: %w", err)
	}

	s.log.Infow("spam filter updated",
		"ig_connection_id", connectionID,
		"status", config.Status,
		"keywords", len(config.SpamKeywords),
		"block_urls", config.BlockURLs,
	)
	return config, nil
}

// SetStatus activates or deactivates the connection's filter
func (s *SpamFilterService) SetStatus(ctx context.Context, connectionID uuid.UUID, status models.SpamFilterStatus) (*models.SpamFilterConfig, error) {
	return s.UpdateConfig(ctx, connectionID, &UpdateSpamFilterRequest{Status: &status})
}

// ListLogs returns recent spam logs of the connection's filter
func (s *SpamFilterService) ListLogs(ctx context.Context, connectionID uuid.UUID, status *models.SpamLogStatus, limit int) ([]*models.SpamLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	config, err := s.GetOrCreateConfig(ctx, connectionID)
	if err != nil {
		return nil, err
	}

	logs, err := s.spam.ListLogs(ctx, config.ID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list spam logs: %w", err)
	}
	return logs, nil
}
