package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"commentflow/internal/models"
	"commentflow/internal/repository"
)

var validate = validator.New()

// CampaignService handles campaign business logic
type CampaignService struct {
	campaigns repository.CampaignRepository
	logs      repository.DispatchLogRepository
	access    *AccessService
	now       func() time.Time
	log       *zap.SugaredLogger
}

// NewCampaignService creates a new campaign service
func NewCampaignService(
	campaigns repository.CampaignRepository,
	logs repository.DispatchLogRepository,
	access *AccessService,
	log *zap.SugaredLogger,
) *CampaignService {
	return &CampaignService{
		campaigns: campaigns,
		logs:      logs,
		access:    access,
		now:       time.Now,
		log:       log,
	}
}

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	ConnectionID    uuid.UUID `json:"ig_connection_id" validate:"required_without=WorkspaceID"`
	WorkspaceID     uuid.UUID `json:"workspace_id"`
	Name            string    `json:"name" validate:"required,max=255"`
	MediaID         string    `json:"media_id" validate:"required,max=255"`
	MessageTemplate string    `json:"message_template" validate:"required"`
	MaxSendsPerHour *int      `json:"max_sends_per_hour" validate:"omitempty,gt=0"`
}

// Validate validates the create campaign request
func (r *CreateCampaignRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%s failed on '%s'", fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return err
	}
	return nil
}

// CreateCampaign creates an active campaign on a connection the user can access.
// Without ig_connection_id the workspace's active connection is used.
func (s *CampaignService) CreateCampaign(ctx context.Context, userID string, req *CreateCampaignRequest) (*models.Campaign, error) {
	if err := req.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	var conn *models.AccountConnection
	var err error
	if req.ConnectionID != uuid.Nil {
		conn, err = s.access.AuthorizeConnection(ctx, req.ConnectionID, userID)
	} else {
		conn, err = s.access.ActiveConnection(ctx, req.WorkspaceID, userID)
	}
	if err != nil {
		return nil, err
	}

	maxSends := models.DefaultMaxSendsPerHour
	if req.MaxSendsPerHour != nil {
		maxSends = *req.MaxSendsPerHour
	}

	now := s.now().UTC()
	campaign := &models.Campaign{
		ConnectionID:    conn.ID,
		Name:            req.Name,
		MediaID:         req.MediaID,
		MessageTemplate: req.MessageTemplate,
		Status:          models.CampaignStatusActive,
		MaxSendsPerHour: maxSends,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := campaign.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	if err := s.campaigns.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.log.Infow("campaign created",
		"campaign_id", campaign.ID,
		"ig_connection_id", campaign.ConnectionID,
		"media_id", campaign.MediaID,
	)
	return campaign, nil
}

// GetCampaign retrieves a campaign the user can access
func (s *CampaignService) GetCampaign(ctx context.Context, userID string, id uuid.UUID) (*models.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &NotFoundError{Resource: "campaign", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.access.AuthorizeConnection(ctx, campaign.ConnectionID, userID); err != nil {
		return nil, err
	}
	return campaign, nil
}

// PauseCampaign stops an active campaign from reacting to new comments
func (s *CampaignService) PauseCampaign(ctx context.Context, userID string, id uuid.UUID) (*models.Campaign, error) {
	return s.transition(ctx, userID, id, models.CampaignStatusActive, models.CampaignStatusPaused)
}

// ResumeCampaign reactivates a paused campaign
func (s *CampaignService) ResumeCampaign(ctx context.Context, userID string, id uuid.UUID) (*models.Campaign, error) {
	return s.transition(ctx, userID, id, models.CampaignStatusPaused, models.CampaignStatusActive)
}

func (s *CampaignService) transition(ctx context.Context, userID string, id uuid.UUID, from, to models.CampaignStatus) (*models.Campaign, error) {
	campaign, err := s.GetCampaign(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if campaign.Status != from {
		return nil, &BusinessLogicError{
			Message: fmt.Sprintf("campaign cannot move to %s: status is %s", to, campaign.Status),
		}
	}

	if err := s.campaigns.UpdateStatus(ctx, id, to); err != nil {
		return nil, fmt.Errorf("failed to update campaign status: %w", err)
	}

	campaign.Status = to
	campaign.UpdatedAt = s.now().UTC()
	s.log.Infow("campaign status changed", "campaign_id", id, "from", from, "to", to)
	return campaign, nil
}

// ListDispatchLogs returns the campaign's newest DM logs, optionally of one status.
// limit defaults to 50 and is capped at 500.
func (s *CampaignService) ListDispatchLogs(ctx context.Context, userID string, id uuid.UUID, status *models.DispatchStatus, limit int) ([]*models.DispatchLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	if _, err := s.GetCampaign(ctx, userID, id); err != nil {
		return nil, err
	}

	logs, err := s.logs.ListByCampaign(ctx, id, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dispatch logs: %w", err)
	}
	return logs, nil
}

// GetCampaignStats reports totals, last-24h dispatch counts and rate headroom
func (s *CampaignService) GetCampaignStats(ctx context.Context, userID string, id uuid.UUID) (*models.CampaignStats, error) {
	campaign, err := s.GetCampaign(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	counts, err := s.logs.CountByStatusSince(ctx, id, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count dispatches: %w", err)
	}

	lastHour, err := s.logs.CountSince(ctx, id, now.Add(-rateWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count dispatches: %w", err)
	}

	return &models.CampaignStats{
		TotalSent:   campaign.TotalSent,
		TotalFailed: campaign.TotalFailed,
		SuccessRate: campaign.SuccessRate(),
		Last24h:     *counts,
		CanSendMore: campaign.IsActive() && lastHour < campaign.MaxSendsPerHour,
		Status:      campaign.Status,
	}, nil
}
