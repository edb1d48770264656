package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"commentflow/internal/gateway"
	"commentflow/internal/metrics"
	"commentflow/internal/models"
	"commentflow/internal/repository"
)

// Skip and failure reasons reported by the dispatch engine
const (
	ReasonAlreadyProcessed  = "Already processed"
	ReasonHourlyLimit       = "Hourly limit reached"
	ReasonHourlyLimitLogged = "Hourly send limit reached"
	ReasonDMQuotaExceeded   = "Monthly DM quota exceeded"
	ReasonNoActiveCampaign  = "No active campaign"
	ReasonQuotaCheckFailed  = "Quota check failed"
)

// rateWindow is the sliding window of max_sends_per_hour
const rateWindow = time.Hour

// oauthErrorCode is the platform code for an invalid or expired access token
const oauthErrorCode = "190"

// MessagingGateway sends direct messages on the platform
type MessagingGateway interface {
	SendPrivateReply(ctx context.Context, accountID, commentID, text, token string) (*gateway.SendResult, error)
}

// QuotaIncrementer is the check-and-increment primitive of the quota ledger.
// Release hands back a unit whose send did not go out.
type QuotaIncrementer interface {
	CheckAndIncrement(ctx context.Context, workspaceID uuid.UUID, metric models.Metric, amount int) (*models.UsageCounter, error)
	Release(ctx context.Context, workspaceID uuid.UUID, period Period, metric models.Metric, amount int) error
}

// DispatchOutcome is the result of one campaign for one comment
type DispatchOutcome struct {
	CampaignID uuid.UUID             `json:"campaign_id"`
	Status     models.DispatchStatus `json:"status"`
	Reason     string                `json:"reason,omitempty"`
	LogID      *uuid.UUID            `json:"log_id,omitempty"`
}

// DispatchService is the rate-limited, idempotent DM state machine
type DispatchService struct {
	campaigns      repository.CampaignRepository
	logs           repository.DispatchLogRepository
	connections    repository.ConnectionRepository
	messaging      MessagingGateway
	credentials    models.CredentialStore
	quota          QuotaIncrementer
	enforceDMQuota bool
	now            func() time.Time
	log            *zap.SugaredLogger
}

// NewDispatchService creates a new dispatch service. When enforceDMQuota is set
// each send consumes one dm_sent unit from the workspace quota right before the
// gateway call; the unit is released again if the gateway call fails.
func NewDispatchService(
	campaigns repository.CampaignRepository,
	logs repository.DispatchLogRepository,
	connections repository.ConnectionRepository,
	messaging MessagingGateway,
	credentials models.CredentialStore,
	quota QuotaIncrementer,
	enforceDMQuota bool,
	log *zap.SugaredLogger,
) *DispatchService {
	return &DispatchService{
		campaigns:      campaigns,
		logs:           logs,
		connections:    connections,
		messaging:      messaging,
		credentials:    credentials,
		quota:          quota,
		enforceDMQuota: enforceDMQuota,
		now:            time.Now,
		log:            log,
	}
}

// ProcessCampaignForComment runs one campaign against one comment. Gateway and
// connection problems end in a failed log row and are not returned as errors;
// only storage failures are.
func (s *DispatchService) ProcessCampaignForComment(ctx context.Context, campaign *models.Campaign, event *models.CommentEvent) (*DispatchOutcome, error) {
	ctx, span := otel.Tracer("commentflow/dispatch").Start(ctx, "dispatch.process_campaign")
	defer span.End()
	span.SetAttributes(
		attribute.String("campaign.id", campaign.ID.String()),
		attribute.String("comment.id", event.CommentID),
	)

	outcome, err := s.process(ctx, campaign, event)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.String("dispatch.status", string(outcome.Status)))
	metrics.DispatchOutcomes.WithLabelValues(string(outcome.Status)).Inc()
	return outcome, nil
}

func (s *DispatchService) process(ctx context.Context, campaign *models.Campaign, event *models.CommentEvent) (*DispatchOutcome, error) {
	outcome := &DispatchOutcome{CampaignID: campaign.ID}

	// 1. dedup
	exists, err := s.logs.ExistsForComment(ctx, campaign.ID, event.CommentID)
	if err != nil {
		return nil, err
	}
	if exists {
		return skipped(outcome, ReasonAlreadyProcessed), nil
	}

	// 2. sliding hourly window
	sent, err := s.logs.CountSince(ctx, campaign.ID, s.now().Add(-rateWindow))
	if err != nil {
		return nil, err
	}
	if sent >= campaign.MaxSendsPerHour {
		if err := s.recordSkip(ctx, campaign, event, ReasonHourlyLimitLogged, outcome); err != nil {
			return nil, err
		}
		s.log.Infow("hourly send limit reached",
			"campaign_id", campaign.ID,
			"comment_id", event.CommentID,
			"max_sends_per_hour", campaign.MaxSendsPerHour,
		)
		outcome.Reason = ReasonHourlyLimit
		return outcome, nil
	}

	conn, err := s.connections.GetByID(ctx, campaign.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load connection for campaign %s: %w", campaign.ID, err)
	}

	// 3. pending attempt; the partial unique index settles concurrent redeliveries
	entry := &models.DispatchLog{
		CampaignID:        campaign.ID,
		CommentID:         event.CommentID,
		RecipientUserID:   event.CommenterID,
		RecipientUsername: event.CommenterUsername,
		CommentText:       event.Text,
		MessageSent:       campaign.RenderMessage(),
		Status:            models.DispatchStatusPending,
	}
	err = s.logs.Create(ctx, entry)
	if errors.Is(err, repository.ErrDuplicate) {
		return skipped(outcome, ReasonAlreadyProcessed), nil
	}
	if err != nil {
		return nil, err
	}
	outcome.LogID = &entry.ID

	// 4. connection health
	now := s.now()
	if !conn.IsUsable(now) {
		status := conn.Status
		if status == models.ConnectionStatusActive && conn.IsTokenExpired(now) {
			status = models.ConnectionStatusExpired
			msg := "Access token expired"
			if err := s.connections.UpdateStatus(ctx, conn.ID, status, &msg); err != nil {
				return nil, err
			}
		}
		return s.fail(ctx, campaign, entry, outcome, "", fmt.Sprintf("Instagram connection is not active: %s", status), nil)
	}

	token, err := conn.Credential(ctx, s.credentials)
	if err != nil {
		s.log.Warnw("credential unavailable", "ig_connection_id", conn.ID, "error", err)
		return s.fail(ctx, campaign, entry, outcome, "credential_unavailable", "Failed to resolve access token", nil)
	}

	// monthly dm_sent quota
	var reserved *models.UsageCounter
	if s.enforceDMQuota && s.quota != nil {
		reserved, err = s.quota.CheckAndIncrement(ctx, conn.WorkspaceID, models.MetricDMSent, 1)
		var quotaErr *QuotaExceededError
		if errors.As(err, &quotaErr) {
			if err := s.logs.MarkSkipped(ctx, entry.ID, ReasonDMQuotaExceeded); err != nil {
				return nil, err
			}
			return skipped(outcome, ReasonDMQuotaExceeded), nil
		}
		if err != nil {
			if skipErr := s.logs.MarkSkipped(ctx, entry.ID, ReasonQuotaCheckFailed); skipErr != nil {
				s.log.Warnw("failed to mark dispatch log skipped", "log_id", entry.ID, "error", skipErr)
			}
			return nil, err
		}
	}

	// 5. send
	result, err := s.messaging.SendPrivateReply(ctx, conn.ExternalAccountID, event.CommentID, entry.MessageSent, token)
	if err != nil {
		s.releaseDM(ctx, conn.WorkspaceID, reserved)

		// 7. gateway failure
		var apiErr *gateway.APIError
		if !errors.As(err, &apiErr) {
			return s.fail(ctx, campaign, entry, outcome, gateway.CodeNetworkError, err.Error(), nil)
		}
		if apiErr.Code == oauthErrorCode {
			msg := apiErr.Message
			if err := s.connections.UpdateStatus(ctx, conn.ID, models.ConnectionStatusError, &msg); err != nil {
				return nil, err
			}
		}
		return s.fail(ctx, campaign, entry, outcome, apiErr.Code, apiErr.Message, models.JSONDocument(apiErr.Body))
	}

	// 6. success
	if err := s.logs.MarkSent(ctx, entry.ID, result.Raw); err != nil {
		return nil, err
	}
	if err := s.campaigns.IncrementSent(ctx, campaign.ID); err != nil {
		return nil, err
	}

	s.log.Infow("dm sent",
		"campaign_id", campaign.ID,
		"comment_id", event.CommentID,
		"recipient", event.CommenterUsername,
		"message_id", result.MessageID,
	)

	outcome.Status = models.DispatchStatusSent
	return outcome, nil
}

// releaseDM hands back the dm_sent unit taken for a send that failed. A failed
// release is logged.
func (s *DispatchService) releaseDM(ctx context.Context, workspaceID uuid.UUID, reserved *models.UsageCounter) {
	if reserved == nil {
		return
	}
	period := Period{Year: reserved.Year, Month: reserved.Month}
	if err := s.quota.Release(ctx, workspaceID, period, models.MetricDMSent, 1); err != nil {
		s.log.Warnw("failed to release dm quota",
			"workspace_id", workspaceID,
			"error", err,
		)
	}
}

func (s *DispatchService) recordSkip(ctx context.Context, campaign *models.Campaign, event *models.CommentEvent, reason string, outcome *DispatchOutcome) error {
	entry := &models.DispatchLog{
		CampaignID:        campaign.ID,
		CommentID:         event.CommentID,
		RecipientUserID:   event.CommenterID,
		RecipientUsername: event.CommenterUsername,
		CommentText:       event.Text,
		MessageSent:       campaign.RenderMessage(),
		Status:            models.DispatchStatusSkipped,
		ErrorMessage:      &reason,
	}
	if err := s.logs.Create(ctx, entry); err != nil {
		return err
	}
	outcome.Status = models.DispatchStatusSkipped
	outcome.LogID = &entry.ID
	return nil
}

func (s *DispatchService) fail(ctx context.Context, campaign *models.Campaign, entry *models.DispatchLog, outcome *DispatchOutcome, code, message string, body []byte) (*DispatchOutcome, error) {
	if err := s.logs.MarkFailed(ctx, entry.ID, code, message, body); err != nil {
		return nil, err
	}
	if err := s.campaigns.IncrementFailed(ctx, campaign.ID); err != nil {
		return nil, err
	}

	s.log.Warnw("dm failed",
		"campaign_id", campaign.ID,
		"comment_id", entry.CommentID,
		"error_code", code,
		"error", message,
	)

	outcome.Status = models.DispatchStatusFailed
	outcome.Reason = message
	return outcome, nil
}

func skipped(outcome *DispatchOutcome, reason string) *DispatchOutcome {
	outcome.Status = models.DispatchStatusSkipped
	outcome.Reason = reason
	return outcome
}
