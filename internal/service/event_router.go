package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"commentflow/internal/models"
	"commentflow/internal/repository"
)

// CampaignDispatcher runs one campaign against one comment
type CampaignDispatcher interface {
	ProcessCampaignForComment(ctx context.Context, campaign *models.Campaign, event *models.CommentEvent) (*DispatchOutcome, error)
}

// SpamEvaluator runs the spam stage for a connection
type SpamEvaluator interface {
	Evaluate(ctx context.Context, connectionID uuid.UUID, event *models.CommentEvent) (*SpamVerdict, error)
}

// CommentResult is the routing result of one comment
type CommentResult struct {
	CommentID  string            `json:"comment_id"`
	Spam       *SpamVerdict      `json:"spam,omitempty"`
	Dispatches []DispatchOutcome `json:"dispatches,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// ProcessingResult is the routing result of one webhook delivery
type ProcessingResult struct {
	Comments []CommentResult `json:"comments"`
}

// EventRouter turns webhook deliveries into spam checks and campaign dispatches
type EventRouter struct {
	campaigns  repository.CampaignRepository
	spam       SpamEvaluator
	dispatcher CampaignDispatcher
	log        *zap.SugaredLogger
}

// NewEventRouter creates a new event router
func NewEventRouter(campaigns repository.CampaignRepository, spam SpamEvaluator, dispatcher CampaignDispatcher, log *zap.SugaredLogger) *EventRouter {
	return &EventRouter{
		campaigns:  campaigns,
		spam:       spam,
		dispatcher: dispatcher,
		log:        log,
	}
}

// HandleInboundEvent routes one raw webhook body. Every comment change is
// validated before any side effect, so a malformed delivery changes nothing.
func (r *EventRouter) HandleInboundEvent(ctx context.Context, raw []byte) (*ProcessingResult, error) {
	ctx, span := otel.Tracer("commentflow/router").Start(ctx, "router.handle_inbound_event")
	defer span.End()

	var envelope models.WebhookEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &MalformedPayloadError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	result := &ProcessingResult{Comments: []CommentResult{}}

	if envelope.Object != models.WebhookObjectInstagram {
		r.log.Infow("ignoring webhook for unsupported object", "object", envelope.Object)
		return result, nil
	}

	events, err := r.collectComments(&envelope)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("webhook.comments", len(events)))

	var errs []error
	for _, event := range events {
		commentResult, err := r.routeComment(ctx, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("comment %s: %w", event.CommentID, err))
		}
		if commentResult != nil {
			result.Comments = append(result.Comments, *commentResult)
		}
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		return result, err
	}
	return result, nil
}

func (r *EventRouter) collectComments(envelope *models.WebhookEnvelope) ([]*models.CommentEvent, error) {
	var events []*models.CommentEvent
	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			switch change.Field {
			case models.WebhookFieldComments:
				event, err := parseCommentChange(entry, change)
				if err != nil {
					return nil, err
				}
				events = append(events, event)
			case models.WebhookFieldMentions, models.WebhookFieldMessages, models.WebhookFieldMessagingPostbacks:
				r.log.Debugw("webhook field not handled", "field", change.Field, "entry_id", entry.ID)
			default:
				r.log.Infow("unknown webhook field", "field", change.Field, "entry_id", entry.ID)
			}
		}
	}
	return events, nil
}

func parseCommentChange(entry models.WebhookEntry, change models.WebhookChange) (*models.CommentEvent, error) {
	var value models.CommentValue
	if len(change.Value) == 0 {
		return nil, &MalformedPayloadError{Reason: "comment change has no value"}
	}
	if err := json.Unmarshal(change.Value, &value); err != nil {
		return nil, &MalformedPayloadError{Reason: fmt.Sprintf("invalid comment value: %v", err)}
	}

	var missing []string
	if value.ID == "" {
		missing = append(missing, "id")
	}
	if value.From.ID == "" {
		missing = append(missing, "from.id")
	}
	if value.From.Username == "" {
		missing = append(missing, "from.username")
	}
	if value.Media.ID == "" {
		missing = append(missing, "media.id")
	}
	if len(missing) > 0 {
		return nil, &MalformedPayloadError{Reason: fmt.Sprintf("comment missing required fields: %v", missing)}
	}

	return &models.CommentEvent{
		CommentID:         value.ID,
		Text:              value.Text,
		CommenterID:       value.From.ID,
		CommenterUsername: value.From.Username,
		MediaID:           value.Media.ID,
		EntryID:           entry.ID,
		Time:              entry.Time,
		Raw:               change.Value,
	}, nil
}

func (r *EventRouter) routeComment(ctx context.Context, event *models.CommentEvent) (*CommentResult, error) {
	result := &CommentResult{CommentID: event.CommentID}

	// spam stage: the filter belongs to the connection of the newest campaign on this media
	latest, err := r.campaigns.GetLatestByMedia(ctx, event.MediaID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to resolve account for media %s: %w", event.MediaID, err)
	default:
		verdict, err := r.spam.Evaluate(ctx, latest.ConnectionID, event)
		if err != nil {
			return nil, err
		}
		if verdict.IsSpam {
			result.Spam = verdict
			result.Reason = "Spam detected"
			return result, nil
		}
	}

	campaigns, err := r.campaigns.ListActiveByMedia(ctx, event.MediaID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns for media %s: %w", event.MediaID, err)
	}
	if len(campaigns) == 0 {
		r.log.Debugw("no active campaign for media", "media_id", event.MediaID, "comment_id", event.CommentID)
		result.Reason = ReasonNoActiveCampaign
		return result, nil
	}

	var errs []error
	for _, campaign := range campaigns {
		outcome, err := r.dispatcher.ProcessCampaignForComment(ctx, campaign, event)
		if err != nil {
			r.log.Errorw("campaign dispatch failed",
				"campaign_id", campaign.ID,
				"comment_id", event.CommentID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("campaign %s: %w", campaign.ID, err))
			continue
		}
		result.Dispatches = append(result.Dispatches, *outcome)
	}

	return result, errors.Join(errs...)
}
