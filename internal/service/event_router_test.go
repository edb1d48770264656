package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"commentflow/internal/models"
	"commentflow/internal/repository"
)

// MockDispatcher records dispatched campaign/comment pairs
type MockDispatcher struct {
	ProcessFunc func(ctx context.Context, campaign *models.Campaign, event *models.CommentEvent) (*DispatchOutcome, error)
	Dispatched  []string
}

func (m *MockDispatcher) ProcessCampaignForComment(ctx context.Context, campaign *models.Campaign, event *models.CommentEvent) (*DispatchOutcome, error) {
	m.Dispatched = append(m.Dispatched, campaign.Name+"/"+event.CommentID)
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, campaign, event)
	}
	return &DispatchOutcome{CampaignID: campaign.ID, Status: models.DispatchStatusSent}, nil
}

// MockSpamEvaluator returns a fixed verdict per comment id
type MockSpamEvaluator struct {
	Spam  map[string]bool
	Err   error
	Calls int
}

func (m *MockSpamEvaluator) Evaluate(ctx context.Context, connectionID uuid.UUID, event *models.CommentEvent) (*SpamVerdict, error) {
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Spam[event.CommentID] {
		return &SpamVerdict{IsSpam: true, Reasons: []string{ReasonContainsURL}, Status: models.SpamLogStatusHidden}, nil
	}
	return &SpamVerdict{}, nil
}

const twoCommentPayload = `{
  "object": "instagram",
  "entry": [{
    "id": "17841400000000001",
    "time": 1710417600,
    "changes": [
      {"field": "comments", "value": {"id": "c1", "text": "nice", "from": {"id": "u1", "username": "alice"}, "media": {"id": "media-1"}}},
      {"field": "mentions", "value": {"media_id": "media-1"}},
      {"field": "comments", "value": {"id": "c2", "text": "visit spam.com", "from": {"id": "u2", "username": "bob"}, "media": {"id": "media-1"}}}
    ]
  }]
}`

type routerFixture struct {
	router     *EventRouter
	campaigns  *MockCampaignRepository
	spam       *MockSpamEvaluator
	dispatcher *MockDispatcher
}

func setupRouter(active ...*models.Campaign) *routerFixture {
	f := &routerFixture{
		campaigns:  NewMockCampaignRepository(),
		spam:       &MockSpamEvaluator{Spam: map[string]bool{}},
		dispatcher: &MockDispatcher{},
	}
	f.campaigns.ListActiveByMediaFunc = func(ctx context.Context, mediaID string) ([]*models.Campaign, error) {
		return active, nil
	}
	f.campaigns.GetLatestByMediaFunc = func(ctx context.Context, mediaID string) (*models.Campaign, error) {
		if len(active) == 0 {
			return nil, repository.ErrNotFound
		}
		return active[len(active)-1], nil
	}
	f.router = NewEventRouter(f.campaigns, f.spam, f.dispatcher, testLogger())
	return f
}

// TestRouter_DispatchesEveryActiveCampaign tests fan-out to all active campaigns of the media
func TestRouter_DispatchesEveryActiveCampaign(t *testing.T) {
	// Setup
	first := newTestCampaign(uuid.New())
	first.Name = "first"
	second := newTestCampaign(first.ConnectionID)
	second.Name = "second"
	f := setupRouter(first, second)

	// Execute
	result, err := f.router.HandleInboundEvent(context.Background(), []byte(twoCommentPayload))

	// Verify
	AssertNoError(t, err)
	AssertEqual(t, len(result.Comments), 2)
	AssertEqual(t, f.dispatcher.Dispatched, []string{"first/c1", "second/c1", "first/c2", "second/c2"})
	AssertEqual(t, len(result.Comments[0].Dispatches), 2)
	AssertEqual(t, f.spam.Calls, 2)
}

// TestRouter_SpamShortCircuits tests that a spam comment is not dispatched
func TestRouter_SpamShortCircuits(t *testing.T) {
	// Setup
	campaign := newTestCampaign(uuid.New())
	campaign.Name = "only"
	f := setupRouter(campaign)
	f.spam.Spam["c2"] = true

	// Execute
	result, err := f.router.HandleInboundEvent(context.Background(), []byte(twoCommentPayload))

	// Verify
	AssertNoError(t, err)
	AssertEqual(t, f.dispatcher.Dispatched, []string{"only/c1"})
	AssertEqual(t, result.Comments[1].CommentID, "c2")
	AssertEqual(t, result.Comments[1].Reason, "Spam detected")
	AssertEqual(t, result.Comments[1].Spam.IsSpam, true)
	AssertEqual(t, len(result.Comments[1].Dispatches), 0)
}

// TestRouter_NoActiveCampaign tests comments on media without campaigns
func TestRouter_NoActiveCampaign(t *testing.T) {
	// Setup
	f := setupRouter()

	// Execute
	result, err := f.router.HandleInboundEvent(context.Background(), []byte(twoCommentPayload))

	// Verify
	AssertNoError(t, err)
	AssertEqual(t, len(result.Comments), 2)
	AssertEqual(t, result.Comments[0].Reason, ReasonNoActiveCampaign)
	AssertEqual(t, f.spam.Calls, 0)
	AssertEqual(t, len(f.dispatcher.Dispatched), 0)
}

// TestRouter_IgnoresOtherObjects tests that non-instagram envelopes are acknowledged
func TestRouter_IgnoresOtherObjects(t *testing.T) {
	// Setup
	f := setupRouter(newTestCampaign(uuid.New()))

	// Execute
	result, err := f.router.HandleInboundEvent(context.Background(), []byte(`{"object":"page","entry":[]}`))

	// Verify
	AssertNoError(t, err)
	AssertEqual(t, result.Comments, []CommentResult{})
	AssertCalls(t, f.campaigns.Calls, "ListActiveByMedia", 0)
}

// TestRouter_MalformedPayloads tests that malformed input is permanent and has no side effects
func TestRouter_MalformedPayloads(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		reason  string
	}{
		{
			name:    "invalid json",
			payload: `{"object":`,
			reason:  "invalid JSON",
		},
		{
			name:    "missing commenter",
			payload: `{"object":"instagram","entry":[{"id":"1","changes":[{"field":"comments","value":{"id":"c1","media":{"id":"m"}}}]}]}`,
			reason:  "comment missing required fields: [from.id from.username]",
		},
		{
			name:    "missing value",
			payload: `{"object":"instagram","entry":[{"id":"1","changes":[{"field":"comments"}]}]}`,
			reason:  "comment change has no value",
		},
		{
			name: "valid comment followed by malformed one",
			payload: `{"object":"instagram","entry":[{"id":"1","changes":[
				{"field":"comments","value":{"id":"c1","from":{"id":"u","username":"n"},"media":{"id":"m"}}},
				{"field":"comments","value":{"from":{"id":"u","username":"n"},"media":{"id":"m"}}}]}]}`,
			reason: "comment missing required fields: [id]",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Setup
			f := setupRouter(newTestCampaign(uuid.New()))

			// Execute
			_, err := f.router.HandleInboundEvent(context.Background(), []byte(tc.payload))

			// Verify
			var malformed *MalformedPayloadError
			AssertErrorAs(t, err, &malformed)
			AssertContains(t, malformed.Reason, tc.reason)
			AssertEqual(t, IsPermanent(err), true)
			AssertEqual(t, len(f.dispatcher.Dispatched), 0)
			AssertEqual(t, f.spam.Calls, 0)
		})
	}
}

// TestRouter_DispatchErrorIsJoined tests that one failing campaign does not stop the others
func TestRouter_DispatchErrorIsJoined(t *testing.T) {
	// Setup
	broken := newTestCampaign(uuid.New())
	broken.Name = "broken"
	healthy := newTestCampaign(broken.ConnectionID)
	healthy.Name = "healthy"
	f := setupRouter(broken, healthy)
	dbErr := errors.New("db down")
	f.dispatcher.ProcessFunc = func(ctx context.Context, campaign *models.Campaign, event *models.CommentEvent) (*DispatchOutcome, error) {
		if campaign.Name == "broken" {
			return nil, dbErr
		}
		return &DispatchOutcome{CampaignID: campaign.ID, Status: models.DispatchStatusSent}, nil
	}

	// Execute
	result, err := f.router.HandleInboundEvent(context.Background(), []byte(twoCommentPayload))

	// Verify
	if !errors.Is(err, dbErr) {
		t.Fatalf("Expected joined error to wrap %v but got %v", dbErr, err)
	}
	AssertEqual(t, IsPermanent(err), false)
	AssertEqual(t, len(f.dispatcher.Dispatched), 4)
	AssertEqual(t, len(result.Comments), 2)
	AssertEqual(t, len(result.Comments[0].Dispatches), 1)
}

// TestRouter_SpamError tests that a spam stage failure is transient
func TestRouter_SpamError(t *testing.T) {
	// Setup
	f := setupRouter(newTestCampaign(uuid.New()))
	f.spam.Err = errors.New("spam store unavailable")

	// Execute
	_, err := f.router.HandleInboundEvent(context.Background(), []byte(twoCommentPayload))

	// Verify
	AssertContains(t, err.Error(), "spam store unavailable")
	AssertEqual(t, IsPermanent(err), false)
	AssertEqual(t, len(f.dispatcher.Dispatched), 0)
}

// TestRouter_RedeliveredPayloadSentOnce tests that the same webhook body routed
// twice through a real dispatch service produces a single DM
func TestRouter_RedeliveredPayloadSentOnce(t *testing.T) {
	// Setup
	d := setupDispatch()
	d.campaigns.ListActiveByMediaFunc = func(ctx context.Context, mediaID string) ([]*models.Campaign, error) {
		return []*models.Campaign{d.campaign}, nil
	}
	router := NewEventRouter(d.campaigns, &MockSpamEvaluator{Spam: map[string]bool{}}, d.svc, testLogger())
	payload := []byte(`{"object":"instagram","entry":[{"id":"17841400000000001","time":1710417600,"changes":[
		{"field":"comments","value":{"id":"c1","text":"how much?","from":{"id":"u1","username":"alice"},"media":{"id":"media-1"}}}]}]}`)

	first, err := router.HandleInboundEvent(context.Background(), payload)
	AssertNoError(t, err)

	// Execute
	second, err := router.HandleInboundEvent(context.Background(), payload)

	// Verify
	AssertNoError(t, err)
	AssertEqual(t, first.Comments[0].Dispatches[0].Status, models.DispatchStatusSent)
	AssertEqual(t, second.Comments[0].Dispatches[0].Status, models.DispatchStatusSkipped)
	AssertEqual(t, second.Comments[0].Dispatches[0].Reason, ReasonAlreadyProcessed)
	AssertEqual(t, len(d.logs.ByStatus(models.DispatchStatusSent)), 1)
	AssertEqual(t, len(d.logs.Logs), 1)
	AssertCalls(t, d.graph.Calls, "SendPrivateReply", 1)
	AssertCalls(t, d.campaigns.Calls, "IncrementSent", 1)
}
