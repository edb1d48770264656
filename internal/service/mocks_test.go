package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"commentflow/internal/gateway"
	"commentflow/internal/models"
	"commentflow/internal/queue"
	"commentflow/internal/repository"
)

// MockWorkspaceRepository mocks WorkspaceRepository
type MockWorkspaceRepository struct {
	GetByIDFunc  func(ctx context.Context, id uuid.UUID) (*models.Workspace, error)
	IsMemberFunc func(ctx context.Context, workspaceID uuid.UUID, userID string) (bool, error)

	Calls map[string]int
}

func NewMockWorkspaceRepository() *MockWorkspaceRepository {
	return &MockWorkspaceRepository{Calls: make(map[string]int)}
}

func (m *MockWorkspaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workspace, error) {
	m.Calls["GetByID"]++
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	ws := newTestWorkspace(models.PlanStarter)
	ws.ID = id
	return ws, nil
}

func (m *MockWorkspaceRepository) IsMember(ctx context.Context, workspaceID uuid.UUID, userID string) (bool, error) {
	m.Calls["IsMember"]++
	if m.IsMemberFunc != nil {
		return m.IsMemberFunc(ctx, workspaceID, userID)
	}
	return true, nil
}

// MockUsageRepository is an in-memory UsageRepository that serializes
// IncrementWithinLimit the way the row lock does.
type MockUsageRepository struct {
	GetOrCreateFunc func(ctx context.Context, workspaceID uuid.UUID, year, month int) (*models.UsageCounter, error)
	DecrementErr    error

	mu       sync.Mutex
	counters map[string]*models.UsageCounter
	Calls    map[string]int
}

func NewMockUsageRepository() *MockUsageRepository {
	return &MockUsageRepository{
		counters: make(map[string]*models.UsageCounter),
		Calls:    make(map[string]int),
	}
}

func usageKey(workspaceID uuid.UUID, year, month int) string {
	return workspaceID.String() + "/" + time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// Seed sets the stored counter for a period
func (m *MockUsageRepository) Seed(counter *models.UsageCounter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[usageKey(counter.WorkspaceID, counter.Year, counter.Month)] = counter
}

func (m *MockUsageRepository) row(workspaceID uuid.UUID, year, month int) *models.UsageCounter {
	key := usageKey(workspaceID, year, month)
	counter, ok := m.counters[key]
	if !ok {
		counter = &models.UsageCounter{ID: uuid.New(), WorkspaceID: workspaceID, Year: year, Month: month}
		m.counters[key] = counter
	}
	return counter
}

func (m *MockUsageRepository) GetOrCreate(ctx context.Context, workspaceID uuid.UUID, year, month int) (*models.UsageCounter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["GetOrCreate"]++
	if m.GetOrCreateFunc != nil {
		return m.GetOrCreateFunc(ctx, workspaceID, year, month)
	}
	copied := *m.row(workspaceID, year, month)
	return &copied, nil
}

func (m *MockUsageRepository) IncrementWithinLimit(ctx context.Context, workspaceID uuid.UUID, year, month int, metric models.Metric, amount, limit int) (*models.UsageCounter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["IncrementWithinLimit"]++

	counter := m.row(workspaceID, year, month)
	if limit != Unlimited && counter.Value(metric)+amount > limit {
		copied := *counter
		return &copied, false, nil
	}

	switch metric {
	case models.MetricCommentsCollected:
		counter.CommentsCollected += amount
	case models.MetricDMSent:
		counter.DMSent += amount
	}
	copied := *counter
	return &copied, true, nil
}

func (m *MockUsageRepository) Decrement(ctx context.Context, workspaceID uuid.UUID, year, month int, metric models.Metric, amount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Decrement"]++
	if m.DecrementErr != nil {
		return m.DecrementErr
	}

	counter := m.row(workspaceID, year, month)
	switch metric {
	case models.MetricCommentsCollected:
		counter.CommentsCollected = max(counter.CommentsCollected-amount, 0)
	case models.MetricDMSent:
		counter.DMSent = max(counter.DMSent-amount, 0)
	}
	return nil
}

// Value returns the stored value of metric for the period
func (m *MockUsageRepository) Value(workspaceID uuid.UUID, year, month int, metric models.Metric) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.row(workspaceID, year, month).Value(metric)
}

// MockConnectionRepository mocks ConnectionRepository
type MockConnectionRepository struct {
	GetByIDFunc               func(ctx context.Context, id uuid.UUID) (*models.AccountConnection, error)
	GetActiveForWorkspaceFunc func(ctx context.Context, workspaceID uuid.UUID) (*models.AccountConnection, error)
	UpdateStatusFunc          func(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, lastError *string) error

	mu            sync.Mutex
	StatusUpdates []models.ConnectionStatus
	Calls         map[string]int
}

func NewMockConnectionRepository() *MockConnectionRepository {
	return &MockConnectionRepository{Calls: make(map[string]int)}
}

func (m *MockConnectionRepository) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[method]++
}

func (m *MockConnectionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AccountConnection, error) {
	m.count("GetByID")
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	conn := newTestConnection()
	conn.ID = id
	return conn, nil
}

func (m *MockConnectionRepository) GetActiveForWorkspace(ctx context.Context, workspaceID uuid.UUID) (*models.AccountConnection, error) {
	m.count("GetActiveForWorkspace")
	if m.GetActiveForWorkspaceFunc != nil {
		return m.GetActiveForWorkspaceFunc(ctx, workspaceID)
	}
	return nil, repository.ErrNotFound
}

func (m *MockConnectionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConnectionStatus, lastError *string) error {
	m.count("UpdateStatus")
	m.mu.Lock()
	m.StatusUpdates = append(m.StatusUpdates, status)
	m.mu.Unlock()
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status, lastError)
	}
	return nil
}

func (m *MockConnectionRepository) MarkVerified(ctx context.Context, id uuid.UUID) error {
	m.count("MarkVerified")
	return nil
}

// MockCampaignRepository mocks CampaignRepository
type MockCampaignRepository struct {
	CreateFunc            func(ctx context.Context, campaign *models.Campaign) error
	GetByIDFunc           func(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	UpdateStatusFunc      func(ctx context.Context, id uuid.UUID, status models.CampaignStatus) error
	ListActiveByMediaFunc func(ctx context.Context, mediaID string) ([]*models.Campaign, error)
	GetLatestByMediaFunc  func(ctx context.Context, mediaID string) (*models.Campaign, error)

	mu    sync.Mutex
	Calls map[string]int
}

func NewMockCampaignRepository() *MockCampaignRepository {
	return &MockCampaignRepository{Calls: make(map[string]int)}
}

func (m *MockCampaignRepository) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[method]++
}

func (m *MockCampaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	m.count("Create")
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, campaign)
	}
	campaign.ID = uuid.New()
	return nil
}

func (m *MockCampaignRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	m.count("GetByID")
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *MockCampaignRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.CampaignStatus) error {
	m.count("UpdateStatus")
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status)
	}
	return nil
}

func (m *MockCampaignRepository) ListActiveByMedia(ctx context.Context, mediaID string) ([]*models.Campaign, error) {
	m.count("ListActiveByMedia")
	if m.ListActiveByMediaFunc != nil {
		return m.ListActiveByMediaFunc(ctx, mediaID)
	}
	return nil, nil
}

func (m *MockCampaignRepository) GetLatestByMedia(ctx context.Context, mediaID string) (*models.Campaign, error) {
	m.count("GetLatestByMedia")
	if m.GetLatestByMediaFunc != nil {
		return m.GetLatestByMediaFunc(ctx, mediaID)
	}
	return nil, repository.ErrNotFound
}

func (m *MockCampaignRepository) IncrementSent(ctx context.Context, id uuid.UUID) error {
	m.count("IncrementSent")
	return nil
}

func (m *MockCampaignRepository) IncrementFailed(ctx context.Context, id uuid.UUID) error {
	m.count("IncrementFailed")
	return nil
}

// MockDispatchLogRepository is an in-memory DispatchLogRepository enforcing
// the one non-skipped row per (campaign, comment) rule.
type MockDispatchLogRepository struct {
	CountSinceFunc     func(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error)
	CreateFunc         func(ctx context.Context, log *models.DispatchLog) error
	ListByCampaignFunc func(ctx context.Context, campaignID uuid.UUID, status *models.DispatchStatus, limit int) ([]*models.DispatchLog, error)

	mu    sync.Mutex
	Logs  map[uuid.UUID]*models.DispatchLog
	Calls map[string]int
}

func NewMockDispatchLogRepository() *MockDispatchLogRepository {
	return &MockDispatchLogRepository{
		Logs:  make(map[uuid.UUID]*models.DispatchLog),
		Calls: make(map[string]int),
	}
}

func (m *MockDispatchLogRepository) Create(ctx context.Context, log *models.DispatchLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["Create"]++
	if m.CreateFunc != nil {
		if err := m.CreateFunc(ctx, log); err != nil {
			return err
		}
	}
	if log.Status != models.DispatchStatusSkipped {
		for _, existing := range m.Logs {
			if existing.CampaignID == log.CampaignID && existing.CommentID == log.CommentID &&
				existing.Status != models.DispatchStatusSkipped {
				return repository.ErrDuplicate
			}
		}
	}
	log.ID = uuid.New()
	log.CreatedAt = fixedNow
	copied := *log
	m.Logs[log.ID] = &copied
	return nil
}

func (m *MockDispatchLogRepository) ExistsForComment(ctx context.Context, campaignID uuid.UUID, commentID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ExistsForComment"]++
	for _, existing := range m.Logs {
		if existing.CampaignID == campaignID && existing.CommentID == commentID &&
			existing.Status != models.DispatchStatusSkipped {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockDispatchLogRepository) CountSince(ctx context.Context, campaignID uuid.UUID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["CountSince"]++
	if m.CountSinceFunc != nil {
		return m.CountSinceFunc(ctx, campaignID, since)
	}
	count := 0
	for _, existing := range m.Logs {
		if existing.CampaignID == campaignID && !existing.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MockDispatchLogRepository) CountByStatusSince(ctx context.Context, campaignID uuid.UUID, since time.Time) (*models.DispatchCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["CountByStatusSince"]++
	counts := &models.DispatchCounts{}
	for _, existing := range m.Logs {
		if existing.CampaignID != campaignID || existing.CreatedAt.Before(since) {
			continue
		}
		counts.Total++
		switch existing.Status {
		case models.DispatchStatusSent:
			counts.Sent++
		case models.DispatchStatusFailed:
			counts.Failed++
		case models.DispatchStatusPending:
			counts.Pending++
		case models.DispatchStatusSkipped:
			counts.Skipped++
		}
	}
	return counts, nil
}

func (m *MockDispatchLogRepository) MarkSent(ctx context.Context, id uuid.UUID, response json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["MarkSent"]++
	if err := checkJSONB(response); err != nil {
		return err
	}
	if log, ok := m.Logs[id]; ok && log.Status == models.DispatchStatusPending {
		log.Status = models.DispatchStatusSent
		log.APIResponse = response
		sentAt := fixedNow
		log.SentAt = &sentAt
	}
	return nil
}

func (m *MockDispatchLogRepository) MarkFailed(ctx context.Context, id uuid.UUID, code, message string, response json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["MarkFailed"]++
	if err := checkJSONB(response); err != nil {
		return err
	}
	if log, ok := m.Logs[id]; ok && log.Status == models.DispatchStatusPending {
		log.Status = models.DispatchStatusFailed
		if code != "" {
			log.ErrorCode = &code
		}
		log.ErrorMessage = &message
		log.APIResponse = response
	}
	return nil
}

func (m *MockDispatchLogRepository) MarkSkipped(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["MarkSkipped"]++
	if log, ok := m.Logs[id]; ok && log.Status == models.DispatchStatusPending {
		log.Status = models.DispatchStatusSkipped
		log.ErrorMessage = &reason
	}
	return nil
}

func (m *MockDispatchLogRepository) ListByCampaign(ctx context.Context, campaignID uuid.UUID, status *models.DispatchStatus, limit int) ([]*models.DispatchLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls["ListByCampaign"]++
	if m.ListByCampaignFunc != nil {
		return m.ListByCampaignFunc(ctx, campaignID, status, limit)
	}
	out := []*models.DispatchLog{}
	for _, log := range m.Logs {
		if log.CampaignID != campaignID || (status != nil && log.Status != *status) {
			continue
		}
		out = append(out, log)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// checkJSONB rejects what a postgres jsonb column would reject
func checkJSONB(raw json.RawMessage) error {
	if len(raw) > 0 && !json.Valid(raw) {
		return errors.New("invalid input syntax for type json")
	}
	return nil
}

// ByStatus returns the stored logs with the given status
func (m *MockDispatchLogRepository) ByStatus(status models.DispatchStatus) []*models.DispatchLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DispatchLog
	for _, log := range m.Logs {
		if log.Status == status {
			out = append(out, log)
		}
	}
	return out
}

// MockSpamRepository mocks SpamRepository. Spam logs are kept in memory with
// one log per (filter, comment) and the filter totals they imply.
type MockSpamRepository struct {
	GetConfigByConnectionFunc func(ctx context.Context, connectionID uuid.UUID) (*models.SpamFilterConfig, error)
	CreateConfigFunc          func(ctx context.Context, config *models.SpamFilterConfig) error
	CreateLogFunc             func(ctx context.Context, log *models.SpamLog) error
	MarkLogHiddenFunc         func(ctx context.Context, id uuid.UUID) error
	ListLogsFunc              func(ctx context.Context, configID uuid.UUID, status *models.SpamLogStatus, limit int) ([]*models.SpamLog, error)

	Updated       *models.SpamFilterConfig
	FailedMessage string
	Logs          map[uuid.UUID]*models.SpamLog
	Detected      int
	Hidden        int
	Calls         map[string]int
}

func NewMockSpamRepository() *MockSpamRepository {
	return &MockSpamRepository{
		Logs:  make(map[uuid.UUID]*models.SpamLog),
		Calls: make(map[string]int),
	}
}

func (m *MockSpamRepository) GetConfigByConnection(ctx context.Context, connectionID uuid.UUID) (*models.SpamFilterConfig, error) {
	m.Calls["GetConfigByConnection"]++
	if m.GetConfigByConnectionFunc != nil {
		return m.GetConfigByConnectionFunc(ctx, connectionID)
	}
	return nil, repository.ErrNotFound
}

func (m *MockSpamRepository) CreateConfig(ctx context.Context, config *models.SpamFilterConfig) error {
	m.Calls["CreateConfig"]++
	if m.CreateConfigFunc != nil {
		return m.CreateConfigFunc(ctx, config)
	}
	config.ID = uuid.New()
	return nil
}

func (m *MockSpamRepository) UpdateConfig(ctx context.Context, config *models.SpamFilterConfig) error {
	m.Calls["UpdateConfig"]++
	m.Updated = config
	return nil
}

func (m *MockSpamRepository) CreateLog(ctx context.Context, log *models.SpamLog) error {
	m.Calls["CreateLog"]++
	if m.CreateLogFunc != nil {
		if err := m.CreateLogFunc(ctx, log); err != nil {
			return err
		}
	}
	for _, existing := range m.Logs {
		if existing.SpamFilterID == log.SpamFilterID && existing.CommentID == log.CommentID {
			return repository.ErrDuplicate
		}
	}
	log.ID = uuid.New()
	log.CreatedAt = fixedNow
	copied := *log
	m.Logs[log.ID] = &copied
	m.Detected++
	return nil
}

func (m *MockSpamRepository) GetLogByComment(ctx context.Context, configID uuid.UUID, commentID string) (*models.SpamLog, error) {
	m.Calls["GetLogByComment"]++
	for _, existing := range m.Logs {
		if existing.SpamFilterID == configID && existing.CommentID == commentID {
			copied := *existing
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *MockSpamRepository) MarkLogHidden(ctx context.Context, id uuid.UUID) error {
	m.Calls["MarkLogHidden"]++
	if m.MarkLogHiddenFunc != nil {
		if err := m.MarkLogHiddenFunc(ctx, id); err != nil {
			return err
		}
	}
	if log, ok := m.Logs[id]; ok && log.Status == models.SpamLogStatusDetected {
		log.Status = models.SpamLogStatusHidden
		m.Hidden++
	}
	return nil
}

func (m *MockSpamRepository) MarkLogFailed(ctx context.Context, id uuid.UUID, message string) error {
	m.Calls["MarkLogFailed"]++
	m.FailedMessage = message
	if log, ok := m.Logs[id]; ok && log.Status == models.SpamLogStatusDetected {
		log.Status = models.SpamLogStatusFailed
		log.ErrorMessage = &message
	}
	return nil
}

func (m *MockSpamRepository) ListLogs(ctx context.Context, configID uuid.UUID, status *models.SpamLogStatus, limit int) ([]*models.SpamLog, error) {
	m.Calls["ListLogs"]++
	if m.ListLogsFunc != nil {
		return m.ListLogsFunc(ctx, configID, status, limit)
	}
	return []*models.SpamLog{}, nil
}

// MockGraphGateway mocks the messaging and moderation gateways
type MockGraphGateway struct {
	SendPrivateReplyFunc func(ctx context.Context, accountID, commentID, text, token string) (*gateway.SendResult, error)
	HideCommentFunc      func(ctx context.Context, commentID, token string) (json.RawMessage, error)

	mu    sync.Mutex
	Calls map[string]int
}

func NewMockGraphGateway() *MockGraphGateway {
	return &MockGraphGateway{Calls: make(map[string]int)}
}

func (m *MockGraphGateway) SendPrivateReply(ctx context.Context, accountID, commentID, text, token string) (*gateway.SendResult, error) {
	m.mu.Lock()
	m.Calls["SendPrivateReply"]++
	m.mu.Unlock()
	if m.SendPrivateReplyFunc != nil {
		return m.SendPrivateReplyFunc(ctx, accountID, commentID, text, token)
	}
	return &gateway.SendResult{
		RecipientID: "user-1",
		MessageID:   "mid.1",
		Raw:         json.RawMessage(`{"recipient_id":"user-1","message_id":"mid.1"}`),
	}, nil
}

func (m *MockGraphGateway) HideComment(ctx context.Context, commentID, token string) (json.RawMessage, error) {
	m.mu.Lock()
	m.Calls["HideComment"]++
	m.mu.Unlock()
	if m.HideCommentFunc != nil {
		return m.HideCommentFunc(ctx, commentID, token)
	}
	return json.RawMessage(`{"success":true}`), nil
}

// MockCredentialStore is an in-memory CredentialStore
type MockCredentialStore struct {
	Tokens map[uuid.UUID]string
	Err    error
}

func (m *MockCredentialStore) GetDecryptedCredential(ctx context.Context, connectionID uuid.UUID) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if token, ok := m.Tokens[connectionID]; ok {
		return token, nil
	}
	return "test-token", nil
}

func (m *MockCredentialStore) SetCredential(ctx context.Context, connectionID uuid.UUID, token string) error {
	if m.Tokens == nil {
		m.Tokens = make(map[uuid.UUID]string)
	}
	m.Tokens[connectionID] = token
	return nil
}

// MockDeadLetter records dead letters
type MockDeadLetter struct {
	PublishFunc func(ctx context.Context, letter *queue.DeadLetter) error
	Letters     []*queue.DeadLetter
}

func (m *MockDeadLetter) PublishDeadLetter(ctx context.Context, letter *queue.DeadLetter) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, letter); err != nil {
			return err
		}
	}
	m.Letters = append(m.Letters, letter)
	return nil
}

func (m *MockDeadLetter) Close() error { return nil }
