package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"

	"commentflow/internal/logger"
	"commentflow/internal/middleware"
	"commentflow/internal/repository"
	"commentflow/internal/service"
)

const testUser = "user-1"

// NewMockDB creates a sqlx handle backed by sqlmock
func NewMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

// setupTestRouter wires real repositories and services over db the way the API binary does
func setupTestRouter(db *sqlx.DB) *mux.Router {
	log := logger.NewNop()

	workspaceRepo := repository.NewWorkspaceRepository(db)
	connectionRepo := repository.NewConnectionRepository(db)
	campaignRepo := repository.NewCampaignRepository(db)

	accessSvc := service.NewAccessService(workspaceRepo, connectionRepo)
	quotaSvc := service.NewQuotaService(workspaceRepo, repository.NewUsageRepository(db), service.DefaultPlanLimits(), log)
	campaignSvc := service.NewCampaignService(campaignRepo, repository.NewDispatchLogRepository(db), accessSvc, log)
	spamSvc := service.NewSpamFilterService(repository.NewSpamRepository(db), connectionRepo, nil, nil, log)

	billingHandler := NewBillingHandler(quotaSvc, accessSvc)
	campaignHandler := NewCampaignHandler(campaignSvc)
	spamHandler := NewSpamFilterHandler(spamSvc, accessSvc)

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()

	billing := api.PathPrefix("/billing/workspaces/{workspace_id}").Subrouter()
	billing.Use(middleware.TenantContext)
	billing.HandleFunc("/plan", billingHandler.GetPlan).Methods(http.MethodGet)
	billing.HandleFunc("/usage", billingHandler.GetUsage).Methods(http.MethodGet)
	billing.HandleFunc("/test-increment", billingHandler.TestIncrement).Methods(http.MethodPost)

	campaigns := api.PathPrefix("/integrations/auto-dm-campaigns").Subrouter()
	campaigns.Use(middleware.TenantContext)
	campaigns.HandleFunc("", campaignHandler.Create).Methods(http.MethodPost)
	campaigns.HandleFunc("/{id}", campaignHandler.GetByID).Methods(http.MethodGet)
	campaigns.HandleFunc("/{id}/pause", campaignHandler.Pause).Methods(http.MethodPost)
	campaigns.HandleFunc("/{id}/logs", campaignHandler.Logs).Methods(http.MethodGet)

	spam := api.PathPrefix("/spam-filters/ig-connections/{id}").Subrouter()
	spam.Use(middleware.TenantContext)
	spam.HandleFunc("", spamHandler.Get).Methods(http.MethodGet)
	spam.HandleFunc("/logs", spamHandler.Logs).Methods(http.MethodGet)

	return router
}

// NewJSONRequest creates an authenticated HTTP request with a JSON body
func NewJSONRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.UserIDHeader, testUser)
	return req
}

// ParseJSONResponse decodes the recorder body into target
func ParseJSONResponse(t *testing.T, resp *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), target); err != nil {
		t.Fatalf("Failed to parse response %q: %v", resp.Body.String(), err)
	}
}

// AssertStatusCode checks the response status
func AssertStatusCode(t *testing.T, resp *httptest.ResponseRecorder, want int) {
	t.Helper()
	if resp.Code != want {
		t.Errorf("Expected status %d but got %d (body: %s)", want, resp.Code, resp.Body.String())
	}
}

// AssertErrorCode checks the code of an error envelope
func AssertErrorCode(t *testing.T, resp *httptest.ResponseRecorder, want string) {
	t.Helper()
	var body ErrorResponse
	ParseJSONResponse(t, resp, &body)
	if body.Success || body.Error.Code != want {
		t.Errorf("Expected error code %q but got %+v", want, body)
	}
}

// AssertNoError checks that no error occurred
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Expected no error but got: %v", err)
	}
}

// expectWorkspace queues the workspace lookup
func expectWorkspace(mock sqlmock.Sqlmock, id uuid.UUID, plan string) {
	mock.ExpectQuery("SELECT (.+) FROM workspaces WHERE id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "plan", "created_at"}).
			AddRow(id.String(), "Acme", plan, time.Now()))
}

// expectMembership queues the membership check
func expectMembership(mock sqlmock.Sqlmock, id uuid.UUID, member bool) {
	mock.ExpectQuery("SELECT EXISTS (.+) FROM workspace_memberships").
		WithArgs(id, testUser).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(member))
}

// expectAuthorizedWorkspace queues a successful workspace authorization
func expectAuthorizedWorkspace(mock sqlmock.Sqlmock, id uuid.UUID, plan string) {
	expectWorkspace(mock, id, plan)
	expectMembership(mock, id, true)
}

func usageRows(workspaceID uuid.UUID, comments, dms int) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{"id", "workspace_id", "year", "month", "comments_collected", "dm_sent", "created_at", "updated_at"}).
		AddRow(uuid.NewString(), workspaceID.String(), now.Year(), int(now.Month()), comments, dms, now, now)
}
