package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"commentflow/internal/middleware"
	"commentflow/internal/models"
	"commentflow/internal/service"
)

// BillingHandler exposes plan and usage of a workspace
type BillingHandler struct {
	quota  *service.QuotaService
	access *service.AccessService
}

// NewBillingHandler creates a new billing handler
func NewBillingHandler(quota *service.QuotaService, access *service.AccessService) *BillingHandler {
	return &BillingHandler{quota: quota, access: access}
}

// TestIncrementRequest is the body of POST test-increment
type TestIncrementRequest struct {
	Metric string `json:"metric"`
	Amount *int   `json:"amount"`
}

// TestIncrementResponse is the success body of POST test-increment
type TestIncrementResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Usage   *service.UsageSnapshot `json:"usage"`
}

// GetPlan handles GET /billing/workspaces/{workspace_id}/plan
func (h *BillingHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	plan, err := h.quota.GetPlan(r.Context(), workspaceID)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, plan)
}

// GetUsage handles GET /billing/workspaces/{workspace_id}/usage?year=&month=
func (h *BillingHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	year, err := optionalInt(r, "year")
	if err != nil {
		WriteValidationError(w, "year must be an integer")
		return
	}
	month, err := optionalInt(r, "month")
	if err != nil {
		WriteValidationError(w, "month must be an integer")
		return
	}

	usage, err := h.quota.GetUsage(r.Context(), workspaceID, year, month)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, usage)
}

// TestIncrement handles POST /billing/workspaces/{workspace_id}/test-increment
func (h *BillingHandler) TestIncrement(w http.ResponseWriter, r *http.Request) {
	workspaceID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req TestIncrementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteInvalidJSON(w)
		return
	}

	amount := 1
	if req.Amount != nil {
		amount = *req.Amount
	}

	metric := models.Metric(req.Metric)
	if _, err := h.quota.CheckAndIncrement(r.Context(), workspaceID, metric, amount); err != nil {
		HandleServiceError(w, err)
		return
	}

	usage, err := h.quota.GetUsage(r.Context(), workspaceID, nil, nil)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, TestIncrementResponse{
		Success: true,
		Message: "Incremented " + req.Metric + " by " + strconv.Itoa(amount),
		Usage:   usage,
	})
}

func (h *BillingHandler) authorize(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	workspaceID, err := uuid.Parse(mux.Vars(r)["workspace_id"])
	if err != nil {
		WriteValidationError(w, "invalid workspace ID format")
		return uuid.Nil, false
	}

	userID := middleware.UserIDFromContext(r.Context())
	if _, err := h.access.AuthorizeWorkspace(r.Context(), workspaceID, userID); err != nil {
		HandleServiceError(w, err)
		return uuid.Nil, false
	}
	return workspaceID, true
}

func optionalInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}
