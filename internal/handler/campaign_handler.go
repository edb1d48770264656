package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"commentflow/internal/middleware"
	"commentflow/internal/models"
	"commentflow/internal/service"
)

// CampaignHandler handles HTTP requests for auto-DM campaigns
type CampaignHandler struct {
	campaignService *service.CampaignService
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService *service.CampaignService) *CampaignHandler {
	return &CampaignHandler{
		campaignService: campaignService,
	}
}

// Create handles POST /auto-dm-campaigns
func (h *CampaignHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Request body is empty")
			return
		}
		WriteInvalidJSON(w)
		return
	}

	campaign, err := h.campaignService.CreateCampaign(r.Context(), middleware.UserIDFromContext(r.Context()), &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteCreated(w, campaign)
}

// GetByID handles GET /auto-dm-campaigns/{id}
func (h *CampaignHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := h.campaignService.GetCampaign(r.Context(), middleware.UserIDFromContext(r.Context()), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, campaign)
}

// Pause handles POST /auto-dm-campaigns/{id}/pause
func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := h.campaignService.PauseCampaign(r.Context(), middleware.UserIDFromContext(r.Context()), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, campaign)
}

// Resume handles POST /auto-dm-campaigns/{id}/resume
func (h *CampaignHandler) Resume(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	campaign, err := h.campaignService.ResumeCampaign(r.Context(), middleware.UserIDFromContext(r.Context()), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, campaign)
}

// Stats handles GET /auto-dm-campaigns/{id}/stats
func (h *CampaignHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	stats, err := h.campaignService.GetCampaignStats(r.Context(), middleware.UserIDFromContext(r.Context()), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, stats)
}

// Logs handles GET /auto-dm-campaigns/{id}/logs?status=&limit=
func (h *CampaignHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	var status *models.DispatchStatus
	if raw := query.Get("status"); raw != "" {
		s := models.DispatchStatus(raw)
		switch s {
		case models.DispatchStatusPending, models.DispatchStatusSent, models.DispatchStatusFailed, models.DispatchStatusSkipped:
			status = &s
		default:
			WriteValidationError(w, "invalid status: must be one of pending, sent, failed, skipped")
			return
		}
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 {
			WriteValidationError(w, "limit must be a positive integer")
			return
		}
		limit = l
	}

	logs, err := h.campaignService.ListDispatchLogs(r.Context(), middleware.UserIDFromContext(r.Context()), id, status, limit)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	WriteOK(w, logs)
}

func campaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		WriteValidationError(w, "invalid campaign ID format")
		return uuid.Nil, false
	}
	return id, true
}
