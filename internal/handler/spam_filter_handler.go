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

// SpamFilterHandler manages the spam filter of a connected account
type SpamFilterHandler struct {
	spam   *service.SpamFilterService
	access *service.AccessService
}

// NewSpamFilterHandler creates a new spam filter handler
func NewSpamFilterHandler(spam *service.SpamFilterService, access *service.AccessService) *SpamFilterHandler {
	return &SpamFilterHandler{spam: spam, access: access}
}

// Get handles GET /spam-filters/ig-connections/{id}
func (h *SpamFilterHandler) Get(w http.ResponseWriter, r *http.Request) {
	connectionID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	config, err := h.spam.GetOrCreateConfig(r.Context(), connectionID)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, config)
}

// Update handles PATCH /spam-filters/ig-connections/{id}
func (h *SpamFilterHandler) Update(w http.ResponseWriter, r *http.Request) {
	connectionID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req service.UpdateSpamFilterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteInvalidJSON(w)
		return
	}

	config, err := h.spam.UpdateConfig(r.Context(), connectionID, &req)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, config)
}

// Activate handles POST /spam-filters/ig-connections/{id}/activate
func (h *SpamFilterHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.SpamFilterStatusActive)
}

// Deactivate handles POST /spam-filters/ig-connections/{id}/deactivate
func (h *SpamFilterHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setStatus(w, r, models.SpamFilterStatusInactive)
}

func (h *SpamFilterHandler) setStatus(w http.ResponseWriter, r *http.Request, status models.SpamFilterStatus) {
	connectionID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	config, err := h.spam.SetStatus(r.Context(), connectionID, status)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, config)
}

// Logs handles GET /spam-filters/ig-connections/{id}/logs?status=&limit=
func (h *SpamFilterHandler) Logs(w http.ResponseWriter, r *http.Request) {
	connectionID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()

	var status *models.SpamLogStatus
	if raw := query.Get("status"); raw != "" {
		s := models.SpamLogStatus(raw)
		switch s {
		case models.SpamLogStatusDetected, models.SpamLogStatusHidden, models.SpamLogStatusFailed:
			status = &s
		default:
			WriteValidationError(w, "invalid status: must be one of detected, hidden, failed")
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

	logs, err := h.spam.ListLogs(r.Context(), connectionID, status, limit)
	if err != nil {
		HandleServiceError(w, err)
		return
	}
	WriteOK(w, logs)
}

func (h *SpamFilterHandler) authorize(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	connectionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		WriteValidationError(w, "invalid connection ID format")
		return uuid.Nil, false
	}

	userID := middleware.UserIDFromContext(r.Context())
	if _, err := h.access.AuthorizeConnection(r.Context(), connectionID, userID); err != nil {
		HandleServiceError(w, err)
		return uuid.Nil, false
	}
	return connectionID, true
}
