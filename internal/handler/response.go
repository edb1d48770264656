package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"commentflow/internal/service"
)

// SuccessResponse wraps successful payloads
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse represents the standard error response structure
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code, message and optional structured details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.S().Errorw("failed to encode JSON response", "error", err)
		return err
	}
	return nil
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorWithDetails(w, status, code, message, nil)
}

// WriteErrorWithDetails writes a structured JSON error response carrying details
func WriteErrorWithDetails(w http.ResponseWriter, status int, code, message string, details interface{}) {
	_ = WriteJSON(w, status, ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// WriteCreated writes a 201 Created response with the given data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, SuccessResponse{Success: true, Data: data})
}

// WriteOK writes a 200 OK response with the given data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Success: true, Data: data})
}

// WriteValidationError writes a 400 Bad Request response with VALIDATION_ERROR code
func WriteValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", message)
}

// WriteInvalidJSON writes a 400 Bad Request response with INVALID_JSON code
func WriteInvalidJSON(w http.ResponseWriter) {
	WriteError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON format")
}

// WriteInternalError writes a 500 response without exposing internal details
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}

// QuotaDetails is the details object of a PLAN_LIMIT_EXCEEDED response
type QuotaDetails struct {
	Metric  string `json:"metric"`
	Current int    `json:"current"`
	Limit   int    `json:"limit"`
	Plan    string `json:"plan"`
}

// HandleServiceError maps service layer errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error) {
	var (
		notFound   *service.NotFoundError
		validation *service.ValidationError
		business   *service.BusinessLogicError
		conflict   *service.ConflictError
		permission *service.PermissionError
		quota      *service.QuotaExceededError
	)

	switch {
	case errors.As(err, &notFound):
		WriteError(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", notFound.Error())
	case errors.As(err, &validation):
		WriteValidationError(w, validation.Message)
	case errors.As(err, &business):
		WriteError(w, http.StatusBadRequest, "BUSINESS_LOGIC_ERROR", business.Message)
	case errors.As(err, &conflict):
		WriteError(w, http.StatusConflict, "CONFLICT", conflict.Message)
	case errors.As(err, &permission):
		WriteError(w, http.StatusForbidden, "PERMISSION_DENIED", permission.Message)
	case errors.As(err, &quota):
		WriteErrorWithDetails(w, http.StatusTooManyRequests, "PLAN_LIMIT_EXCEEDED", quota.Error(), QuotaDetails{
			Metric:  quota.Metric,
			Current: quota.Current,
			Limit:   quota.Limit,
			Plan:    quota.Plan,
		})
	default:
		zap.S().Errorw("unhandled service error", "error", err)
		WriteInternalError(w)
	}
}
