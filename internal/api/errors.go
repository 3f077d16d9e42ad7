package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/portfolio-ledger/internal/service"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response) // nolint:errcheck // response already committed
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data) // nolint:errcheck // response already committed
	}
}

// Common error codes
const (
	ErrCodeInvalidInput   = "invalid_input"
	ErrCodeNotFound       = "not_found"
	ErrCodeSyncInProgress = "sync_in_progress"
	ErrCodeInternalError  = "internal_error"
)

// respondServiceError maps known errors to HTTP status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrAccountNotFound) {
		respondError(w, http.StatusNotFound, ErrCodeNotFound, "account not found", nil)
		return
	}
	if errors.Is(err, service.ErrSyncInProgress) {
		respondError(w, http.StatusConflict, ErrCodeSyncInProgress, "a sync is already running for this account", nil)
		return
	}

	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		switch svcErr.Code {
		case "invalid_range", "invalid_method":
			respondError(w, http.StatusBadRequest, svcErr.Code, svcErr.Message, svcErr.Details)
			return
		}
	}

	respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred", nil)
}
