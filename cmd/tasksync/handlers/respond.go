// Package handlers provides the REST API handlers for sync and task endpoints.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/kimhsiao/tasksync/internal/errors"
	"github.com/kimhsiao/tasksync/internal/logging"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrInvalid:
		return http.StatusBadRequest
	case apperrors.ErrRetryExhausted, apperrors.ErrInFlight:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.From(err, apperrors.ErrInternal)
	status := StatusFor(appErr.Code)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(appErr.Code), err, map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		})
	}
	writeJSON(w, status, ErrorResponse{Code: string(appErr.Code), Message: appErr.Message})
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err)
	}
	return nil
}
