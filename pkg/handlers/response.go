package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-bi/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-bi/pkg/logging"
)

// ApiResponse wraps data in the format expected by the web layer.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData writes a successful ApiResponse.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeError writes an error response, logging encoding failures.
func writeError(w http.ResponseWriter, statusCode int, errorCode, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, statusCode, errorCode, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// decodeBody decodes a JSON request body, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", logger)
		return false
	}
	return true
}

// statusFor maps the error taxonomy to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var security *apperrors.SecurityViolation
	switch {
	case errors.As(err, &security), errors.Is(err, apperrors.ErrSecurityViolation):
		return http.StatusUnprocessableEntity, "security_violation"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrCredentialsKeyMismatch):
		return http.StatusFailedDependency, "credentials_key_mismatch"
	case errors.Is(err, apperrors.ErrConnectivity):
		return http.StatusBadGateway, "connectivity_error"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, apperrors.ErrExecution):
		return http.StatusBadRequest, "execution_error"
	case errors.Is(err, apperrors.ErrNoUsableResult):
		return http.StatusUnprocessableEntity, "no_usable_result"
	case errors.Is(err, apperrors.ErrContractViolation):
		return http.StatusBadGateway, "contract_violation"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeServiceError maps a service error to a response. Server-side failures
// are logged with the error; the client sees a generic message for them.
func writeServiceError(w http.ResponseWriter, err error, action string, logger *zap.Logger, fields ...zap.Field) {
	status, code := statusFor(err)
	message := logging.SanitizeError(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		message = "Failed to " + action
	}
	if status >= http.StatusInternalServerError {
		logger.Error("Failed to "+action, append(fields, zap.String("error", logging.SanitizeError(err)))...)
	} else {
		logger.Debug("Rejected request", append(fields, zap.String("action", action), zap.String("error", logging.SanitizeError(err)))...)
	}

	var security *apperrors.SecurityViolation
	if errors.As(err, &security) {
		payload := map[string]string{"error": code, "message": security.Reason}
		if security.Keyword != "" {
			payload["keyword"] = security.Keyword
		}
		if werr := WriteJSON(w, status, payload); werr != nil {
			logger.Error("Failed to write error response", zap.Error(werr))
		}
		return
	}
	writeError(w, status, code, message, logger)
}
