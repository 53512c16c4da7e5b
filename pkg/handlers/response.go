package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/apperrors"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/logging"
	"github.com/Kensan196948G/ITSM-ITManagementSystem-sub007/pkg/middleware"
)

// ApiResponse is the envelope for successful responses.
type ApiResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ErrorBody is the JSON body of every error response.
type ErrorBody struct {
	Error         string         `json:"error"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return writeErrorBody(w, statusCode, ErrorBody{Error: errorCode, Message: message})
}

// writeErrorBody fills in the correlation id set on the response by the
// correlation middleware, if any.
func writeErrorBody(w http.ResponseWriter, statusCode int, body ErrorBody) error {
	if body.CorrelationID == "" {
		body.CorrelationID = w.Header().Get(middleware.CorrelationIDHeader)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(body)
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// writeData writes data in the success envelope.
func writeData(w http.ResponseWriter, statusCode int, data any, logger *zap.Logger) {
	if err := WriteJSON(w, statusCode, ApiResponse{Success: true, Data: data}); err != nil {
		logger.Error("Failed to write response", zap.Error(err))
	}
}

// writeBadRequest reports malformed input that never reached a service.
func writeBadRequest(w http.ResponseWriter, message string, logger *zap.Logger) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

// WriteServiceError maps an error returned by a service to an HTTP status
// and error body. Errors the client cannot act on are logged and reported
// as a generic 500 that carries only the correlation id.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	status, body := classifyError(err)

	if status == http.StatusInternalServerError {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("correlation_id", middleware.CorrelationID(r.Context())),
			zap.String("error", logging.SanitizeError(err)))
	} else {
		logger.Debug("Request rejected",
			zap.String("path", r.URL.Path),
			zap.String("code", body.Error),
			zap.Error(err))
	}

	body.CorrelationID = middleware.CorrelationID(r.Context())
	if err := writeErrorBody(w, status, body); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}

func classifyError(err error) (int, ErrorBody) {
	var validationErr *apperrors.ValidationError
	var transitionErr *apperrors.IllegalTransitionError
	var stateErr *apperrors.InvalidStateError
	var ruleErr *apperrors.BusinessRuleViolation

	code := apperrors.Code(err)
	switch {
	case errors.As(err, &validationErr):
		details := make(map[string]any, len(validationErr.Fields))
		for field, msg := range validationErr.Fields {
			details[field] = msg
		}
		return http.StatusBadRequest, ErrorBody{Error: code, Message: "Request validation failed", Details: details}

	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, ErrorBody{Error: code, Message: "Resource not found"}

	case errors.As(err, &transitionErr):
		return http.StatusConflict, ErrorBody{
			Error:   code,
			Message: transitionErr.Error(),
			Details: map[string]any{
				"field":   transitionErr.StateField(),
				"current": transitionErr.Current,
				"target":  transitionErr.Target,
			},
		}

	case errors.As(err, &stateErr):
		return http.StatusConflict, ErrorBody{
			Error:   code,
			Message: stateErr.Error(),
			Details: map[string]any{
				"field":    stateErr.StateField(),
				"current":  stateErr.Current,
				"expected": stateErr.Expected,
			},
		}

	case errors.As(err, &ruleErr):
		return http.StatusUnprocessableEntity, ErrorBody{
			Error:   code,
			Message: ruleErr.Message,
			Details: map[string]any{"rule": ruleErr.Rule},
		}

	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, ErrorBody{Error: code, Message: err.Error()}

	default:
		return http.StatusInternalServerError, ErrorBody{Error: code, Message: "An internal error occurred"}
	}
}
