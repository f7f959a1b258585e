package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/validator"
)

// Response is the standard JSON response envelope.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse represents an error in the standard response format.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes v wrapped in the data envelope.
func WriteData(w http.ResponseWriter, status int, v any) {
	WriteJSON(w, status, Response{Data: v})
}

// sentinelCodes gives plain sentinel errors a stable code and public message.
var sentinelCodes = []struct {
	err     error
	code    string
	message string
}{
	{apperrors.ErrNotFound, "NOT_FOUND", "resource not found"},
	{apperrors.ErrUnauthorized, "UNAUTHORIZED", "authentication required"},
	{apperrors.ErrForbidden, "FORBIDDEN", "access denied"},
	{apperrors.ErrConflict, "CONFLICT", "resource conflict"},
	{apperrors.ErrGone, "GONE", "resource no longer available"},
	{apperrors.ErrRateLimited, "RATE_LIMITED", "too many requests"},
	{apperrors.ErrServiceUnavail, "SERVICE_UNAVAILABLE", "service temporarily unavailable"},
	{apperrors.ErrUpstream, "UPSTREAM_ERROR", "upstream service error"},
}

// WriteError writes a standardized error response for err. AppErrors keep
// their code and message; bare sentinels get a generic public message;
// anything else is logged and reported as 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}

	requestID := logger.CorrelationIDFromContext(r.Context())
	status := apperrors.HTTPStatus(err)

	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.Int("status", status),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message := appErr.Message
		if appErr.Status == http.StatusInternalServerError {
			message = "an internal error occurred"
		}
		WriteJSON(w, appErr.Status, Response{
			Error: &ErrorResponse{Code: appErr.Code, Message: message, RequestID: requestID},
		})
		return
	}

	if errors.Is(err, apperrors.ErrInvalidInput) {
		WriteJSON(w, status, Response{
			Error: &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error(), RequestID: requestID},
		})
		return
	}

	code, message := "INTERNAL_ERROR", "an internal error occurred"
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			code, message = sc.code, sc.message
			break
		}
	}

	WriteJSON(w, status, Response{
		Error: &ErrorResponse{Code: code, Message: message, RequestID: requestID},
	})
}

// WriteValidationError writes a 400 with field-level errors when err is a
// ValidationError, otherwise a plain INVALID_INPUT error.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "request validation failed",
				Fields:  valErr.Fields(),
			},
		})
		return
	}

	WriteJSON(w, http.StatusBadRequest, Response{
		Error: &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()},
	})
}
