package backend

import (
	"context"
	"errors"
	"net/http"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httpclient"
)

func errMalformed(msg string) error {
	return &apperrors.AppError{
		Code:    "UPSTREAM_MALFORMED",
		Message: ServiceName + ": " + msg,
		Status:  http.StatusBadGateway,
		Err:     apperrors.ErrUpstream,
	}
}

// IsAuthFailure reports whether the backend rejected the caller's
// credentials (401 or 403).
func IsAuthFailure(err error) bool {
	return errors.Is(err, apperrors.ErrUnauthorized) || errors.Is(err, apperrors.ErrForbidden)
}

// IsTransient reports whether err may succeed on retry: transport failures,
// timeouts, an open breaker, 429, 503 and other 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return httpclient.IsNetworkError(err) ||
		httpclient.IsCircuitOpen(err) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, apperrors.ErrServiceUnavail) ||
		errors.Is(err, apperrors.ErrUpstream) ||
		errors.Is(err, apperrors.ErrRateLimited)
}
