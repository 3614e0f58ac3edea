package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/custodia-labs/deltaq/core/domain"
)

// APIError represents a remote API error response.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph: API error %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

// classifyStatus maps an HTTP failure status onto the domain taxonomy.
// A rejected request can only be a token problem when a continuation token
// was actually in flight; the same statuses without one mean the query
// itself is bad.
func classifyStatus(apiErr *APIError, tokenInFlight bool) error {
	switch {
	case IsTokenRejected(apiErr):
		if tokenInFlight {
			return fmt.Errorf("%w: %w", domain.ErrInvalidToken, apiErr)
		}
		return fmt.Errorf("%w: %w", domain.ErrFatal, apiErr)

	case IsUnauthorized(apiErr):
		return fmt.Errorf("%w: %w", domain.ErrFatal, apiErr)

	case apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500:
		return fmt.Errorf("%w: %w", domain.ErrTransient, apiErr)
	}

	return fmt.Errorf("%w: %w", domain.ErrFatal, apiErr)
}

// classifyTransportError maps a request-level failure (no HTTP response)
// onto the taxonomy. Per-request timeouts and connection failures are
// retryable; only the caller's own cancellation or deadline passes through.
// A client timeout also reports context.DeadlineExceeded, so the caller's
// context is the only reliable way to tell the two apart.
func classifyTransportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}

// IsUnauthorized checks if the error indicates an authentication failure.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized ||
			apiErr.StatusCode == http.StatusForbidden
	}
	return false
}

// IsTokenRejected checks if the error carries a status the remote uses to
// report a malformed, expired or unrecognised continuation token.
func IsTokenRejected(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusGone:
			return true
		}
	}
	return false
}
