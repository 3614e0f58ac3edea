package domain

import "errors"

// Domain errors represent sync-protocol failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	// Token stores return it when no delta link is stored for a resource.
	ErrNotFound = errors.New("not found")

	// ErrInvalidToken indicates the remote system rejected a continuation
	// token as malformed, expired or unrecognised. Recoverable once per run
	// by falling back to a full sync.
	ErrInvalidToken = errors.New("invalid continuation token")

	// ErrTransient indicates a retryable request failure (timeout, rate
	// limit, transient 5xx). Absorbed by the retry loop up to its ceiling.
	ErrTransient = errors.New("transient request failure")

	// ErrFatal indicates a request failure retrying cannot fix
	// (authorisation, malformed query, repeated token invalidation).
	ErrFatal = errors.New("fatal request failure")

	// ErrStorageUnavailable indicates a token store operation failed.
	// The sync proceeds in memory-only mode for that run.
	ErrStorageUnavailable = errors.New("token store unavailable")

	// ErrUnsupportedResource indicates an unknown resource type.
	ErrUnsupportedResource = errors.New("unsupported resource type")

	// ErrMalformedResponse indicates the remote returned a page that breaks
	// the protocol contract (e.g. both a next link and a delta link).
	ErrMalformedResponse = errors.New("malformed delta response")

	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("client closed")
)

// IsInvalidToken returns true if the error indicates a rejected
// continuation token.
func IsInvalidToken(err error) bool {
	return errors.Is(err, ErrInvalidToken)
}

// IsTransient returns true if the error is retryable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsFatal returns true if the error is not retryable.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// IsStorageUnavailable returns true if the error came from the token store.
func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
