// Package apperrors provides common static errors used throughout the application.
package apperrors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// HTTPError represents an HTTP error with a status code.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(statusCode int, body string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Body: body}
}

// Kind classifies an error for counting and reporting.
type Kind string

// Error kinds.
const (
	KindTransport      Kind = "transport_error"
	KindUnresolvedID   Kind = "unresolved_id"
	KindNoIdentifier   Kind = "no_identifier"
	KindPriceTooLow    Kind = "price_too_low"
	KindIncomplete     Kind = "incomplete_listing"
	KindStoreWrite     Kind = "store_write_error"
	KindLockConflict   Kind = "lock_conflict"
	KindRunInterrupted Kind = "run_interrupted"
	KindUnknown        Kind = "unknown"
)

// Item level errors. An item failing with one of these is counted as failed and skipped.
var (
	// ErrUnresolvedID is returned when a lookup key converts in neither direction.
	ErrUnresolvedID = errors.New("lookup key is neither a valid MLS ID nor a valid vessel ID")

	// ErrNoIdentifier is returned when a fetched payload carries no identifier field.
	ErrNoIdentifier = errors.New("payload has no vessel or MLS identifier")

	// ErrPriceTooLow is returned when a known, nonzero price is below the configured floor.
	ErrPriceTooLow = errors.New("price below minimum")

	// ErrIncompleteListing is returned when a listing has no image or no location.
	ErrIncompleteListing = errors.New("incomplete listing")

	// ErrStoreWrite is returned when the content store rejects a write.
	ErrStoreWrite = errors.New("store write failed")

	// ErrTransport marks a failed exchange with the remote API.
	ErrTransport = errors.New("remote transport failure")
)

// Run level errors.
var (
	// ErrLockConflict is returned when another owner holds a fresh lock.
	ErrLockConflict = errors.New("job lock held by another run")

	// ErrLockLost is returned when the lock was reclaimed by another owner mid-run.
	ErrLockLost = errors.New("job lock lost")

	// ErrStopRequested is returned by checkpoints once an operator requested a stop.
	ErrStopRequested = errors.New("stop requested")

	// ErrRunInterrupted is returned when a run must end early and resume later.
	ErrRunInterrupted = errors.New("run interrupted")
)

// Infrastructure errors.
var (
	// ErrNotFound is returned by stores when a key or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLookupKeyRequired is returned when a command needs a lookup key argument.
	ErrLookupKeyRequired = errors.New("lookup key required")

	// ErrUnknownJob is returned for a job name that is neither import nor daily_sync.
	ErrUnknownJob = errors.New("unknown job")

	// ErrUnknownBackend is returned for an unsupported YS_BACKEND value.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrAPITokenRequired is returned when a run is started without a remote API token.
	ErrAPITokenRequired = errors.New("API token required (--token or YS_API_TOKEN)")

	// ErrPostgresDSNRequired is returned when the postgres backend has no DSN.
	ErrPostgresDSNRequired = errors.New("YS_PG_DSN required for the postgres backend")

	// ErrRemoteNotConfigured is returned when a git remote operation is attempted but no remote is configured.
	ErrRemoteNotConfigured = errors.New("no remote configured")

	// ErrHTTPSPasswordRequired is returned when HTTPS git URL is used without YS_GIT_PASS.
	ErrHTTPSPasswordRequired = errors.New("YS_GIT_PASS required for HTTPS URLs")

	// ErrTransactionDone is returned when a transaction is used after it was applied or rolled back.
	ErrTransactionDone = errors.New("transaction already applied or rolled back")

	// ErrFileTooLarge is returned when a download exceeds the maximum size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")
)

// KindOf classifies err. It returns an empty Kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}

	var httpErr *HTTPError
	var netErr net.Error
	var urlErr *url.Error

	switch {
	case errors.Is(err, ErrUnresolvedID):
		return KindUnresolvedID
	case errors.Is(err, ErrNoIdentifier):
		return KindNoIdentifier
	case errors.Is(err, ErrPriceTooLow):
		return KindPriceTooLow
	case errors.Is(err, ErrIncompleteListing):
		return KindIncomplete
	case errors.Is(err, ErrStoreWrite):
		return KindStoreWrite
	case errors.Is(err, ErrLockConflict):
		return KindLockConflict
	case errors.Is(err, ErrRunInterrupted), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindRunInterrupted
	case errors.Is(err, ErrTransport), errors.As(err, &httpErr), errors.As(err, &netErr), errors.As(err, &urlErr):
		return KindTransport
	default:
		return KindUnknown
	}
}

// IsRunLevel reports whether err must end the whole run rather than the current item.
// Context errors are not run level by themselves: an HTTP client timeout only
// fails the item. Callers check their own context.
func IsRunLevel(err error) bool {
	return errors.Is(err, ErrStopRequested) ||
		errors.Is(err, ErrLockLost) ||
		errors.Is(err, ErrRunInterrupted)
}
