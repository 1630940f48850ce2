package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSyncInProgress indicates a sync is already running for the account.
	ErrSyncInProgress = errors.New("sync in progress")

	// Provider Errors.

	// ErrRateLimited indicates the provider rejected a call for quota or rate reasons.
	// Callers back off and retry; it never fails a whole run on its own.
	ErrRateLimited = errors.New("rate limited")

	// ErrCursorExpired indicates the provider no longer knows the stored cursor.
	// The sync engine falls back to a full listing.
	ErrCursorExpired = errors.New("cursor expired")

	// ErrProviderUnauthorized indicates the provider credentials are invalid or revoked.
	ErrProviderUnauthorized = errors.New("provider unauthorised")

	// Enrichment Errors.

	// ErrPayloadTooLarge indicates an enrichment service refused a request body.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrClassificationAmbiguous indicates a classifier answer named no tier.
	ErrClassificationAmbiguous = errors.New("classification ambiguous")

	// ErrInvalidEmbedding indicates a returned vector failed validation.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrServiceUnavailable indicates an enrichment service could not be reached.
	ErrServiceUnavailable = errors.New("service unavailable")

	// Transform Errors.

	// ErrClaimLost indicates the caller no longer owns the message it tried to write.
	ErrClaimLost = errors.New("claim lost")

	// ErrConfirmationRequired indicates a forced transform was not confirmed.
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrCapabilityMissing indicates required configuration for enrichment is absent.
	// Transform runs fail fast with this before any batch work.
	ErrCapabilityMissing = errors.New("capability missing")
)

// PageError reports a failed provider page. The sync run that received it
// must stop without advancing the cursor; messages already stored are kept.
type PageError struct {
	// Page is the zero-based page index within the run.
	Page int

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

// Unwrap returns the underlying error.
func (e *PageError) Unwrap() error {
	return e.Err
}

// IsPageError reports whether err is or wraps a PageError.
func IsPageError(err error) bool {
	var pe *PageError
	return errors.As(err, &pe)
}
