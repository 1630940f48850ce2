package google

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// Reasons Gmail reports on 403 responses that are really quota throttling.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
}

// IsUnauthorized returns true if the error indicates invalid credentials.
func IsUnauthorized(err error) bool {
	if errors.Is(err, domain.ErrProviderUnauthorized) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusUnauthorized
	}
	return false
}

// IsForbidden returns true if the error indicates insufficient permissions.
// Throttling 403s are not reported as forbidden.
func IsForbidden(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusForbidden && !hasRateLimitReason(gerr)
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	if errors.Is(err, domain.ErrNotFound) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound
	}
	return false
}

// IsRateLimited returns true for 429 responses and for 403 responses whose
// reason is a rate or quota limit.
func IsRateLimited(err error) bool {
	if errors.Is(err, domain.ErrRateLimited) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests {
			return true
		}
		return gerr.Code == http.StatusForbidden && hasRateLimitReason(gerr)
	}
	return false
}

// IsHistoryIDExpired returns true if the error indicates an expired Gmail history ID.
// Gmail returns 404 from history.list when the startHistoryId is too old.
func IsHistoryIDExpired(err error) bool {
	if errors.Is(err, domain.ErrCursorExpired) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound
	}
	return false
}

// RetryAfter returns the delay requested by a Retry-After header, or zero.
func RetryAfter(err error) time.Duration {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Header == nil {
		return 0
	}
	secs, convErr := strconv.Atoi(gerr.Header.Get("Retry-After"))
	if convErr != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// WrapError converts a Google API error to a domain error, keeping the
// original message. Use WrapHistoryError for history.list calls.
func WrapError(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}

	switch {
	case IsRateLimited(err):
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, gerr.Message)
	case gerr.Code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", domain.ErrProviderUnauthorized, gerr.Message)
	case gerr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, gerr.Message)
	default:
		return err
	}
}

// WrapHistoryError is WrapError for change log calls, where a 404 means the
// cursor expired rather than a missing resource.
func WrapHistoryError(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrCursorExpired, gerr.Message)
	}
	return WrapError(err)
}

func hasRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if rateLimitReasons[item.Reason] {
			return true
		}
	}
	return false
}
