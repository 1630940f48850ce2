package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// TransformStore owns the derived fields of messages.
// Every write is conditional on the caller holding the message's claim.
type TransformStore interface {
	// Select returns ids of messages matching the selection, newest first.
	// Tombstoned messages are never selected.
	Select(ctx context.Context, sel domain.Selection) ([]string, error)

	// Count returns the number of messages Select would return.
	Count(ctx context.Context, sel domain.Selection) (int, error)

	// Claim takes ownership of a message. Returns false when another
	// live claim exists or the message is no longer eligible.
	Claim(ctx context.Context, req domain.ClaimRequest) (bool, error)

	// Release drops a claim without recording anything.
	Release(ctx context.Context, claim domain.Claim) error

	// Fail records a stage failure, increments the attempt count and
	// drops the claim. The message stays eligible.
	Fail(ctx context.Context, claim domain.Claim, reason string) error

	// Complete writes the derived fields, replaces the chunk set and sets
	// the completion timestamp in one transaction, then drops the claim.
	// Returns domain.ErrClaimLost if the claim is no longer held.
	Complete(ctx context.Context, claim domain.Claim, result domain.TransformResult, at time.Time) error

	// Reset clears derived fields and chunks for an account (or all
	// accounts when accountID is empty). Returns the number of messages reset.
	Reset(ctx context.Context, accountID string) (int, error)
}
