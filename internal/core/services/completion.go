package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// maxErrorLen bounds the failure reason stored per message.
const maxErrorLen = 1000

// CompletionTracker owns the claims of one transform run. Every claim it
// hands out carries the run token; claims older than the timeout are
// considered abandoned and may be taken over.
type CompletionTracker struct {
	store   driven.TransformStore
	token   string
	timeout time.Duration
	now     func() time.Time

	mu   sync.Mutex
	held map[string]domain.Claim
}

// NewCompletionTracker creates a tracker for one run.
func NewCompletionTracker(store driven.TransformStore, token string, timeout time.Duration, now func() time.Time) *CompletionTracker {
	if now == nil {
		now = time.Now
	}
	return &CompletionTracker{
		store:   store,
		token:   token,
		timeout: timeout,
		now:     now,
		held:    make(map[string]domain.Claim),
	}
}

// Claim tries to take a message. completedBefore, when non-zero, allows
// taking messages completed before that instant. Returns false when
// another run holds a live claim or the message is no longer eligible.
func (t *CompletionTracker) Claim(ctx context.Context, messageID string, completedBefore time.Time) (domain.Claim, bool, error) {
	now := t.now()
	ok, err := t.store.Claim(ctx, domain.ClaimRequest{
		MessageID:       messageID,
		Token:           t.token,
		Now:             now,
		StaleBefore:     now.Add(-t.timeout),
		CompletedBefore: completedBefore,
	})
	if err != nil {
		return domain.Claim{}, false, fmt.Errorf("claim %s: %w", messageID, err)
	}
	if !ok {
		return domain.Claim{}, false, nil
	}

	claim := domain.Claim{MessageID: messageID, Token: t.token, ClaimedAt: now}
	t.mu.Lock()
	t.held[messageID] = claim
	t.mu.Unlock()
	return claim, true, nil
}

// Complete writes the derived fields and drops the claim.
// Returns domain.ErrClaimLost when another run took the message over.
func (t *CompletionTracker) Complete(ctx context.Context, claim domain.Claim, result domain.TransformResult) error {
	defer t.forget(claim)
	if err := t.store.Complete(ctx, claim, result, t.now()); err != nil {
		return fmt.Errorf("complete %s: %w", claim.MessageID, err)
	}
	return nil
}

// Fail records a stage failure and drops the claim. The message stays
// eligible for the next run.
func (t *CompletionTracker) Fail(ctx context.Context, claim domain.Claim, cause error) error {
	defer t.forget(claim)
	reason := cause.Error()
	if len(reason) > maxErrorLen {
		reason = reason[:maxErrorLen]
	}
	if err := t.store.Fail(ctx, claim, reason); err != nil {
		return fmt.Errorf("record failure of %s: %w", claim.MessageID, err)
	}
	return nil
}

// Release drops a claim without recording anything.
func (t *CompletionTracker) Release(ctx context.Context, claim domain.Claim) error {
	defer t.forget(claim)
	return t.store.Release(ctx, claim)
}

// ReleaseAll drops every claim still held, for a run that stops early.
func (t *CompletionTracker) ReleaseAll(ctx context.Context) error {
	t.mu.Lock()
	claims := make([]domain.Claim, 0, len(t.held))
	for _, c := range t.held {
		claims = append(claims, c)
	}
	t.mu.Unlock()

	var errs []error
	for _, c := range claims {
		if err := t.Release(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Held returns the number of claims currently held.
func (t *CompletionTracker) Held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.held)
}

func (t *CompletionTracker) forget(claim domain.Claim) {
	t.mu.Lock()
	delete(t.held, claim.MessageID)
	t.mu.Unlock()
}
