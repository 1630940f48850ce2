package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/inboxd/internal/core/domain"
)

var completionNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func newCompletionBox(t *testing.T, ids ...string) *memory.Mailbox {
	t.Helper()
	box := memory.NewMailbox()
	for i, id := range ids {
		_, err := box.Messages().Insert(context.Background(), publicMail(id, i))
		require.NoError(t, err)
	}
	return box
}

func TestCompletionTracker_ClaimUnknown(t *testing.T) {
	box := newCompletionBox(t)
	tracker := NewCompletionTracker(box.Transforms(), "run-a", time.Minute, func() time.Time { return completionNow })

	_, ok, err := tracker.Claim(context.Background(), "missing", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, tracker.Held())
}

func TestCompletionTracker_LiveAndStaleClaims(t *testing.T) {
	box := newCompletionBox(t, "m1")
	ctx := context.Background()
	now := completionNow
	clock := func() time.Time { return now }

	first := NewCompletionTracker(box.Transforms(), "run-a", time.Minute, clock)
	claim, ok, err := first.Claim(ctx, "m1", time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-a", claim.Token)
	assert.Equal(t, 1, first.Held())

	second := NewCompletionTracker(box.Transforms(), "run-b", time.Minute, clock)
	_, ok, err = second.Claim(ctx, "m1", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok, "live claim is not taken over")

	now = now.Add(2 * time.Minute)
	_, ok, err = second.Claim(ctx, "m1", time.Time{})
	require.NoError(t, err)
	assert.True(t, ok, "stale claim is taken over")

	err = first.Complete(ctx, claim, domain.TransformResult{MessageID: "m1", Tier: domain.TierPublic})
	assert.ErrorIs(t, err, domain.ErrClaimLost)
	assert.Equal(t, 0, first.Held())
}

func TestCompletionTracker_Complete(t *testing.T) {
	box := newCompletionBox(t, "m1")
	ctx := context.Background()
	tracker := NewCompletionTracker(box.Transforms(), "run-a", time.Minute, func() time.Time { return completionNow })

	claim, ok, err := tracker.Claim(ctx, "m1", time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tracker.Complete(ctx, claim, domain.TransformResult{MessageID: "m1", Tier: domain.TierPublic}))

	msg, err := box.Messages().Get(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, msg.Derived.CompletedAt)
	assert.Equal(t, domain.TierPublic, msg.Derived.Tier)

	_, ok, err = tracker.Claim(ctx, "m1", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok, "completed message is not eligible")

	_, ok, err = tracker.Claim(ctx, "m1", completionNow.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "forced run may retake messages completed before it started")
}

func TestCompletionTracker_FailTruncatesReason(t *testing.T) {
	box := newCompletionBox(t, "m1")
	ctx := context.Background()
	tracker := NewCompletionTracker(box.Transforms(), "run-a", time.Minute, func() time.Time { return completionNow })

	claim, ok, err := tracker.Claim(ctx, "m1", time.Time{})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, tracker.Fail(ctx, claim, errors.New(strings.Repeat("x", 3000))))
	assert.Equal(t, 0, tracker.Held())

	msg, err := box.Messages().Get(ctx, "m1")
	require.NoError(t, err)
	assert.Len(t, msg.Derived.LastError, maxErrorLen)
	assert.Equal(t, 1, msg.Derived.AttemptCount)
	assert.Nil(t, msg.Derived.CompletedAt)
	assert.Empty(t, msg.Derived.ClaimToken)
}

func TestCompletionTracker_ReleaseAll(t *testing.T) {
	box := newCompletionBox(t, "m1", "m2", "m3")
	ctx := context.Background()
	tracker := NewCompletionTracker(box.Transforms(), "run-a", time.Minute, func() time.Time { return completionNow })

	for _, id := range []string{"m1", "m2", "m3"} {
		_, ok, err := tracker.Claim(ctx, id, time.Time{})
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.Equal(t, 3, tracker.Held())
	require.NoError(t, tracker.ReleaseAll(ctx))
	assert.Equal(t, 0, tracker.Held())

	other := NewCompletionTracker(box.Transforms(), "run-b", time.Minute, func() time.Time { return completionNow })
	_, ok, err := other.Claim(ctx, "m2", time.Time{})
	require.NoError(t, err)
	assert.True(t, ok, "released message is free again")
}
