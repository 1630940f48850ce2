package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
)

type viewFixture struct {
	box    *memory.Mailbox
	viewer *MessageViewer
}

func newViewFixture(t *testing.T) *viewFixture {
	t.Helper()
	box := memory.NewMailbox()
	labels := memory.NewLabelStore()
	require.NoError(t, labels.ReplaceLabels(context.Background(), "acc", []domain.Label{
		{ID: "INBOX", Name: "INBOX", Type: "system"},
		{ID: "Label_1", Name: "Family", Type: "user"},
	}))
	return &viewFixture{box: box, viewer: NewMessageViewer(box.Messages(), labels)}
}

// complete stores a message and completes it with the given tier.
func (f *viewFixture) complete(t *testing.T, msg *domain.Message, tier domain.Tier, redacted *string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.box.Messages().Insert(ctx, msg)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ok, err := f.box.Transforms().Claim(ctx, domain.ClaimRequest{MessageID: msg.ID, Token: "tok", Now: now})
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.box.Transforms().Complete(ctx, domain.Claim{MessageID: msg.ID, Token: "tok", ClaimedAt: now},
		domain.TransformResult{
			MessageID:       msg.ID,
			Tier:            tier,
			BodyRedacted:    redacted,
			SnippetRedacted: RedactSnippet(tier, msg.Snippet),
			Language:        "en",
		}, now))
}

func viewMessage(id string) *domain.Message {
	return &domain.Message{
		ID:        id,
		AccountID: "acc",
		ThreadID:  "t1",
		Subject:   "Hello",
		From:      domain.Address{Name: "Alice", Email: "alice@example.com"},
		To:        []domain.Address{{Email: "me@example.com"}},
		Snippet:   "raw snippet",
		BodyText:  "raw body from Alice",
		LabelIDs:  []string{"INBOX", "Label_1"},
		SentAt:    time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMessageViewer_BodyFollowsTier(t *testing.T) {
	f := newViewFixture(t)
	redacted := "raw body from [PERSON]"
	f.complete(t, viewMessage("sens"), domain.TierSensitive, nil)
	f.complete(t, viewMessage("pers"), domain.TierPersonal, &redacted)
	f.complete(t, viewMessage("pub"), domain.TierPublic, nil)

	tests := []struct {
		id      string
		body    string
		snippet string
	}{
		{"sens", domain.SensitiveBodyMarker, domain.RedactedSnippet},
		{"pers", "raw body from [PERSON]", domain.RedactedSnippet},
		{"pub", "raw body from Alice", "raw snippet"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := f.viewer.Get(context.Background(), tt.id, driving.ViewOptions{Full: true})
			require.NoError(t, err)
			assert.Equal(t, tt.body, got.Body)
			assert.Equal(t, tt.snippet, got.Snippet)
			assert.Equal(t, []string{"INBOX", "Family"}, got.Labels)
			assert.Equal(t, "Alice <alice@example.com>", got.From)
		})
	}
}

func TestMessageViewer_UnclassifiedNeverShowsRawContent(t *testing.T) {
	f := newViewFixture(t)
	_, err := f.box.Messages().Insert(context.Background(), viewMessage("new"))
	require.NoError(t, err)

	got, err := f.viewer.Get(context.Background(), "new", driving.ViewOptions{Full: true})
	require.NoError(t, err)
	assert.Equal(t, "UNKNOWN", got.Tier)
	assert.Equal(t, domain.MissingRedactionMarker, got.Body)
	assert.Equal(t, domain.RedactedSnippet, got.Snippet)
}

func TestMessageViewer_SummaryOmitsBody(t *testing.T) {
	f := newViewFixture(t)
	f.complete(t, viewMessage("pub"), domain.TierPublic, nil)

	got, err := f.viewer.Get(context.Background(), "pub", driving.ViewOptions{})
	require.NoError(t, err)
	assert.Empty(t, got.Body)
	assert.Nil(t, got.TransformCompletedAt)
}

func TestMessageViewer_RawAddsBookkeeping(t *testing.T) {
	f := newViewFixture(t)
	f.complete(t, viewMessage("pub"), domain.TierPublic, nil)

	got, err := f.viewer.Get(context.Background(), "pub", driving.ViewOptions{Raw: true})
	require.NoError(t, err)
	require.NotNil(t, got.TransformCompletedAt)
	assert.Equal(t, "en", got.Language)
	assert.Equal(t, 0, got.Chunks)
}

func TestMessageViewer_TombstoneIsNotFound(t *testing.T) {
	f := newViewFixture(t)
	f.complete(t, viewMessage("gone"), domain.TierPublic, nil)
	_, err := f.box.Messages().Tombstone(context.Background(), "acc", "gone", time.Now())
	require.NoError(t, err)

	_, err = f.viewer.Get(context.Background(), "gone", driving.ViewOptions{Full: true})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.viewer.Get(context.Background(), "missing", driving.ViewOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
