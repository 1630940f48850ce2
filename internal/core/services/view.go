package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// Ensure MessageViewer implements the interface.
var _ driving.MessageViewer = (*MessageViewer)(nil)

// MessageViewer builds the external view of stored messages.
type MessageViewer struct {
	messages driven.MessageStore
	labels   driven.LabelStore
}

// NewMessageViewer creates a message viewer.
func NewMessageViewer(messages driven.MessageStore, labels driven.LabelStore) *MessageViewer {
	return &MessageViewer{messages: messages, labels: labels}
}

// Get returns the external view of a message. The body, when requested,
// follows the tier policy: a marker for SENSITIVE, the redacted body for
// PERSONAL and the original body only for PUBLIC.
func (v *MessageViewer) Get(ctx context.Context, messageID string, opts driving.ViewOptions) (*driving.ExternalMessage, error) {
	msg, err := v.messages.Get(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted() {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}

	d := msg.Derived
	out := &driving.ExternalMessage{
		ID:             msg.ID,
		ThreadID:       msg.ThreadID,
		AccountID:      msg.AccountID,
		Subject:        msg.Subject,
		From:           msg.From.String(),
		To:             formatAddresses(msg.To),
		Date:           msg.SentAt,
		Labels:         v.labelNames(ctx, msg),
		Tier:           d.Tier.String(),
		Snippet:        viewSnippet(d),
		HasAttachments: msg.HasAttachments,
	}

	if opts.Full {
		out.Body = displayBody(msg, d.Tier, d.BodyRedacted)
	}

	if opts.Raw {
		out.TransformCompletedAt = d.CompletedAt
		out.AttemptCount = d.AttemptCount
		out.LastError = d.LastError
		out.Language = d.Language
		chunks, err := v.messages.Chunks(ctx, msg.ID)
		if err != nil {
			return nil, fmt.Errorf("load chunks: %w", err)
		}
		out.Chunks = len(chunks)
	}
	return out, nil
}

func (v *MessageViewer) labelNames(ctx context.Context, msg *domain.Message) []string {
	if v.labels == nil {
		return msg.LabelIDs
	}
	registry, err := v.labels.Labels(ctx, msg.AccountID)
	if err != nil {
		logger.Debug("Labels of %s unavailable: %v", msg.AccountID, err)
		return msg.LabelIDs
	}
	return registry.Resolve(msg.LabelIDs)
}

// viewSnippet never shows the raw snippet of an unclassified message.
func viewSnippet(d domain.Derived) string {
	if !d.Tier.IsValid() {
		return domain.RedactedSnippet
	}
	return d.SnippetRedacted
}

func formatAddresses(addrs []domain.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
