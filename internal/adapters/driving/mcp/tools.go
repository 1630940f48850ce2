package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
)

// GetEmailInput is the input schema for the get_email tool.
type GetEmailInput struct {
	MessageID string `json:"message_id" jsonschema:"the provider message id"`
	Full      bool   `json:"full,omitempty" jsonschema:"include the body as permitted by the message tier"`
	Raw       bool   `json:"raw,omitempty" jsonschema:"include transform bookkeeping; implies full"`
}

// EmailOutput is the output schema for the get_email tool.
type EmailOutput struct {
	ID             string    `json:"id"`
	ThreadID       string    `json:"thread_id"`
	AccountID      string    `json:"account_id"`
	Subject        string    `json:"subject"`
	From           string    `json:"from"`
	To             []string  `json:"to"`
	Date           string    `json:"date" jsonschema:"RFC 3339 timestamp"`
	Labels         []string  `json:"labels"`
	Tier           string    `json:"tier"`
	Snippet        string    `json:"snippet"`
	Body           string    `json:"body,omitempty"`
	HasAttachments bool      `json:"has_attachments"`

	TransformCompletedAt string `json:"transform_completed_at,omitempty"`
	AttemptCount         int    `json:"attempt_count,omitempty"`
	LastError            string `json:"last_error,omitempty"`
	Chunks               int    `json:"chunks,omitempty"`
	Language             string `json:"language,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "get_email",
		Description: "Read one stored email. Subject and body are redacted according to " +
			"the message's privacy tier; unclassified mail shows only markers.",
	}, s.handleGetEmail)
}

// handleGetEmail handles the get_email tool invocation.
func (s *Server) handleGetEmail(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetEmailInput,
) (*mcp.CallToolResult, EmailOutput, error) {
	if input.MessageID == "" {
		return nil, EmailOutput{}, errors.New("message_id is required")
	}

	msg, err := s.ports.Messages.Get(ctx, input.MessageID, driving.ViewOptions{
		Full: input.Full || input.Raw,
		Raw:  input.Raw,
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, EmailOutput{}, fmt.Errorf("message %s not found", input.MessageID)
	}
	if err != nil {
		return nil, EmailOutput{}, err
	}

	return nil, toOutput(msg), nil
}

// toOutput flattens timestamps to strings so the output schema stays
// plain JSON types.
func toOutput(m *driving.ExternalMessage) EmailOutput {
	out := EmailOutput{
		ID:             m.ID,
		ThreadID:       m.ThreadID,
		AccountID:      m.AccountID,
		Subject:        m.Subject,
		From:           m.From,
		To:             m.To,
		Date:           m.Date.UTC().Format(time.RFC3339),
		Labels:         m.Labels,
		Tier:           m.Tier,
		Snippet:        m.Snippet,
		Body:           m.Body,
		HasAttachments: m.HasAttachments,
		AttemptCount:   m.AttemptCount,
		LastError:      m.LastError,
		Chunks:         m.Chunks,
		Language:       m.Language,
	}
	if m.TransformCompletedAt != nil {
		out.TransformCompletedAt = m.TransformCompletedAt.UTC().Format(time.RFC3339)
	}
	return out
}
