package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
)

const (
	// uriScheme is the custom URI scheme for inboxd resources.
	uriScheme = "inboxd://"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "accounts",
		Name:        "accounts",
		Description: "Onboarded mailboxes with sync and watch state",
		MIMEType:    "application/json",
	}, s.handleAccountsResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "messages/{messageId}",
		Name:        "message",
		Description: "One stored email in its tier-redacted full view",
		MIMEType:    "application/json",
	}, s.handleMessageResource)
}

type accountInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	LastSyncAt  string `json:"last_sync_at,omitempty"`
	WatchExpiry string `json:"watch_expiry,omitempty"`
}

// handleAccountsResource lists onboarded accounts. Cursors and tokens
// are never exposed.
func (s *Server) handleAccountsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	infos := []accountInfo{}
	if s.ports.Accounts != nil {
		accounts, err := s.ports.Accounts.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing accounts: %w", err)
		}
		for _, a := range accounts {
			infos = append(infos, accountInfo{
				ID:          a.ID,
				Email:       a.EmailAddress,
				LastSyncAt:  optionalTime(a.LastSyncAt),
				WatchExpiry: optionalTime(a.WatchExpiry),
			})
		}
	}

	return jsonResult(req.Params.URI, infos)
}

// handleMessageResource returns the full policy view of one message.
func (s *Server) handleMessageResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	id := extractMessageID(req.Params.URI)
	if id == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	msg, err := s.ports.Messages.Get(ctx, id, driving.ViewOptions{Full: true})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message: %w", err)
	}

	return jsonResult(req.Params.URI, toOutput(msg))
}

func jsonResult(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractMessageID extracts the id from a URI like inboxd://messages/{messageId}.
func extractMessageID(uri string) string {
	const prefix = uriScheme + "messages/"
	if !strings.HasPrefix(uri, prefix) {
		return ""
	}
	id := strings.TrimPrefix(uri, prefix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func optionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
