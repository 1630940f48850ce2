package mcp

import (
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
)

// Ports aggregates the driving port interfaces the MCP server uses.
type Ports struct {
	// Messages serves the policy-enforced message view.
	Messages driving.MessageViewer

	// Accounts lists onboarded mailboxes. Optional.
	Accounts driving.AccountService
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Messages == nil {
		return ErrMissingMessageViewer
	}
	return nil
}
