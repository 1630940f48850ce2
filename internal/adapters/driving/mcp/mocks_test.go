package mcp

import (
	"context"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
)

// mockMessageViewer is a mock implementation of driving.MessageViewer.
type mockMessageViewer struct {
	messages map[string]*driving.ExternalMessage
	err      error
	lastOpts driving.ViewOptions
}

func (m *mockMessageViewer) Get(_ context.Context, id string, opts driving.ViewOptions) (*driving.ExternalMessage, error) {
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	msg, ok := m.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *msg
	if !opts.Full {
		out.Body = ""
	}
	return &out, nil
}

// mockAccountService is a mock implementation of driving.AccountService.
type mockAccountService struct {
	accounts []domain.Account
	err      error
}

func (m *mockAccountService) Add(_ context.Context, _ domain.OAuthCredentials) (*domain.Account, error) {
	return nil, m.err
}

func (m *mockAccountService) List(_ context.Context) ([]domain.Account, error) {
	return m.accounts, m.err
}

var testDate = time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)

func newMockViewer() *mockMessageViewer {
	return &mockMessageViewer{messages: map[string]*driving.ExternalMessage{
		"m1": {
			ID:        "m1",
			ThreadID:  "t1",
			AccountID: "acc",
			Subject:   "Weekly digest",
			From:      "News <news@example.com>",
			To:        []string{"me@example.com"},
			Date:      testDate,
			Labels:    []string{"INBOX"},
			Tier:      "PUBLIC",
			Snippet:   "This week",
			Body:      "This week in news",
		},
	}}
}
