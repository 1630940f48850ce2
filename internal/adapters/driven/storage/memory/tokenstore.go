package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// Ensure TokenStore implements the interface.
var _ driven.TokenStore = (*TokenStore)(nil)

// TokenStore is an in-memory implementation of driven.TokenStore.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]domain.OAuthCredentials
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]domain.OAuthCredentials)}
}

// Token returns a copy of the stored token.
func (s *TokenStore) Token(_ context.Context, accountID string) (*domain.OAuthCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.tokens[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &creds, nil
}

// SaveToken stores or replaces a token.
func (s *TokenStore) SaveToken(_ context.Context, accountID string, creds *domain.OAuthCredentials) error {
	if accountID == "" || creds == nil {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[accountID] = *creds
	return nil
}

// DeleteToken removes a stored token.
func (s *TokenStore) DeleteToken(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, accountID)
	return nil
}

// Len returns the number of stored tokens.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
