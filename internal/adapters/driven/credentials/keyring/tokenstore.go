// Package keyring stores OAuth tokens in the operating system keyring,
// falling back to an encrypted file where no keyring service exists.
package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// ServiceName identifies inboxd entries in the keyring.
const ServiceName = "inboxd"

// Ensure TokenStore implements the interface.
var _ driven.TokenStore = (*TokenStore)(nil)

// Config selects where the file backend keeps its entries.
type Config struct {
	// FileDir holds the encrypted file backend.
	FileDir string

	// FilePassword unlocks the file backend. Empty prompts on the terminal.
	FilePassword string
}

// TokenStore persists one JSON-encoded token per account.
type TokenStore struct {
	ring keyring.Keyring
}

// Open opens the first available keyring backend.
func Open(cfg Config) (*TokenStore, error) {
	passwordFunc := keyring.TerminalPrompt
	if cfg.FilePassword != "" {
		passwordFunc = keyring.FixedStringPrompt(cfg.FilePassword)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: ServiceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         passwordFunc,
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return New(ring), nil
}

// New wraps an open keyring.
func New(ring keyring.Keyring) *TokenStore {
	return &TokenStore{ring: ring}
}

func itemKey(accountID string) string {
	return "token:" + accountID
}

// Token returns the stored token, or domain.ErrNotFound.
func (s *TokenStore) Token(_ context.Context, accountID string) (*domain.OAuthCredentials, error) {
	item, err := s.ring.Get(itemKey(accountID))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting token for %s: %w", accountID, err)
	}

	var creds domain.OAuthCredentials
	if err := json.Unmarshal(item.Data, &creds); err != nil {
		return nil, fmt.Errorf("decoding token for %s: %w", accountID, err)
	}
	return &creds, nil
}

// SaveToken stores or replaces the token.
func (s *TokenStore) SaveToken(_ context.Context, accountID string, creds *domain.OAuthCredentials) error {
	if accountID == "" || creds == nil {
		return domain.ErrInvalidInput
	}
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	err = s.ring.Set(keyring.Item{
		Key:         itemKey(accountID),
		Data:        data,
		Label:       "inboxd Gmail token",
		Description: "OAuth token for account " + accountID,
	})
	if err != nil {
		return fmt.Errorf("setting token for %s: %w", accountID, err)
	}
	return nil
}

// DeleteToken removes the token. Deleting a missing token is not an error.
func (s *TokenStore) DeleteToken(_ context.Context, accountID string) error {
	err := s.ring.Remove(itemKey(accountID))
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting token for %s: %w", accountID, err)
	}
	return nil
}
