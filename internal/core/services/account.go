package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// Ensure AccountService implements the interface.
var _ driving.AccountService = (*AccountService)(nil)

// AccountService onboards accounts from imported OAuth tokens.
type AccountService struct {
	accounts  driven.AccountStore
	tokens    driven.TokenStore
	providers driven.ProviderFactory
	now       func() time.Time
	newID     func() string
}

// NewAccountService creates an account service.
func NewAccountService(accounts driven.AccountStore, tokens driven.TokenStore, providers driven.ProviderFactory) *AccountService {
	return &AccountService{
		accounts:  accounts,
		tokens:    tokens,
		providers: providers,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Add stores the token, asks the provider which mailbox it belongs to and
// creates the account. Importing a token for a known address replaces
// that account's token.
func (s *AccountService) Add(ctx context.Context, creds domain.OAuthCredentials) (*domain.Account, error) {
	if creds.AccessToken == "" && creds.RefreshToken == "" {
		return nil, fmt.Errorf("%w: token has neither access nor refresh token", domain.ErrInvalidInput)
	}

	id := s.newID()
	if err := s.tokens.SaveToken(ctx, id, &creds); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}

	profile, err := s.profile(ctx, id)
	if err != nil {
		_ = s.tokens.DeleteToken(ctx, id)
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(profile.EmailAddress))
	if email == "" {
		_ = s.tokens.DeleteToken(ctx, id)
		return nil, fmt.Errorf("%w: provider returned no address", domain.ErrInvalidInput)
	}

	existing, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if err := s.moveToken(ctx, id, existing.ID); err != nil {
			return nil, err
		}
		logger.Info("Updated token of %s", email)
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		_ = s.tokens.DeleteToken(ctx, id)
		return nil, fmt.Errorf("look up account: %w", err)
	}

	account := domain.Account{ID: id, EmailAddress: email, CreatedAt: s.now()}
	if err := s.accounts.Save(ctx, account); err != nil {
		_ = s.tokens.DeleteToken(ctx, id)
		return nil, fmt.Errorf("save account: %w", err)
	}
	logger.Info("Added account %s (%s)", email, id)
	return &account, nil
}

// List returns all accounts.
func (s *AccountService) List(ctx context.Context) ([]domain.Account, error) {
	return s.accounts.List(ctx)
}

func (s *AccountService) profile(ctx context.Context, id string) (domain.Profile, error) {
	provider, err := s.providers.Open(ctx, domain.Account{ID: id})
	if err != nil {
		return domain.Profile{}, fmt.Errorf("open provider: %w", err)
	}
	defer provider.Close()

	profile, err := provider.Profile(ctx)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return profile, nil
}

// moveToken re-keys a token. The stored copy is read back so a refresh
// that happened during the profile call is kept.
func (s *AccountService) moveToken(ctx context.Context, from, to string) error {
	latest, err := s.tokens.Token(ctx, from)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if err := s.tokens.SaveToken(ctx, to, latest); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := s.tokens.DeleteToken(ctx, from); err != nil {
		logger.Warn("Removing temporary token %s: %v", from, err)
	}
	return nil
}
