package gmail

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/custodia-labs/inboxd/internal/connectors/google"
	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// Verify interface compliance.
var _ driven.ProviderFactory = (*Factory)(nil)

// Factory opens Gmail providers for accounts using stored OAuth tokens.
// Providers opened for the same account share one rate limiter.
type Factory struct {
	oauth    *oauth2.Config
	tokens   driven.TokenStore
	settings domain.SyncSettings
	opts     []option.ClientOption

	mu       sync.Mutex
	limiters map[string]*google.RateLimiter
}

// NewFactory creates a provider factory. Extra client options are passed to
// every Gmail service (tests use option.WithEndpoint).
func NewFactory(oauth *oauth2.Config, tokens driven.TokenStore, settings domain.SyncSettings, opts ...option.ClientOption) *Factory {
	return &Factory{
		oauth:    oauth,
		tokens:   tokens,
		settings: settings,
		opts:     opts,
		limiters: make(map[string]*google.RateLimiter),
	}
}

// Open creates a provider for the account.
func (f *Factory) Open(ctx context.Context, account domain.Account) (driven.MailProvider, error) {
	ts := google.NewTokenSource(ctx, f.oauth, f.tokens, account.ID)
	svc, err := google.NewGmailService(ctx, ts, f.opts...)
	if err != nil {
		return nil, err
	}
	return NewProvider(svc, account.ID, ParseConfig(f.settings), f.limiter(account.ID)), nil
}

func (f *Factory) limiter(accountID string) *google.RateLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	rl, ok := f.limiters[accountID]
	if !ok {
		rl = google.NewRateLimiter(google.RateLimitFromSettings(f.settings))
		f.limiters[accountID] = rl
	}
	return rl
}
