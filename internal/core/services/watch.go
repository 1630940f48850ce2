package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// Ensure WatchService implements the interface.
var _ driving.WatchService = (*WatchService)(nil)

// WatchService keeps push registrations alive.
type WatchService struct {
	accounts  driven.AccountStore
	providers driven.ProviderFactory
	settings  domain.NotificationSettings
	now       func() time.Time
}

// NewWatchService creates a watch service.
func NewWatchService(accounts driven.AccountStore, providers driven.ProviderFactory, settings domain.NotificationSettings) *WatchService {
	return &WatchService{
		accounts:  accounts,
		providers: providers,
		settings:  settings,
		now:       time.Now,
	}
}

// Register stops any existing registration, watches the configured topic
// and records the new expiry.
func (s *WatchService) Register(ctx context.Context, accountID string) (time.Time, error) {
	if s.settings.Topic == "" {
		return time.Time{}, fmt.Errorf("%w: notifications.topic", domain.ErrCapabilityMissing)
	}

	account, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return time.Time{}, err
	}
	provider, err := s.providers.Open(ctx, *account)
	if err != nil {
		return time.Time{}, fmt.Errorf("open provider: %w", err)
	}
	defer provider.Close()

	registrar, ok := provider.(driven.WatchRegistrar)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: provider does not support push notifications", domain.ErrCapabilityMissing)
	}

	if err := registrar.StopWatch(ctx); err != nil {
		logger.Debug("Stopping previous watch of %s: %v", account.EmailAddress, err)
	}
	expiry, err := registrar.Watch(ctx, s.settings.Topic, s.settings.WatchLabelIDs)
	if err != nil {
		return time.Time{}, fmt.Errorf("watch %s: %w", account.EmailAddress, err)
	}
	if err := s.accounts.SetWatchExpiry(ctx, account.ID, expiry); err != nil {
		return time.Time{}, fmt.Errorf("record watch expiry: %w", err)
	}
	logger.Info("Watching %s on %s until %s", account.EmailAddress, s.settings.Topic, expiry.Format(time.RFC3339))
	return expiry, nil
}

// RenewDue re-registers every watch that lapses within the renewal
// window. Accounts are independent; failures are joined.
func (s *WatchService) RenewDue(ctx context.Context) (int, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}

	now := s.now()
	renewed := 0
	var errs []error
	for _, account := range accounts {
		if !account.WatchDue(now, s.settings.RenewWindow) {
			continue
		}
		if _, err := s.Register(ctx, account.ID); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", account.EmailAddress, err))
			continue
		}
		renewed++
	}
	return renewed, errors.Join(errs...)
}
