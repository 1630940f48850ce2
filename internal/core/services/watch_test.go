package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/inboxd/internal/core/domain"
)

// watchMockProvider adds watch registration to profileMockProvider.
type watchMockProvider struct {
	profileMockProvider
	expiry   time.Time
	watchErr error
	stops    int
	topics   []string
	labels   [][]string
}

func (m *watchMockProvider) Watch(_ context.Context, topic string, labelIDs []string) (time.Time, error) {
	m.topics = append(m.topics, topic)
	m.labels = append(m.labels, labelIDs)
	return m.expiry, m.watchErr
}

func (m *watchMockProvider) StopWatch(_ context.Context) error {
	m.stops++
	return errors.New("no watch registered")
}

var watchNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newTestWatchService(t *testing.T, provider *watchMockProvider, topic string) (*WatchService, *memory.AccountStore) {
	t.Helper()
	accounts := memory.NewAccountStore()
	require.NoError(t, accounts.Save(context.Background(), domain.Account{ID: "acc", EmailAddress: "me@example.com"}))

	settings := domain.DefaultSettings().Notifications
	settings.Topic = topic
	svc := NewWatchService(accounts, &accountMockFactory{provider: provider}, settings)
	svc.now = func() time.Time { return watchNow }
	return svc, accounts
}

func TestWatchService_RegisterRecordsExpiry(t *testing.T) {
	provider := &watchMockProvider{expiry: watchNow.Add(7 * 24 * time.Hour)}
	svc, accounts := newTestWatchService(t, provider, "projects/p/topics/gmail")

	expiry, err := svc.Register(context.Background(), "acc")
	require.NoError(t, err)
	assert.True(t, provider.expiry.Equal(expiry))
	assert.Equal(t, 1, provider.stops, "existing watch is stopped first")
	assert.Equal(t, []string{"projects/p/topics/gmail"}, provider.topics)
	assert.Equal(t, []string{"INBOX"}, provider.labels[0])
	assert.Equal(t, 1, provider.closed)

	account, err := accounts.Get(context.Background(), "acc")
	require.NoError(t, err)
	assert.True(t, expiry.Equal(account.WatchExpiry))
}

func TestWatchService_RegisterRequiresTopic(t *testing.T) {
	provider := &watchMockProvider{}
	svc, _ := newTestWatchService(t, provider, "")

	_, err := svc.Register(context.Background(), "acc")
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)
	assert.Empty(t, provider.topics)
}

func TestWatchService_RegisterRequiresWatchCapability(t *testing.T) {
	accounts := memory.NewAccountStore()
	require.NoError(t, accounts.Save(context.Background(), domain.Account{ID: "acc", EmailAddress: "me@example.com"}))
	settings := domain.NotificationSettings{Topic: "projects/p/topics/gmail"}
	svc := NewWatchService(accounts, &accountMockFactory{provider: &profileMockProvider{}}, settings)

	_, err := svc.Register(context.Background(), "acc")
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)
}

func TestWatchService_RenewDue(t *testing.T) {
	provider := &watchMockProvider{expiry: watchNow.Add(7 * 24 * time.Hour)}
	svc, accounts := newTestWatchService(t, provider, "projects/p/topics/gmail")
	ctx := context.Background()

	n, err := svc.RenewDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "never registered is due")

	n, err = svc.RenewDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "fresh registration is not due")

	require.NoError(t, accounts.SetWatchExpiry(ctx, "acc", watchNow.Add(time.Hour)))
	n, err = svc.RenewDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "expiry inside the window is due")
}

func TestWatchService_RenewDueJoinsErrors(t *testing.T) {
	provider := &watchMockProvider{watchErr: domain.ErrProviderUnauthorized}
	svc, _ := newTestWatchService(t, provider, "projects/p/topics/gmail")

	n, err := svc.RenewDue(context.Background())
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, domain.ErrProviderUnauthorized)
	assert.Contains(t, err.Error(), "me@example.com")
}
