package services

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
)

// --- Mock implementations for bridge testing ---

// bridgeMockSyncer implements driving.SyncEngine for testing.
type bridgeMockSyncer struct {
	mu    stdsync.Mutex
	calls []string
	errs  []error
	done  chan string
}

func newBridgeMockSyncer(errs ...error) *bridgeMockSyncer {
	return &bridgeMockSyncer{errs: errs, done: make(chan string, 16)}
}

func (m *bridgeMockSyncer) Sync(_ context.Context, accountID string, _ domain.SyncOptions) (*domain.SyncReport, error) {
	m.mu.Lock()
	m.calls = append(m.calls, accountID)
	var err error
	if len(m.errs) > 0 {
		err = m.errs[0]
		m.errs = m.errs[1:]
	}
	m.mu.Unlock()
	m.done <- accountID
	if err != nil {
		return nil, err
	}
	return &domain.SyncReport{AccountID: accountID, Fetched: 1}, nil
}

func (m *bridgeMockSyncer) SyncAll(_ context.Context, _ domain.SyncOptions) error { return nil }
func (m *bridgeMockSyncer) ResetCursor(_ context.Context, _ string) error         { return nil }
func (m *bridgeMockSyncer) Status(_ context.Context, id string) (*driving.SyncStatus, error) {
	return &driving.SyncStatus{AccountID: id}, nil
}

func (m *bridgeMockSyncer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// bridgeMockTransformer implements driving.TransformOrchestrator for testing.
type bridgeMockTransformer struct {
	runs chan domain.TransformOptions
}

func (m *bridgeMockTransformer) Preflight(_ context.Context) error { return nil }
func (m *bridgeMockTransformer) Plan(_ context.Context, _ domain.TransformOptions) (*domain.TransformPlan, error) {
	return &domain.TransformPlan{}, nil
}
func (m *bridgeMockTransformer) Run(_ context.Context, opts domain.TransformOptions) (*domain.TransformReport, error) {
	m.runs <- opts
	return &domain.TransformReport{}, nil
}
func (m *bridgeMockTransformer) Reset(_ context.Context, _ string) (int, error) { return 0, nil }

func newTestBridge(t *testing.T, syncer driving.SyncEngine, transformer driving.TransformOrchestrator) *Bridge {
	t.Helper()
	accounts := memory.NewAccountStore()
	ctx := context.Background()
	require.NoError(t, accounts.Save(ctx, domain.Account{ID: "acc1", EmailAddress: "one@example.com"}))
	require.NoError(t, accounts.Save(ctx, domain.Account{ID: "acc2", EmailAddress: "two@example.com"}))

	b := NewBridge(accounts, syncer, transformer, 0)
	b.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return b
}

func runBridge(t *testing.T, b *Bridge) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, b.Run(ctx))
	}()
	return func() {
		cancel()
		<-done
	}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting")
	}
	var zero T
	return zero
}

// --- Tests ---

func TestBridge_CoalescesBurst(t *testing.T) {
	syncer := newBridgeMockSyncer()
	b := newTestBridge(t, syncer, nil)
	ctx := context.Background()

	for _, marker := range []string{"101", "103", "102"} {
		require.NoError(t, b.Notify(ctx, domain.Notification{
			EmailAddress: "One@Example.com", Marker: marker, Source: domain.NotificationPush,
		}))
	}

	pending, ok := b.Pending("acc1")
	require.True(t, ok)
	assert.Equal(t, 3, pending.Coalesced)
	assert.Equal(t, "102", pending.Marker)

	stop := runBridge(t, b)
	assert.Equal(t, "acc1", waitFor(t, syncer.done))
	stop()

	assert.Equal(t, 1, syncer.callCount())
	_, ok = b.Pending("acc1")
	assert.False(t, ok)
}

func TestBridge_UnknownAddress(t *testing.T) {
	b := newTestBridge(t, newBridgeMockSyncer(), nil)

	err := b.Notify(context.Background(), domain.Notification{EmailAddress: "stranger@example.com"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = b.Notify(context.Background(), domain.Notification{EmailAddress: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBridge_RequeuesWhileSyncRunning(t *testing.T) {
	syncer := newBridgeMockSyncer(domain.ErrSyncInProgress)
	b := newTestBridge(t, syncer, nil)
	require.NoError(t, b.Notify(context.Background(), domain.Notification{
		EmailAddress: "one@example.com", Source: domain.NotificationPull,
	}))

	stop := runBridge(t, b)
	waitFor(t, syncer.done)
	waitFor(t, syncer.done)
	stop()

	assert.Equal(t, 2, syncer.callCount())
}

func TestBridge_RequeueWaitsAtLeastMinimumDelay(t *testing.T) {
	syncer := newBridgeMockSyncer(domain.ErrSyncInProgress)
	b := newTestBridge(t, syncer, nil)

	var mu stdsync.Mutex
	var sleeps []time.Duration
	b.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return ctx.Err()
	}

	require.NoError(t, b.Notify(context.Background(), domain.Notification{EmailAddress: "one@example.com"}))
	stop := runBridge(t, b)
	waitFor(t, syncer.done)
	waitFor(t, syncer.done)
	stop()

	mu.Lock()
	defer mu.Unlock()
	// settle, requeue pause, settle
	require.Len(t, sleeps, 3)
	assert.Equal(t, time.Duration(0), sleeps[0])
	assert.Equal(t, minRequeueDelay, sleeps[1])
}

func TestBridge_TransformsAfterSync(t *testing.T) {
	syncer := newBridgeMockSyncer()
	transformer := &bridgeMockTransformer{runs: make(chan domain.TransformOptions, 4)}
	b := newTestBridge(t, syncer, transformer)
	require.NoError(t, b.Notify(context.Background(), domain.Notification{EmailAddress: "two@example.com"}))

	stop := runBridge(t, b)
	opts := waitFor(t, transformer.runs)
	stop()

	assert.Equal(t, "acc2", opts.AccountID)
	assert.False(t, opts.Force)
}

func TestBridge_NoTransformWhenSyncFails(t *testing.T) {
	syncer := newBridgeMockSyncer(errors.New("provider down"))
	transformer := &bridgeMockTransformer{runs: make(chan domain.TransformOptions, 4)}
	b := newTestBridge(t, syncer, transformer)
	require.NoError(t, b.Notify(context.Background(), domain.Notification{EmailAddress: "one@example.com"}))

	stop := runBridge(t, b)
	waitFor(t, syncer.done)
	stop()

	assert.Empty(t, transformer.runs)
}

func TestBridge_AccountsAreIndependent(t *testing.T) {
	syncer := newBridgeMockSyncer()
	b := newTestBridge(t, syncer, nil)
	ctx := context.Background()
	require.NoError(t, b.Notify(ctx, domain.Notification{EmailAddress: "one@example.com"}))
	require.NoError(t, b.Notify(ctx, domain.Notification{EmailAddress: "two@example.com"}))

	stop := runBridge(t, b)
	got := []string{waitFor(t, syncer.done), waitFor(t, syncer.done)}
	stop()

	assert.ElementsMatch(t, []string{"acc1", "acc2"}, got)
}
