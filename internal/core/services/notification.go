package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// Ensure Bridge implements the interface.
var _ driving.NotificationBridge = (*Bridge)(nil)

// queueSize bounds triggers waiting for Run. Pending triggers are unique per
// account, so this is only reached with that many accounts.
const queueSize = 1024

// minRequeueDelay paces retries against a sync that is still running.
const minRequeueDelay = time.Second

// Bridge turns push and pull notifications into sync runs.
//
// Notifications for the same account are coalesced into one pending
// trigger. The notification marker is logged but never used as a cursor:
// every sync reads the stored cursor, so duplicate and out-of-order
// notifications only cause a redundant, idempotent run.
type Bridge struct {
	accounts    driven.AccountStore
	syncer      driving.SyncEngine
	transformer driving.TransformOrchestrator
	settle      time.Duration

	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	pending map[string]*domain.SyncTrigger
	queue   chan string
}

// NewBridge creates a notification bridge. transformer is optional; when
// set, a non-forced transform runs for the account after each sync.
func NewBridge(
	accounts driven.AccountStore,
	syncer driving.SyncEngine,
	transformer driving.TransformOrchestrator,
	settle time.Duration,
) *Bridge {
	return &Bridge{
		accounts:    accounts,
		syncer:      syncer,
		transformer: transformer,
		settle:      settle,
		sleep:       sleepContext,
		pending:     make(map[string]*domain.SyncTrigger),
		queue:       make(chan string, queueSize),
	}
}

// Notify resolves the account of a notification and schedules a sync.
// It returns domain.ErrNotFound for addresses with no account.
func (b *Bridge) Notify(ctx context.Context, n domain.Notification) error {
	email := strings.TrimSpace(n.EmailAddress)
	if email == "" {
		return fmt.Errorf("%w: notification without address", domain.ErrInvalidInput)
	}

	account, err := b.accounts.GetByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", email, err)
	}

	logger.Debug("%s notification for %s (marker %s)", n.Source, email, n.Marker)
	b.enqueue(domain.SyncTrigger{
		AccountID: account.ID,
		Marker:    n.Marker,
		Source:    n.Source,
		Coalesced: 1,
	})
	return nil
}

// enqueue folds a trigger into the pending set, scheduling the account
// when nothing was pending for it.
func (b *Bridge) enqueue(t domain.SyncTrigger) {
	b.mu.Lock()
	if p, ok := b.pending[t.AccountID]; ok {
		p.Coalesced += t.Coalesced
		if t.Marker != "" {
			p.Marker = t.Marker
		}
		b.mu.Unlock()
		return
	}
	trigger := t
	b.pending[t.AccountID] = &trigger
	b.mu.Unlock()

	select {
	case b.queue <- t.AccountID:
	default:
		// The catch-up sync task picks the account up later.
		b.mu.Lock()
		delete(b.pending, t.AccountID)
		b.mu.Unlock()
		logger.Warn("Notification queue full, dropping trigger for %s", t.AccountID)
	}
}

// Pending returns the trigger waiting for an account, if any.
func (b *Bridge) Pending(accountID string) (domain.SyncTrigger, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[accountID]
	if !ok {
		return domain.SyncTrigger{}, false
	}
	return *p, true
}

// Run processes triggers until ctx is cancelled. Accounts are processed
// concurrently; the sync engine serialises runs per account.
func (b *Bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case accountID := <-b.queue:
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.process(ctx, accountID)
			}()
		}
	}
}

func (b *Bridge) process(ctx context.Context, accountID string) {
	// Let a burst of notifications settle into one trigger.
	if err := b.sleep(ctx, b.settle); err != nil {
		return
	}

	b.mu.Lock()
	trigger, ok := b.pending[accountID]
	delete(b.pending, accountID)
	b.mu.Unlock()
	if !ok {
		return
	}

	logger.Info("Syncing %s for %d %s notification(s)", accountID, trigger.Coalesced, trigger.Source)
	report, err := b.syncer.Sync(ctx, accountID, domain.SyncOptions{})
	switch {
	case errors.Is(err, domain.ErrSyncInProgress):
		// The running sync may have read its cursor before these
		// changes landed; run again once it is done.
		logger.Debug("Sync for %s in progress, requeueing", accountID)
		if err := b.sleep(ctx, max(b.settle, minRequeueDelay)); err != nil {
			return
		}
		b.enqueue(*trigger)
		return
	case err != nil:
		logger.Error("Notification sync for %s failed: %v", accountID, err)
		return
	}
	logger.Debug("Notification sync for %s processed %d messages", accountID, report.Processed())

	if b.transformer == nil {
		return
	}
	result, err := b.transformer.Run(ctx, domain.TransformOptions{AccountID: accountID})
	if err != nil {
		logger.Error("Post-sync transform for %s failed: %v", accountID, err)
		return
	}
	logger.Info("Post-sync transform for %s: %d processed, %d failed",
		accountID, result.Processed, result.Failed)
}
