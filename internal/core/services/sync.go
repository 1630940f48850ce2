package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// Ensure SyncEngine implements the interface.
var _ driving.SyncEngine = (*SyncEngine)(nil)

// SyncStores groups the stores the sync engine writes.
type SyncStores struct {
	Accounts driven.AccountStore
	Cursors  driven.CursorStore
	Labels   driven.LabelStore
	Messages driven.MessageStore
	Events   driven.SyncEventStore
}

// SyncEngine reconciles local storage with the provider. It lists in full
// when an account has no cursor and replays the change log otherwise.
//
// Runs for one account never overlap; the cursor is advanced only after
// every page of the run was stored.
type SyncEngine struct {
	stores    SyncStores
	providers driven.ProviderFactory
	vectors   driven.VectorIndex
	settings  domain.SyncSettings

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	active map[string]*syncRun
}

// NewSyncEngine creates a sync engine. vectors is optional; when set,
// tombstoned messages are removed from the vector mirror.
func NewSyncEngine(
	stores SyncStores,
	providers driven.ProviderFactory,
	vectors driven.VectorIndex,
	settings domain.SyncSettings,
) *SyncEngine {
	return &SyncEngine{
		stores:    stores,
		providers: providers,
		vectors:   vectors,
		settings:  settings,
		now:       time.Now,
		sleep:     sleepContext,
		locks:     make(map[string]*sync.Mutex),
		active:    make(map[string]*syncRun),
	}
}

// syncRun is the explicit state of one sync run for one account.
type syncRun struct {
	account     domain.Account
	provider    driven.MailProvider
	concurrency int
	limit       int

	mu     sync.Mutex
	report domain.SyncReport
}

func (r *syncRun) add(field *int, n int) {
	r.mu.Lock()
	*field += n
	r.mu.Unlock()
}

func (r *syncRun) snapshot() domain.SyncReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// Sync runs one sync for an account. It returns domain.ErrSyncInProgress
// when another run for the account has not finished.
func (e *SyncEngine) Sync(ctx context.Context, accountID string, opts domain.SyncOptions) (*domain.SyncReport, error) {
	account, err := e.stores.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	lock := e.accountLock(accountID)
	if !lock.TryLock() {
		return nil, fmt.Errorf("%w: %s", domain.ErrSyncInProgress, account.EmailAddress)
	}
	defer lock.Unlock()

	provider, err := e.providers.Open(ctx, *account)
	if err != nil {
		return nil, fmt.Errorf("open provider: %w", err)
	}
	defer provider.Close()

	run := &syncRun{
		account:     *account,
		provider:    provider,
		concurrency: opts.Concurrency,
		limit:       opts.Limit,
	}
	if run.concurrency <= 0 {
		run.concurrency = e.settings.Concurrency
	}
	if run.concurrency <= 0 {
		run.concurrency = 1
	}
	run.report.AccountID = accountID
	run.report.StartedAt = e.now()

	event := domain.SyncEvent{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Status:    domain.SyncEventStarted,
		StartedAt: run.report.StartedAt,
	}

	cursor, hasCursor, err := e.stores.Cursors.GetCursor(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	run.report.PreviousCursor = cursor
	run.report.Mode = domain.SyncModeIncremental
	if !hasCursor || opts.ForceFull {
		run.report.Mode = domain.SyncModeFull
	}
	event.Mode = run.report.Mode
	e.recordEvent(ctx, event)

	e.setActive(accountID, run)
	defer e.clearActive(accountID)

	logger.Info("Starting %s sync for %s", run.report.Mode, account.EmailAddress)
	e.refreshLabels(ctx, run)

	if run.report.Mode == domain.SyncModeIncremental {
		err = e.incremental(ctx, run, cursor)
		if errors.Is(err, domain.ErrCursorExpired) {
			logger.Warn("Cursor for %s expired, falling back to full sync", account.EmailAddress)
			run.mu.Lock()
			run.report.Mode = domain.SyncModeFull
			run.report.FellBack = true
			run.mu.Unlock()
			err = e.full(ctx, run)
		}
	} else {
		err = e.full(ctx, run)
	}

	report := run.snapshot()
	report.FinishedAt = e.now()
	if report.RateLimited > 0 {
		report.Recommendation = fmt.Sprintf(
			"provider throttled %d requests; consider lowering sync concurrency below %d",
			report.RateLimited, run.concurrency)
		logger.Warn("%s", report.Recommendation)
	}

	finished := report.FinishedAt
	event.Mode = report.Mode
	event.MessagesProcessed = report.Processed()
	event.FinishedAt = &finished
	if err != nil {
		event.Status = domain.SyncEventFailed
		event.Error = err.Error()
		e.recordEvent(ctx, event)
		logger.Error("Sync for %s failed: %v", account.EmailAddress, err)
		return &report, err
	}
	event.Status = domain.SyncEventCompleted
	e.recordEvent(ctx, event)

	logger.Info("Sync complete for %s: %d fetched, %d skipped, %d relabelled, %d tombstoned",
		account.EmailAddress, report.Fetched, report.Skipped, report.Relabelled, report.Tombstoned)
	return &report, nil
}

// SyncAll syncs every account in parallel. One account failing does not
// stop the others; errors are joined.
func (e *SyncEngine) SyncAll(ctx context.Context, opts domain.SyncOptions) error {
	accounts, err := e.stores.Accounts.List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, account := range accounts {
		g.Go(func() error {
			if _, err := e.Sync(ctx, account.ID, opts); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("sync %s: %w", account.EmailAddress, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// ResetCursor forgets the cursor so the next sync lists in full.
func (e *SyncEngine) ResetCursor(ctx context.Context, accountID string) error {
	if err := e.stores.Cursors.ClearCursor(ctx, accountID); err != nil {
		return fmt.Errorf("clear cursor: %w", err)
	}
	return nil
}

// Status returns the state of a running sync, or an idle status.
func (e *SyncEngine) Status(_ context.Context, accountID string) (*driving.SyncStatus, error) {
	e.mu.Lock()
	run, ok := e.active[accountID]
	e.mu.Unlock()
	if !ok {
		return &driving.SyncStatus{AccountID: accountID}, nil
	}

	report := run.snapshot()
	return &driving.SyncStatus{
		AccountID:         accountID,
		Running:           true,
		Mode:              report.Mode,
		MessagesProcessed: report.Processed(),
	}, nil
}

// full lists every message. The provider cursor is captured before the
// listing starts so changes made during the listing are replayed by the
// next incremental run. A complete listing also tombstones stored
// messages it no longer contains.
func (e *SyncEngine) full(ctx context.Context, run *syncRun) error {
	var profile domain.Profile
	if err := e.withBackoff(ctx, run, func() error {
		var err error
		profile, err = run.provider.Profile(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("get profile: %w", err)
	}

	listed := 0
	seen := make(map[string]bool)
	truncated := false
	pageToken := ""
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var listing domain.MessagePage
		if err := e.withBackoff(ctx, run, func() error {
			var err error
			listing, err = run.provider.ListAll(ctx, pageToken)
			return err
		}); err != nil {
			return &domain.PageError{Page: page, Err: err}
		}
		run.add(&run.report.Pages, 1)

		ids := listing.MessageIDs
		if run.limit > 0 && listed+len(ids) >= run.limit {
			ids = ids[:run.limit-listed]
			truncated = listing.NextPageToken != "" || len(ids) < len(listing.MessageIDs)
		}
		listed += len(ids)
		for _, id := range ids {
			seen[id] = true
		}

		if err := e.fetchAll(ctx, run, ids); err != nil {
			return &domain.PageError{Page: page, Err: err}
		}
		logger.Debug("Page %d: %d messages listed", page, len(ids))

		if listing.NextPageToken == "" || (run.limit > 0 && listed >= run.limit) {
			break
		}
		pageToken = listing.NextPageToken
	}

	if truncated {
		// A partial listing must not become the delta baseline.
		logger.Warn("Listing stopped at %d messages; cursor not advanced", listed)
		return nil
	}
	if err := e.reconcile(ctx, run, seen); err != nil {
		return err
	}
	return e.advance(ctx, run, profile.Cursor)
}

// incremental replays the change log since cursor. Returns
// domain.ErrCursorExpired unchanged so the caller can fall back.
func (e *SyncEngine) incremental(ctx context.Context, run *syncRun, cursor string) error {
	newCursor := ""
	pageToken := ""
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var changes domain.ChangePage
		err := e.withBackoff(ctx, run, func() error {
			var err error
			changes, err = run.provider.ListChanges(ctx, cursor, pageToken)
			return err
		})
		if err != nil {
			if errors.Is(err, domain.ErrCursorExpired) {
				return err
			}
			return &domain.PageError{Page: page, Err: err}
		}
		run.add(&run.report.Pages, 1)

		if err := e.applyChanges(ctx, run, changes.Changes); err != nil {
			return &domain.PageError{Page: page, Err: err}
		}
		if changes.NewCursor != "" {
			newCursor = changes.NewCursor
		}

		if changes.NextPageToken == "" {
			break
		}
		pageToken = changes.NextPageToken
	}

	if newCursor == "" {
		newCursor = cursor
	}
	return e.advance(ctx, run, newCursor)
}

// pageChanges is one page of changes collapsed per message.
type pageChanges struct {
	added      []string
	labels     map[string][]string
	relabelled []string
	deleted    []string
	isDeleted  map[string]bool
}

// collapse folds a page of changes. A message added and deleted in the same
// page is only tombstoned; repeated label changes keep the last label set.
func collapse(changes []domain.Change) pageChanges {
	pc := pageChanges{labels: make(map[string][]string), isDeleted: make(map[string]bool)}
	seen := make(map[string]bool)
	for _, c := range changes {
		switch c.Kind {
		case domain.ChangeAdded:
			if !seen[c.MessageID] {
				seen[c.MessageID] = true
				pc.added = append(pc.added, c.MessageID)
			}
		case domain.ChangeLabelsChanged:
			if _, ok := pc.labels[c.MessageID]; !ok {
				pc.relabelled = append(pc.relabelled, c.MessageID)
			}
			pc.labels[c.MessageID] = c.LabelIDs
		case domain.ChangeDeleted:
			if !pc.isDeleted[c.MessageID] {
				pc.isDeleted[c.MessageID] = true
				pc.deleted = append(pc.deleted, c.MessageID)
			}
		}
	}

	added := pc.added[:0]
	for _, id := range pc.added {
		if !pc.isDeleted[id] {
			added = append(added, id)
		}
	}
	pc.added = added
	return pc
}

func (e *SyncEngine) applyChanges(ctx context.Context, run *syncRun, changes []domain.Change) error {
	pc := collapse(changes)

	if err := e.fetchAll(ctx, run, pc.added); err != nil {
		return err
	}

	for _, id := range pc.relabelled {
		if pc.isDeleted[id] {
			continue
		}
		err := e.stores.Messages.UpdateLabels(ctx, run.account.ID, id, pc.labels[id])
		switch {
		case errors.Is(err, domain.ErrNotFound):
			run.add(&run.report.Skipped, 1)
		case err != nil:
			return fmt.Errorf("update labels %s: %w", id, err)
		default:
			run.add(&run.report.Relabelled, 1)
		}
	}

	return e.tombstoneAll(ctx, run, pc.deleted)
}

// tombstoneAll marks messages deleted and drops their mirrored vectors.
func (e *SyncEngine) tombstoneAll(ctx context.Context, run *syncRun, ids []string) error {
	now := e.now()
	for _, id := range ids {
		changed, err := e.stores.Messages.Tombstone(ctx, run.account.ID, id, now)
		if err != nil {
			return fmt.Errorf("tombstone %s: %w", id, err)
		}
		if !changed {
			run.add(&run.report.Skipped, 1)
			continue
		}
		run.add(&run.report.Tombstoned, 1)
		if e.vectors != nil {
			if err := e.vectors.DeleteMessage(ctx, id); err != nil {
				logger.Warn("Failed to delete vectors of %s: %v", id, err)
			}
		}
	}
	return nil
}

// reconcile tombstones stored messages missing from a complete listing.
// Deletions made while the cursor was expired are only visible this way.
func (e *SyncEngine) reconcile(ctx context.Context, run *syncRun, listed map[string]bool) error {
	stored, err := e.stores.Messages.LiveIDs(ctx, run.account.ID)
	if err != nil {
		return fmt.Errorf("list stored messages: %w", err)
	}
	var missing []string
	for _, id := range stored {
		if !listed[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	logger.Info("Tombstoning %d messages no longer listed for %s", len(missing), run.account.EmailAddress)
	return e.tombstoneAll(ctx, run, missing)
}

// fetchAll fetches and stores messages with bounded fan-out. Ids already
// stored are skipped without a provider call.
func (e *SyncEngine) fetchAll(ctx context.Context, run *syncRun, ids []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(run.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			return e.fetchOne(gctx, run, id)
		})
	}
	return g.Wait()
}

func (e *SyncEngine) fetchOne(ctx context.Context, run *syncRun, id string) error {
	exists, err := e.stores.Messages.Exists(ctx, run.account.ID, id)
	if err != nil {
		return fmt.Errorf("check %s: %w", id, err)
	}
	if exists {
		run.add(&run.report.Skipped, 1)
		return nil
	}

	var msg *domain.Message
	err = e.withBackoff(ctx, run, func() error {
		var err error
		msg, err = run.provider.FetchMessage(ctx, id)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		// Deleted at the provider since it was listed.
		logger.Debug("Message %s vanished before fetch", id)
		run.add(&run.report.Skipped, 1)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch %s: %w", id, err)
	}

	msg.AccountID = run.account.ID
	if msg.SyncedAt.IsZero() {
		msg.SyncedAt = e.now()
	}
	inserted, err := e.stores.Messages.Insert(ctx, msg)
	if err != nil {
		return fmt.Errorf("store %s: %w", id, err)
	}
	if inserted {
		run.add(&run.report.Fetched, 1)
	} else {
		run.add(&run.report.Skipped, 1)
	}
	return nil
}

func (e *SyncEngine) advance(ctx context.Context, run *syncRun, cursor string) error {
	if cursor == "" {
		return fmt.Errorf("%w: provider returned no cursor", domain.ErrInvalidInput)
	}
	if err := e.stores.Cursors.AdvanceCursor(ctx, run.account.ID, cursor, e.now()); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	run.mu.Lock()
	run.report.Cursor = cursor
	run.mu.Unlock()
	return nil
}

// refreshLabels replaces the label registry. Failure is logged; the
// registry only feeds classifier context.
func (e *SyncEngine) refreshLabels(ctx context.Context, run *syncRun) {
	var labels []domain.Label
	err := e.withBackoff(ctx, run, func() error {
		var err error
		labels, err = run.provider.Labels(ctx)
		return err
	})
	if err == nil {
		err = e.stores.Labels.ReplaceLabels(ctx, run.account.ID, labels)
	}
	if err != nil {
		logger.Warn("Label refresh for %s failed: %v", run.account.EmailAddress, err)
	}
}

// withBackoff retries fn while the provider reports throttling. The delay
// starts at InitialBackoff and doubles per retry, capped at MaxBackoff.
func (e *SyncEngine) withBackoff(ctx context.Context, run *syncRun, fn func() error) error {
	delay := e.settings.InitialBackoff
	if delay <= 0 {
		delay = time.Second
	}
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !errors.Is(err, domain.ErrRateLimited) {
			return err
		}
		if attempt >= e.settings.MaxRetries {
			return fmt.Errorf("gave up after %d retries: %w", attempt, err)
		}
		run.add(&run.report.RateLimited, 1)
		logger.Debug("Rate limited, retrying in %s", delay)
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if e.settings.MaxBackoff > 0 && delay > e.settings.MaxBackoff {
			delay = e.settings.MaxBackoff
		}
	}
}

func (e *SyncEngine) recordEvent(ctx context.Context, event domain.SyncEvent) {
	if e.stores.Events == nil {
		return
	}
	if err := e.stores.Events.Record(ctx, event); err != nil {
		logger.Warn("Failed to record sync event: %v", err)
	}
}

func (e *SyncEngine) accountLock(accountID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[accountID] = lock
	}
	return lock
}

func (e *SyncEngine) setActive(accountID string, run *syncRun) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[accountID] = run
}

func (e *SyncEngine) clearActive(accountID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, accountID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
