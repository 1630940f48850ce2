package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// Ensure AccountStore implements the interfaces.
var (
	_ driven.AccountStore = (*AccountStore)(nil)
	_ driven.CursorStore  = (*AccountStore)(nil)
)

// AccountStore is an in-memory implementation of driven.AccountStore and
// driven.CursorStore.
type AccountStore struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account

	// advances counts AdvanceCursor calls per account, for tests.
	advances map[string]int
}

// NewAccountStore creates a new in-memory account store.
func NewAccountStore() *AccountStore {
	return &AccountStore{
		accounts: make(map[string]domain.Account),
		advances: make(map[string]int),
	}
}

// Save stores an account, keeping any existing cursor and watch expiry.
func (s *AccountStore) Save(_ context.Context, account domain.Account) error {
	if account.ID == "" || account.EmailAddress == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	account.EmailAddress = strings.ToLower(account.EmailAddress)
	for id, existing := range s.accounts {
		if id != account.ID && existing.EmailAddress == account.EmailAddress {
			return fmt.Errorf("%w: account %s", domain.ErrAlreadyExists, account.EmailAddress)
		}
	}

	if existing, ok := s.accounts[account.ID]; ok {
		existing.EmailAddress = account.EmailAddress
		s.accounts[account.ID] = existing
		return nil
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	account.Cursor = ""
	account.LastSyncAt = time.Time{}
	account.WatchExpiry = time.Time{}
	s.accounts[account.ID] = account
	return nil
}

// Get retrieves an account by ID.
func (s *AccountStore) Get(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &account, nil
}

// GetByEmail retrieves an account by address.
func (s *AccountStore) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, account := range s.accounts {
		if account.EmailAddress == email {
			return &account, nil
		}
	}
	return nil, domain.ErrNotFound
}

// List returns all accounts ordered by creation time.
func (s *AccountStore) List(_ context.Context) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	accounts := make([]domain.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

// SetWatchExpiry records when the push registration lapses.
func (s *AccountStore) SetWatchExpiry(_ context.Context, id string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[id]
	if !ok {
		return domain.ErrNotFound
	}
	account.WatchExpiry = expiry
	s.accounts[id] = account
	return nil
}

// GetCursor returns the stored cursor and whether one exists.
func (s *AccountStore) GetCursor(_ context.Context, accountID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return "", false, domain.ErrNotFound
	}
	return account.Cursor, account.Cursor != "", nil
}

// AdvanceCursor replaces the cursor.
func (s *AccountStore) AdvanceCursor(_ context.Context, accountID, cursor string, syncedAt time.Time) error {
	if cursor == "" {
		return fmt.Errorf("%w: empty cursor", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return domain.ErrNotFound
	}
	account.Cursor = cursor
	account.LastSyncAt = syncedAt
	s.accounts[accountID] = account
	s.advances[accountID]++
	return nil
}

// ClearCursor removes the cursor.
func (s *AccountStore) ClearCursor(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[accountID]
	if !ok {
		return domain.ErrNotFound
	}
	account.Cursor = ""
	s.accounts[accountID] = account
	return nil
}

// Advances returns how many times the cursor of an account was advanced.
func (s *AccountStore) Advances(accountID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.advances[accountID]
}

// Ensure LabelStore implements the interface.
var _ driven.LabelStore = (*LabelStore)(nil)

// LabelStore is an in-memory implementation of driven.LabelStore.
type LabelStore struct {
	mu     sync.RWMutex
	labels map[string][]domain.Label
}

// NewLabelStore creates a new in-memory label store.
func NewLabelStore() *LabelStore {
	return &LabelStore{labels: make(map[string][]domain.Label)}
}

// ReplaceLabels replaces the registry for an account.
func (s *LabelStore) ReplaceLabels(_ context.Context, accountID string, labels []domain.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[accountID] = append([]domain.Label(nil), labels...)
	return nil
}

// Labels returns the registry as an id to name map.
func (s *LabelStore) Labels(_ context.Context, accountID string) (domain.LabelRegistry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg := make(domain.LabelRegistry, len(s.labels[accountID]))
	for _, l := range s.labels[accountID] {
		reg[l.ID] = l.Name
	}
	return reg, nil
}

// Ensure SyncEventStore implements the interface.
var _ driven.SyncEventStore = (*SyncEventStore)(nil)

// SyncEventStore is an in-memory implementation of driven.SyncEventStore.
type SyncEventStore struct {
	mu     sync.RWMutex
	events map[string]domain.SyncEvent
}

// NewSyncEventStore creates a new in-memory sync event store.
func NewSyncEventStore() *SyncEventStore {
	return &SyncEventStore{events: make(map[string]domain.SyncEvent)}
}

// Record stores or updates an event.
func (s *SyncEventStore) Record(_ context.Context, event domain.SyncEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
	return nil
}

// Recent returns the latest events of an account, newest first.
func (s *SyncEventStore) Recent(_ context.Context, accountID string, limit int) ([]domain.SyncEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []domain.SyncEvent
	for _, e := range s.events {
		if e.AccountID == accountID {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].StartedAt.After(events[j].StartedAt)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// Ensure TaskHistoryStore implements the interface.
var _ driven.TaskHistoryStore = (*TaskHistoryStore)(nil)

// TaskHistoryStore is an in-memory implementation of driven.TaskHistoryStore.
type TaskHistoryStore struct {
	mu      sync.RWMutex
	results []domain.TaskResult
}

// NewTaskHistoryStore creates a new in-memory task history store.
func NewTaskHistoryStore() *TaskHistoryStore {
	return &TaskHistoryStore{}
}

// RecordResult appends a task run.
func (s *TaskHistoryStore) RecordResult(_ context.Context, result domain.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

// LastRun returns the most recently recorded run of a task.
func (s *TaskHistoryStore) LastRun(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	runs, _ := s.History(ctx, taskID, 1)
	if len(runs) == 0 {
		return nil, domain.ErrNotFound
	}
	return &runs[0], nil
}

// History returns recent runs of a task, newest first.
func (s *TaskHistoryStore) History(_ context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var runs []domain.TaskResult
	for i := len(s.results) - 1; i >= 0; i-- {
		if s.results[i].TaskID == taskID {
			runs = append(runs, s.results[i])
		}
		if limit > 0 && len(runs) == limit {
			break
		}
	}
	return runs, nil
}
