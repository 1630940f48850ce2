package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// ==================== Account Store ====================

type accountRow struct {
	ID           string         `db:"id"`
	EmailAddress string         `db:"email_address"`
	Cursor       sql.NullString `db:"delta_cursor"`
	LastSyncAt   sql.NullString `db:"last_sync_at"`
	WatchExpiry  sql.NullString `db:"watch_expiry"`
	CreatedAt    sql.NullString `db:"created_at"`
}

func (r accountRow) toDomain() domain.Account {
	return domain.Account{
		ID:           r.ID,
		EmailAddress: r.EmailAddress,
		Cursor:       r.Cursor.String,
		LastSyncAt:   parseTime(r.LastSyncAt),
		WatchExpiry:  parseTime(r.WatchExpiry),
		CreatedAt:    parseTime(r.CreatedAt),
	}
}

const accountColumns = `id, email_address, delta_cursor, last_sync_at, watch_expiry, created_at`

// accountStore implements driven.AccountStore.
type accountStore struct {
	store *Store
}

var _ driven.AccountStore = (*accountStore)(nil)

// Save creates an account or updates its address. The cursor and watch
// expiry are owned by CursorStore and SetWatchExpiry and are not touched.
func (s *accountStore) Save(ctx context.Context, account domain.Account) error {
	if account.ID == "" || account.EmailAddress == "" {
		return domain.ErrInvalidInput
	}
	created := account.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email_address, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email_address = excluded.email_address
	`, account.ID, strings.ToLower(account.EmailAddress), formatTime(created))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("%w: account %s", domain.ErrAlreadyExists, account.EmailAddress)
		}
		return fmt.Errorf("saving account: %w", err)
	}
	return nil
}

// Get retrieves an account by ID.
func (s *accountStore) Get(ctx context.Context, id string) (*domain.Account, error) {
	var row accountRow
	err := s.store.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	acct := row.toDomain()
	return &acct, nil
}

// GetByEmail retrieves an account by mailbox address, case-insensitively.
func (s *accountStore) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	var row accountRow
	err := s.store.db.GetContext(ctx, &row,
		`SELECT `+accountColumns+` FROM accounts WHERE email_address = ?`, strings.ToLower(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting account by email: %w", err)
	}
	acct := row.toDomain()
	return &acct, nil
}

// List returns all accounts ordered by address.
func (s *accountStore) List(ctx context.Context) ([]domain.Account, error) {
	var rows []accountRow
	if err := s.store.db.SelectContext(ctx, &rows,
		`SELECT `+accountColumns+` FROM accounts ORDER BY email_address`); err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	accounts := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toDomain())
	}
	return accounts, nil
}

// SetWatchExpiry records when the push registration for an account lapses.
func (s *accountStore) SetWatchExpiry(ctx context.Context, id string, expiry time.Time) error {
	res, err := s.store.db.ExecContext(ctx,
		`UPDATE accounts SET watch_expiry = ? WHERE id = ?`, nullTime(expiry), id)
	if err != nil {
		return fmt.Errorf("setting watch expiry: %w", err)
	}
	return requireRow(res, id)
}

// ==================== Cursor Store ====================

// cursorStore implements driven.CursorStore.
type cursorStore struct {
	store *Store
}

var _ driven.CursorStore = (*cursorStore)(nil)

// GetCursor returns the stored cursor. ok is false when the account has
// no cursor yet.
func (s *cursorStore) GetCursor(ctx context.Context, accountID string) (string, bool, error) {
	var cursor sql.NullString
	err := s.store.db.GetContext(ctx, &cursor, `SELECT delta_cursor FROM accounts WHERE id = ?`, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, domain.ErrNotFound
		}
		return "", false, fmt.Errorf("getting cursor: %w", err)
	}
	if !cursor.Valid || cursor.String == "" {
		return "", false, nil
	}
	return cursor.String, true, nil
}

// AdvanceCursor replaces the cursor in a single statement.
func (s *cursorStore) AdvanceCursor(ctx context.Context, accountID, cursor string, syncedAt time.Time) error {
	if cursor == "" {
		return fmt.Errorf("%w: empty cursor", domain.ErrInvalidInput)
	}
	res, err := s.store.db.ExecContext(ctx,
		`UPDATE accounts SET delta_cursor = ?, last_sync_at = ? WHERE id = ?`,
		cursor, nullTime(syncedAt), accountID)
	if err != nil {
		return fmt.Errorf("advancing cursor: %w", err)
	}
	return requireRow(res, accountID)
}

// ClearCursor removes the cursor so the next sync runs in full mode.
func (s *cursorStore) ClearCursor(ctx context.Context, accountID string) error {
	res, err := s.store.db.ExecContext(ctx, `UPDATE accounts SET delta_cursor = NULL WHERE id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("clearing cursor: %w", err)
	}
	return requireRow(res, accountID)
}

// ==================== Label Store ====================

// labelStore implements driven.LabelStore.
type labelStore struct {
	store *Store
}

var _ driven.LabelStore = (*labelStore)(nil)

// ReplaceLabels swaps the label registry of an account in one transaction.
func (s *labelStore) ReplaceLabels(ctx context.Context, accountID string, labels []domain.Label) error {
	tx, err := s.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM labels WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("clearing labels: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO labels (account_id, id, name, type) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, l := range labels {
		if _, err := stmt.ExecContext(ctx, accountID, l.ID, l.Name, l.Type); err != nil {
			return fmt.Errorf("saving label %s: %w", l.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Labels returns the id to name mapping for an account.
func (s *labelStore) Labels(ctx context.Context, accountID string) (domain.LabelRegistry, error) {
	var rows []struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}
	if err := s.store.db.SelectContext(ctx, &rows,
		`SELECT id, name FROM labels WHERE account_id = ?`, accountID); err != nil {
		return nil, fmt.Errorf("listing labels: %w", err)
	}

	reg := make(domain.LabelRegistry, len(rows))
	for _, r := range rows {
		reg[r.ID] = r.Name
	}
	return reg, nil
}

// ==================== Sync Event Store ====================

type syncEventRow struct {
	ID                string         `db:"id"`
	AccountID         string         `db:"account_id"`
	Mode              string         `db:"mode"`
	Status            string         `db:"status"`
	MessagesProcessed int            `db:"messages_processed"`
	Error             string         `db:"error"`
	StartedAt         sql.NullString `db:"started_at"`
	FinishedAt        sql.NullString `db:"finished_at"`
}

// syncEventStore implements driven.SyncEventStore.
type syncEventStore struct {
	store *Store
}

var _ driven.SyncEventStore = (*syncEventStore)(nil)

// Record inserts an event or updates it when the id already exists.
func (s *syncEventStore) Record(ctx context.Context, event domain.SyncEvent) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO sync_events (id, account_id, mode, status, messages_processed, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			mode = excluded.mode,
			status = excluded.status,
			messages_processed = excluded.messages_processed,
			error = excluded.error,
			finished_at = excluded.finished_at
	`, event.ID, event.AccountID, string(event.Mode), string(event.Status), event.MessagesProcessed,
		event.Error, formatTime(event.StartedAt), nullTimePtr(event.FinishedAt))
	if err != nil {
		return fmt.Errorf("recording sync event: %w", err)
	}
	return nil
}

// Recent returns the latest events of an account, newest first.
func (s *syncEventStore) Recent(ctx context.Context, accountID string, limit int) ([]domain.SyncEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []syncEventRow
	if err := s.store.db.SelectContext(ctx, &rows, `
		SELECT id, account_id, mode, status, messages_processed, error, started_at, finished_at
		FROM sync_events WHERE account_id = ?
		ORDER BY started_at DESC LIMIT ?
	`, accountID, limit); err != nil {
		return nil, fmt.Errorf("listing sync events: %w", err)
	}

	events := make([]domain.SyncEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, domain.SyncEvent{
			ID:                r.ID,
			AccountID:         r.AccountID,
			Mode:              domain.SyncMode(r.Mode),
			Status:            domain.SyncEventStatus(r.Status),
			MessagesProcessed: r.MessagesProcessed,
			Error:             r.Error,
			StartedAt:         parseTime(r.StartedAt),
			FinishedAt:        parseTimePtr(r.FinishedAt),
		})
	}
	return events, nil
}

// ==================== Task History Store ====================

type taskRunRow struct {
	TaskID         string         `db:"task_id"`
	StartedAt      sql.NullString `db:"started_at"`
	EndedAt        sql.NullString `db:"ended_at"`
	Success        bool           `db:"success"`
	Error          string         `db:"error"`
	ItemsProcessed int            `db:"items_processed"`
}

func (r taskRunRow) toDomain() domain.TaskResult {
	return domain.TaskResult{
		TaskID:         r.TaskID,
		StartedAt:      parseTime(r.StartedAt),
		EndedAt:        parseTime(r.EndedAt),
		Success:        r.Success,
		Error:          r.Error,
		ItemsProcessed: r.ItemsProcessed,
	}
}

// taskHistoryStore implements driven.TaskHistoryStore.
type taskHistoryStore struct {
	store *Store
}

var _ driven.TaskHistoryStore = (*taskHistoryStore)(nil)

// RecordResult appends a task run.
func (s *taskHistoryStore) RecordResult(ctx context.Context, result domain.TaskResult) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO task_runs (task_id, started_at, ended_at, success, error, items_processed)
		VALUES (?, ?, ?, ?, ?, ?)
	`, result.TaskID, formatTime(result.StartedAt), formatTime(result.EndedAt),
		boolToInt(result.Success), result.Error, result.ItemsProcessed)
	if err != nil {
		return fmt.Errorf("recording task result: %w", err)
	}
	return nil
}

// LastRun returns the most recent run of a task.
func (s *taskHistoryStore) LastRun(ctx context.Context, taskID string) (*domain.TaskResult, error) {
	var row taskRunRow
	err := s.store.db.GetContext(ctx, &row, `
		SELECT task_id, started_at, ended_at, success, error, items_processed
		FROM task_runs WHERE task_id = ?
		ORDER BY started_at DESC, id DESC LIMIT 1
	`, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting last task run: %w", err)
	}
	result := row.toDomain()
	return &result, nil
}

// History returns recent runs of a task, newest first.
func (s *taskHistoryStore) History(ctx context.Context, taskID string, limit int) ([]domain.TaskResult, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []taskRunRow
	if err := s.store.db.SelectContext(ctx, &rows, `
		SELECT task_id, started_at, ended_at, success, error, items_processed
		FROM task_runs WHERE task_id = ?
		ORDER BY started_at DESC, id DESC LIMIT ?
	`, taskID, limit); err != nil {
		return nil, fmt.Errorf("listing task runs: %w", err)
	}

	results := make([]domain.TaskResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, r.toDomain())
	}
	return results, nil
}

// requireRow maps an UPDATE that matched nothing to ErrNotFound.
func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return nil
}
