package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// ==================== Message Store ====================

type messageRow struct {
	ID             string         `db:"id"`
	AccountID      string         `db:"account_id"`
	ThreadID       string         `db:"thread_id"`
	Subject        string         `db:"subject"`
	FromName       string         `db:"from_name"`
	FromEmail      string         `db:"from_email"`
	To             string         `db:"to_addrs"`
	Cc             string         `db:"cc_addrs"`
	Bcc            string         `db:"bcc_addrs"`
	Headers        string         `db:"headers"`
	Snippet        string         `db:"snippet"`
	BodyText       string         `db:"body_text"`
	HasAttachments bool           `db:"has_attachments"`
	Attachments    string         `db:"attachments"`
	LabelIDs       string         `db:"label_ids"`
	SentAt         sql.NullString `db:"sent_at"`
	SyncedAt       sql.NullString `db:"synced_at"`
	DeletedAt      sql.NullString `db:"deleted_at"`

	Tier             sql.NullString `db:"privacy_tier"`
	BodyRedacted     sql.NullString `db:"body_redacted"`
	SnippetRedacted  string         `db:"snippet_redacted"`
	Language         string         `db:"language"`
	SubjectEmbedding []byte         `db:"subject_embedding"`
	BodyEmbedding    []byte         `db:"body_embedding"`
	Chunked          bool           `db:"chunked"`
	CompletedAt      sql.NullString `db:"transform_completed_at"`
	AttemptCount     int            `db:"transform_attempt_count"`
	LastError        string         `db:"transform_last_error"`
	ClaimToken       sql.NullString `db:"claim_token"`
	ClaimedAt        sql.NullString `db:"claimed_at"`
}

const messageColumns = `id, account_id, thread_id, subject, from_name, from_email,
	to_addrs, cc_addrs, bcc_addrs, headers, snippet, body_text, has_attachments,
	attachments, label_ids, sent_at, synced_at, deleted_at,
	privacy_tier, body_redacted, snippet_redacted, language, subject_embedding,
	body_embedding, chunked, transform_completed_at, transform_attempt_count,
	transform_last_error, claim_token, claimed_at`

func (r *messageRow) toDomain() (*domain.Message, error) {
	m := &domain.Message{
		ID:             r.ID,
		AccountID:      r.AccountID,
		ThreadID:       r.ThreadID,
		Subject:        r.Subject,
		From:           domain.Address{Name: r.FromName, Email: r.FromEmail},
		Snippet:        r.Snippet,
		BodyText:       r.BodyText,
		HasAttachments: r.HasAttachments,
		SentAt:         parseTime(r.SentAt),
		SyncedAt:       parseTime(r.SyncedAt),
		DeletedAt:      parseTimePtr(r.DeletedAt),
	}

	for _, f := range []struct {
		src string
		dst any
	}{
		{r.To, &m.To},
		{r.Cc, &m.Cc},
		{r.Bcc, &m.Bcc},
		{r.Headers, &m.Headers},
		{r.Attachments, &m.Attachments},
		{r.LabelIDs, &m.LabelIDs},
	} {
		if err := fromJSON(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("decoding message %s: %w", r.ID, err)
		}
	}

	d := &m.Derived
	if r.Tier.Valid {
		d.Tier, _ = domain.ParseTier(r.Tier.String)
	}
	if r.BodyRedacted.Valid {
		redacted := r.BodyRedacted.String
		d.BodyRedacted = &redacted
	}
	d.SnippetRedacted = r.SnippetRedacted
	d.Language = r.Language
	d.SubjectEmbedding = bytesToFloat32Slice(r.SubjectEmbedding)
	d.BodyEmbedding = bytesToFloat32Slice(r.BodyEmbedding)
	d.Chunked = r.Chunked
	d.CompletedAt = parseTimePtr(r.CompletedAt)
	d.AttemptCount = r.AttemptCount
	d.LastError = r.LastError
	d.ClaimToken = r.ClaimToken.String
	d.ClaimedAt = parseTimePtr(r.ClaimedAt)
	return m, nil
}

// messageStore implements driven.MessageStore.
type messageStore struct {
	store *Store
}

var _ driven.MessageStore = (*messageStore)(nil)

// Exists reports whether a message row exists, tombstoned or not.
func (s *messageStore) Exists(ctx context.Context, accountID, messageID string) (bool, error) {
	var n int
	err := s.store.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM messages WHERE account_id = ? AND id = ?`, accountID, messageID)
	if err != nil {
		return false, fmt.Errorf("checking message: %w", err)
	}
	return n > 0, nil
}

// Insert writes a message once. A second insert of the same id is a no-op
// and reports false. The thread row is updated in the same transaction.
func (s *messageStore) Insert(ctx context.Context, msg *domain.Message) (bool, error) {
	if msg == nil || msg.ID == "" || msg.AccountID == "" {
		return false, domain.ErrInvalidInput
	}

	encoded := make([]string, 0, 6)
	for _, v := range []any{
		nonNilAddrs(msg.To), nonNilAddrs(msg.Cc), nonNilAddrs(msg.Bcc),
		nonNilHeaders(msg.Headers), nonNilAttachments(msg.Attachments), nonNilStrings(msg.LabelIDs),
	} {
		enc, err := toJSON(v)
		if err != nil {
			return false, fmt.Errorf("encoding message %s: %w", msg.ID, err)
		}
		encoded = append(encoded, enc)
	}

	synced := msg.SyncedAt
	if synced.IsZero() {
		synced = time.Now()
	}

	tx, err := s.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, account_id, thread_id, subject, from_name, from_email,
			to_addrs, cc_addrs, bcc_addrs, headers, snippet, body_text, has_attachments,
			attachments, label_ids, sent_at, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, msg.ID, msg.AccountID, msg.ThreadID, msg.Subject, msg.From.Name, msg.From.Email,
		encoded[0], encoded[1], encoded[2], encoded[3], msg.Snippet, msg.BodyText,
		boolToInt(msg.HasAttachments), encoded[4], encoded[5], nullTime(msg.SentAt), formatTime(synced))
	if err != nil {
		return false, fmt.Errorf("inserting message %s: %w", msg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if msg.ThreadID != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO threads (account_id, id, subject, message_count, last_message_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT(account_id, id) DO UPDATE SET
				message_count = threads.message_count + 1,
				subject = CASE WHEN threads.subject = '' THEN excluded.subject ELSE threads.subject END,
				last_message_at = MAX(COALESCE(threads.last_message_at, ''), COALESCE(excluded.last_message_at, ''))
		`, msg.AccountID, msg.ThreadID, msg.Subject, nullTime(msg.SentAt)); err != nil {
			return false, fmt.Errorf("updating thread %s: %w", msg.ThreadID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}
	return true, nil
}

// UpdateLabels replaces the label ids of a stored message.
func (s *messageStore) UpdateLabels(ctx context.Context, accountID, messageID string, labelIDs []string) error {
	encoded, err := toJSON(nonNilStrings(labelIDs))
	if err != nil {
		return fmt.Errorf("encoding labels: %w", err)
	}
	res, err := s.store.db.ExecContext(ctx,
		`UPDATE messages SET label_ids = ? WHERE account_id = ? AND id = ?`, encoded, accountID, messageID)
	if err != nil {
		return fmt.Errorf("updating labels: %w", err)
	}
	return requireRow(res, messageID)
}

// Tombstone marks a message deleted. It reports false when the message is
// unknown or already tombstoned.
func (s *messageStore) Tombstone(ctx context.Context, accountID, messageID string, at time.Time) (bool, error) {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE messages SET deleted_at = ?
		WHERE account_id = ? AND id = ? AND deleted_at IS NULL
	`, formatTime(at), accountID, messageID)
	if err != nil {
		return false, fmt.Errorf("tombstoning message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking affected rows: %w", err)
	}
	return n > 0, nil
}

// LiveIDs returns the ids of an account's messages without a tombstone.
func (s *messageStore) LiveIDs(ctx context.Context, accountID string) ([]string, error) {
	var ids []string
	if err := s.store.db.SelectContext(ctx, &ids,
		`SELECT id FROM messages WHERE account_id = ? AND deleted_at IS NULL ORDER BY id`, accountID); err != nil {
		return nil, fmt.Errorf("listing message ids: %w", err)
	}
	return ids, nil
}

// Get retrieves a message with its derived fields.
func (s *messageStore) Get(ctx context.Context, messageID string) (*domain.Message, error) {
	var row messageRow
	err := s.store.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("getting message: %w", err)
	}
	return row.toDomain()
}

// Chunks returns a message's chunks in order.
func (s *messageStore) Chunks(ctx context.Context, messageID string) ([]domain.Chunk, error) {
	var rows []struct {
		ID        string  `db:"id"`
		MessageID string  `db:"message_id"`
		Position  int     `db:"position"`
		Text      string  `db:"text"`
		Weight    float64 `db:"weight"`
		Embedding []byte  `db:"embedding"`
	}
	if err := s.store.db.SelectContext(ctx, &rows, `
		SELECT id, message_id, position, text, weight, embedding
		FROM chunks WHERE message_id = ? ORDER BY position
	`, messageID); err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}

	chunks := make([]domain.Chunk, 0, len(rows))
	for _, r := range rows {
		chunks = append(chunks, domain.Chunk{
			ID:        r.ID,
			MessageID: r.MessageID,
			Position:  r.Position,
			Text:      r.Text,
			Weight:    r.Weight,
			Embedding: bytesToFloat32Slice(r.Embedding),
		})
	}
	return chunks, nil
}

// Count returns the number of stored messages for an account, or for all
// accounts when accountID is empty. Tombstones are counted.
func (s *messageStore) Count(ctx context.Context, accountID string) (int, error) {
	query := `SELECT COUNT(*) FROM messages`
	var args []any
	if accountID != "" {
		query += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	var n int
	if err := s.store.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// ==================== Transform Store ====================

// transformStore implements driven.TransformStore.
type transformStore struct {
	store *Store
}

var _ driven.TransformStore = (*transformStore)(nil)

// selectionWhere builds the filter shared by Select and Count.
// Tombstoned messages are never selected.
func selectionWhere(sel domain.Selection) (string, []any) {
	clauses := []string{"deleted_at IS NULL"}
	var args []any
	if sel.AccountID != "" {
		clauses = append(clauses, "account_id = ?")
		args = append(args, sel.AccountID)
	}
	if sel.MessageID != "" {
		clauses = append(clauses, "id = ?")
		args = append(args, sel.MessageID)
	}
	if !sel.IncludeCompleted {
		clauses = append(clauses, "transform_completed_at IS NULL")
	}
	return strings.Join(clauses, " AND "), args
}

// Select returns the ids of eligible messages, newest first.
func (s *transformStore) Select(ctx context.Context, sel domain.Selection) ([]string, error) {
	where, args := selectionWhere(sel)
	query := `SELECT id FROM messages WHERE ` + where + ` ORDER BY sent_at DESC, id`
	if sel.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(sel.Limit)
	}

	var ids []string
	if err := s.store.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("selecting messages: %w", err)
	}
	return ids, nil
}

// Count returns how many messages Select would return.
func (s *transformStore) Count(ctx context.Context, sel domain.Selection) (int, error) {
	where, args := selectionWhere(sel)
	var n int
	if err := s.store.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM messages WHERE `+where, args...); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	if sel.Limit > 0 && n > sel.Limit {
		n = sel.Limit
	}
	return n, nil
}

// Claim takes the in-flight marker of a message in one conditional UPDATE.
// It succeeds when the message is unclaimed or its claim is stale, and it
// is not completed (or completed before req.CompletedBefore).
func (s *transformStore) Claim(ctx context.Context, req domain.ClaimRequest) (bool, error) {
	query := `
		UPDATE messages SET claim_token = ?, claimed_at = ?
		WHERE id = ? AND deleted_at IS NULL
		  AND (claim_token IS NULL OR claimed_at < ?)`
	args := []any{req.Token, formatTime(req.Now), req.MessageID, formatTime(req.StaleBefore)}
	if req.CompletedBefore.IsZero() {
		query += ` AND transform_completed_at IS NULL`
	} else {
		query += ` AND (transform_completed_at IS NULL OR transform_completed_at < ?)`
		args = append(args, formatTime(req.CompletedBefore))
	}

	res, err := s.store.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claiming message %s: %w", req.MessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking affected rows: %w", err)
	}
	return n > 0, nil
}

// Release drops a claim without recording anything.
func (s *transformStore) Release(ctx context.Context, claim domain.Claim) error {
	_, err := s.store.db.ExecContext(ctx, `
		UPDATE messages SET claim_token = NULL, claimed_at = NULL
		WHERE id = ? AND claim_token = ?
	`, claim.MessageID, claim.Token)
	if err != nil {
		return fmt.Errorf("releasing claim: %w", err)
	}
	return nil
}

// Fail records a failed attempt and releases the claim. The message stays
// eligible for the next run.
func (s *transformStore) Fail(ctx context.Context, claim domain.Claim, reason string) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE messages SET
			transform_attempt_count = transform_attempt_count + 1,
			transform_last_error = ?,
			claim_token = NULL,
			claimed_at = NULL
		WHERE id = ? AND claim_token = ?
	`, reason, claim.MessageID, claim.Token)
	if err != nil {
		return fmt.Errorf("recording failure: %w", err)
	}
	return claimHeld(res, claim)
}

// Complete writes the derived fields, replaces the chunk set and clears the
// claim in one transaction. It returns ErrClaimLost if the claim was taken
// over, in which case nothing is written.
func (s *transformStore) Complete(ctx context.Context, claim domain.Claim, result domain.TransformResult, at time.Time) error {
	if err := result.Validate(); err != nil {
		return err
	}

	tx, err := s.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var redacted sql.NullString
	if result.BodyRedacted != nil {
		redacted = sql.NullString{String: *result.BodyRedacted, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET
			privacy_tier = ?,
			body_redacted = ?,
			snippet_redacted = ?,
			language = ?,
			subject_embedding = ?,
			body_embedding = ?,
			chunked = ?,
			transform_completed_at = ?,
			transform_last_error = '',
			claim_token = NULL,
			claimed_at = NULL
		WHERE id = ? AND claim_token = ?
	`, result.Tier.String(), redacted, result.SnippetRedacted, result.Language,
		float32SliceToBytes(result.SubjectEmbedding), float32SliceToBytes(result.BodyEmbedding),
		boolToInt(result.Chunked), formatTime(at), claim.MessageID, claim.Token)
	if err != nil {
		return fmt.Errorf("writing derived fields: %w", err)
	}
	if err := claimHeld(res, claim); err != nil {
		return err
	}

	if err := replaceChunks(ctx, tx, claim.MessageID, result.Chunks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func replaceChunks(ctx context.Context, tx *sqlx.Tx, messageID string, chunks []domain.Chunk) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO chunks (id, message_id, position, text, weight, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		id := c.ID
		if id == "" {
			id = fmt.Sprintf("%s:%d", messageID, c.Position)
		}
		if _, err := stmt.ExecContext(ctx, id, messageID, c.Position, c.Text, c.Weight,
			float32SliceToBytes(c.Embedding)); err != nil {
			return fmt.Errorf("saving chunk: %w", err)
		}
	}
	return nil
}

// Reset clears derived fields and chunks for a scope so every message is
// pending again. Raw fields are untouched.
func (s *transformStore) Reset(ctx context.Context, accountID string) (int, error) {
	scope := `(transform_completed_at IS NOT NULL OR transform_attempt_count > 0 OR chunked = 1)`
	var args []any
	if accountID != "" {
		scope += ` AND account_id = ?`
		args = append(args, accountID)
	}

	tx, err := s.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE message_id IN (SELECT id FROM messages WHERE `+scope+`)`, args...); err != nil {
		return 0, fmt.Errorf("deleting chunks: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE messages SET
			privacy_tier = NULL,
			body_redacted = NULL,
			snippet_redacted = '',
			language = '',
			subject_embedding = NULL,
			body_embedding = NULL,
			chunked = 0,
			transform_completed_at = NULL,
			transform_attempt_count = 0,
			transform_last_error = '',
			claim_token = NULL,
			claimed_at = NULL
		WHERE `+scope, args...)
	if err != nil {
		return 0, fmt.Errorf("resetting derived fields: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return int(n), nil
}

func claimHeld(res sql.Result, claim domain.Claim) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrClaimLost, claim.MessageID)
	}
	return nil
}

func nonNilAddrs(a []domain.Address) []domain.Address {
	if a == nil {
		return []domain.Address{}
	}
	return a
}

func nonNilHeaders(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}

func nonNilAttachments(a []domain.Attachment) []domain.Attachment {
	if a == nil {
		return []domain.Attachment{}
	}
	return a
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
