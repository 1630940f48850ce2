package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// Mailbox holds messages and chunks in memory. Messages and Transforms
// return the two store views over the same state.
type Mailbox struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message
	chunks   map[string][]domain.Chunk
	threads  map[string]domain.Thread
}

// NewMailbox creates an empty in-memory mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		messages: make(map[string]*domain.Message),
		chunks:   make(map[string][]domain.Chunk),
		threads:  make(map[string]domain.Thread),
	}
}

// Messages returns the driven.MessageStore view.
func (b *Mailbox) Messages() *MessageStore {
	return &MessageStore{box: b}
}

// Transforms returns the driven.TransformStore view.
func (b *Mailbox) Transforms() *TransformStore {
	return &TransformStore{box: b}
}

// Thread returns a thread summary, for tests.
func (b *Mailbox) Thread(accountID, threadID string) (domain.Thread, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.threads[accountID+"/"+threadID]
	return t, ok
}

func copyMessage(m *domain.Message) *domain.Message {
	c := *m
	c.To = append([]domain.Address(nil), m.To...)
	c.Cc = append([]domain.Address(nil), m.Cc...)
	c.Bcc = append([]domain.Address(nil), m.Bcc...)
	c.LabelIDs = append([]string(nil), m.LabelIDs...)
	c.Attachments = append([]domain.Attachment(nil), m.Attachments...)
	if m.Headers != nil {
		c.Headers = make(map[string]string, len(m.Headers))
		for k, v := range m.Headers {
			c.Headers[k] = v
		}
	}
	return &c
}

// Ensure MessageStore implements the interface.
var _ driven.MessageStore = (*MessageStore)(nil)

// MessageStore is the in-memory driven.MessageStore.
type MessageStore struct {
	box *Mailbox
}

// Exists reports whether a message is stored.
func (s *MessageStore) Exists(_ context.Context, accountID, messageID string) (bool, error) {
	s.box.mu.RLock()
	defer s.box.mu.RUnlock()
	m, ok := s.box.messages[messageID]
	return ok && m.AccountID == accountID, nil
}

// Insert stores a message once.
func (s *MessageStore) Insert(_ context.Context, msg *domain.Message) (bool, error) {
	if msg == nil || msg.ID == "" || msg.AccountID == "" {
		return false, domain.ErrInvalidInput
	}
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	if _, ok := s.box.messages[msg.ID]; ok {
		return false, nil
	}

	stored := copyMessage(msg)
	stored.Derived = domain.Derived{}
	if stored.SyncedAt.IsZero() {
		stored.SyncedAt = time.Now()
	}
	s.box.messages[msg.ID] = stored

	if msg.ThreadID != "" {
		key := msg.AccountID + "/" + msg.ThreadID
		t := s.box.threads[key]
		t.ID, t.AccountID = msg.ThreadID, msg.AccountID
		t.MessageCount++
		if t.Subject == "" {
			t.Subject = msg.Subject
		}
		if msg.SentAt.After(t.LastMessageAt) {
			t.LastMessageAt = msg.SentAt
		}
		s.box.threads[key] = t
	}
	return true, nil
}

// UpdateLabels replaces the label ids of a message.
func (s *MessageStore) UpdateLabels(_ context.Context, accountID, messageID string, labelIDs []string) error {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	m, ok := s.box.messages[messageID]
	if !ok || m.AccountID != accountID {
		return domain.ErrNotFound
	}
	m.LabelIDs = append([]string(nil), labelIDs...)
	return nil
}

// Tombstone marks a message deleted.
func (s *MessageStore) Tombstone(_ context.Context, accountID, messageID string, at time.Time) (bool, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	m, ok := s.box.messages[messageID]
	if !ok || m.AccountID != accountID || m.DeletedAt != nil {
		return false, nil
	}
	m.DeletedAt = &at
	return true, nil
}

// LiveIDs returns the sorted ids of an account's untombstoned messages.
func (s *MessageStore) LiveIDs(_ context.Context, accountID string) ([]string, error) {
	s.box.mu.RLock()
	defer s.box.mu.RUnlock()
	var ids []string
	for id, m := range s.box.messages {
		if m.AccountID == accountID && m.DeletedAt == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Get returns a copy of a message.
func (s *MessageStore) Get(_ context.Context, messageID string) (*domain.Message, error) {
	s.box.mu.RLock()
	defer s.box.mu.RUnlock()
	m, ok := s.box.messages[messageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyMessage(m), nil
}

// Chunks returns the chunks of a message in position order.
func (s *MessageStore) Chunks(_ context.Context, messageID string) ([]domain.Chunk, error) {
	s.box.mu.RLock()
	defer s.box.mu.RUnlock()
	return append([]domain.Chunk(nil), s.box.chunks[messageID]...), nil
}

// Count returns the number of stored messages, tombstones included.
func (s *MessageStore) Count(_ context.Context, accountID string) (int, error) {
	s.box.mu.RLock()
	defer s.box.mu.RUnlock()
	n := 0
	for _, m := range s.box.messages {
		if accountID == "" || m.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

// Ensure TransformStore implements the interface.
var _ driven.TransformStore = (*TransformStore)(nil)

// TransformStore is the in-memory driven.TransformStore.
type TransformStore struct {
	box *Mailbox
}

func (s *TransformStore) selectLocked(sel domain.Selection) []*domain.Message {
	var out []*domain.Message
	for _, m := range s.box.messages {
		if m.DeletedAt != nil {
			continue
		}
		if sel.AccountID != "" && m.AccountID != sel.AccountID {
			continue
		}
		if sel.MessageID != "" && m.ID != sel.MessageID {
			continue
		}
		if !sel.IncludeCompleted && m.Derived.CompletedAt != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SentAt.After(out[j].SentAt)
	})
	if sel.Limit > 0 && len(out) > sel.Limit {
		out = out[:sel.Limit]
	}
	return out
}

// Select returns the ids of eligible messages, newest first.
func (s *TransformStore) Select(_ context.Context, sel domain.Selection) ([]string, error) {
	s.box.mu.RLock()
	defer s.box.mu.RUnlock()
	msgs := s.selectLocked(sel)
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Count returns how many messages Select would return.
func (s *TransformStore) Count(_ context.Context, sel domain.Selection) (int, error) {
	s.box.mu.RLock()
	defer s.box.mu.RUnlock()
	return len(s.selectLocked(sel)), nil
}

// Claim takes ownership of a message under the same rules as the SQL store.
func (s *TransformStore) Claim(_ context.Context, req domain.ClaimRequest) (bool, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	m, ok := s.box.messages[req.MessageID]
	if !ok || m.DeletedAt != nil {
		return false, nil
	}
	d := &m.Derived
	if d.ClaimToken != "" && d.ClaimedAt != nil && !d.ClaimedAt.Before(req.StaleBefore) {
		return false, nil
	}
	if d.CompletedAt != nil {
		if req.CompletedBefore.IsZero() || !d.CompletedAt.Before(req.CompletedBefore) {
			return false, nil
		}
	}
	now := req.Now
	d.ClaimToken = req.Token
	d.ClaimedAt = &now
	return true, nil
}

func (s *TransformStore) heldLocked(claim domain.Claim) (*domain.Message, error) {
	m, ok := s.box.messages[claim.MessageID]
	if !ok || m.Derived.ClaimToken != claim.Token || claim.Token == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrClaimLost, claim.MessageID)
	}
	return m, nil
}

// Release drops a claim.
func (s *TransformStore) Release(_ context.Context, claim domain.Claim) error {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	if m, err := s.heldLocked(claim); err == nil {
		m.Derived.ClaimToken = ""
		m.Derived.ClaimedAt = nil
	}
	return nil
}

// Fail records a failed attempt and drops the claim.
func (s *TransformStore) Fail(_ context.Context, claim domain.Claim, reason string) error {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	m, err := s.heldLocked(claim)
	if err != nil {
		return err
	}
	m.Derived.AttemptCount++
	m.Derived.LastError = reason
	m.Derived.ClaimToken = ""
	m.Derived.ClaimedAt = nil
	return nil
}

// Complete writes the derived fields and replaces the chunk set.
func (s *TransformStore) Complete(_ context.Context, claim domain.Claim, result domain.TransformResult, at time.Time) error {
	if err := result.Validate(); err != nil {
		return err
	}
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	m, err := s.heldLocked(claim)
	if err != nil {
		return err
	}

	var redacted *string
	if result.BodyRedacted != nil {
		v := *result.BodyRedacted
		redacted = &v
	}
	completed := at
	m.Derived = domain.Derived{
		Tier:             result.Tier,
		BodyRedacted:     redacted,
		SnippetRedacted:  result.SnippetRedacted,
		Language:         result.Language,
		SubjectEmbedding: append([]float32(nil), result.SubjectEmbedding...),
		BodyEmbedding:    append([]float32(nil), result.BodyEmbedding...),
		Chunked:          result.Chunked,
		CompletedAt:      &completed,
		AttemptCount:     m.Derived.AttemptCount,
	}

	chunks := make([]domain.Chunk, len(result.Chunks))
	copy(chunks, result.Chunks)
	for i := range chunks {
		chunks[i].MessageID = claim.MessageID
		if chunks[i].ID == "" {
			chunks[i].ID = fmt.Sprintf("%s:%d", claim.MessageID, chunks[i].Position)
		}
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Position < chunks[j].Position })
	if len(chunks) == 0 {
		delete(s.box.chunks, claim.MessageID)
	} else {
		s.box.chunks[claim.MessageID] = chunks
	}
	return nil
}

// Reset clears derived fields and chunks for a scope.
func (s *TransformStore) Reset(_ context.Context, accountID string) (int, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	n := 0
	for id, m := range s.box.messages {
		if accountID != "" && m.AccountID != accountID {
			continue
		}
		d := m.Derived
		if d.CompletedAt == nil && d.AttemptCount == 0 && !d.Chunked {
			continue
		}
		m.Derived = domain.Derived{}
		delete(s.box.chunks, id)
		n++
	}
	return n, nil
}
