package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/inboxd/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
)

// --- Mock implementations for transform testing ---

// transformMockLLM answers PERSONAL for prompts mentioning dinner.
type transformMockLLM struct {
	mu      stdsync.Mutex
	calls   int
	answer  string
	pingErr error
	onChat  func()
}

func (m *transformMockLLM) Chat(_ context.Context, msgs []driven.ChatMessage, _ driven.ChatOptions) (string, error) {
	m.mu.Lock()
	m.calls++
	answer, onChat := m.answer, m.onChat
	m.mu.Unlock()
	if onChat != nil {
		onChat()
	}
	if answer != "" {
		return answer, nil
	}
	if strings.Contains(msgs[len(msgs)-1].Content, "Dinner") {
		return "PERSONAL", nil
	}
	return "PUBLIC", nil
}

func (m *transformMockLLM) ModelName() string            { return "mock-classifier" }
func (m *transformMockLLM) Ping(_ context.Context) error { return m.pingErr }
func (m *transformMockLLM) Close() error                 { return nil }

func (m *transformMockLLM) setAnswer(answer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answer = answer
}

func (m *transformMockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// transformMockRecognizer tags every "Alice" as a person.
type transformMockRecognizer struct{}

func (transformMockRecognizer) FindEntities(_ context.Context, text, _ string) ([]driven.EntitySpan, error) {
	var spans []driven.EntitySpan
	offset := 0
	for {
		i := strings.Index(text[offset:], "Alice")
		if i < 0 {
			return spans, nil
		}
		start := offset + i
		spans = append(spans, driven.EntitySpan{Start: start, End: start + len("Alice"), Label: "PERSON"})
		offset = start + len("Alice")
	}
}

// transformMockVectors records mirrored vectors per message.
type transformMockVectors struct {
	mu      stdsync.Mutex
	records map[string][]driven.VectorRecord
	deletes int
}

func (v *transformMockVectors) Upsert(_ context.Context, records []driven.VectorRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, r := range records {
		v.records[r.MessageID] = append(v.records[r.MessageID], r)
	}
	return nil
}

func (v *transformMockVectors) DeleteMessage(_ context.Context, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.records, id)
	v.deletes++
	return nil
}

func (v *transformMockVectors) Close() error { return nil }

// countingTransformStore counts successful completions per message.
type countingTransformStore struct {
	driven.TransformStore
	mu        stdsync.Mutex
	completes map[string]int
}

func (s *countingTransformStore) Complete(ctx context.Context, claim domain.Claim, result domain.TransformResult, at time.Time) error {
	if err := s.TransformStore.Complete(ctx, claim, result, at); err != nil {
		return err
	}
	s.mu.Lock()
	s.completes[claim.MessageID]++
	s.mu.Unlock()
	return nil
}

// steppingClock advances one second per reading.
func steppingClock(start time.Time) func() time.Time {
	var mu stdsync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

type transformFixture struct {
	box      *memory.Mailbox
	store    *countingTransformStore
	llm      *transformMockLLM
	embed    *embedderMockService
	vectors  *transformMockVectors
	settings domain.Settings
	clock    func() time.Time
}

func transformSettings() domain.Settings {
	s := domain.DefaultSettings()
	s.Embedding.BaseURL = "http://embed.local"
	s.Embedding.Dimensions = 4
	s.Classifier.BaseURL = "http://llm.local"
	s.Classifier.Model = "classifier"
	s.NLP.LanguageURL = "http://lang.local"
	s.NLP.EntityURL = "http://ner.local"
	return s
}

func newTransformFixture(t *testing.T) *transformFixture {
	t.Helper()
	box := memory.NewMailbox()
	return &transformFixture{
		box:      box,
		store:    &countingTransformStore{TransformStore: box.Transforms(), completes: make(map[string]int)},
		llm:      &transformMockLLM{},
		embed:    newEmbedderMockService(4),
		vectors:  &transformMockVectors{records: make(map[string][]driven.VectorRecord)},
		settings: transformSettings(),
		clock:    steppingClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
}

func (f *transformFixture) orchestrator() *Orchestrator {
	detector := &sanitizerMockDetector{lang: driven.Language{Code: "en", Confidence: 0.9}}
	stages := TransformStages{
		Classifier: NewClassifier(f.llm, nil, classifierMockPrompts{}, f.settings.Classifier),
		Sanitizer:  NewSanitizer(detector, transformMockRecognizer{}, f.settings.NLP),
		Embedder:   NewEmbedder(f.embed, nil, embedderMockSplitter{}, f.settings.Embedding),
	}
	o := NewOrchestrator(TransformStores{
		Messages:   f.box.Messages(),
		Transforms: f.store,
		Labels:     memory.NewLabelStore(),
	}, stages, f.embed, f.llm, f.vectors, f.settings)
	o.now = f.clock
	return o
}

func (f *transformFixture) insert(t *testing.T, msgs ...*domain.Message) {
	t.Helper()
	for _, m := range msgs {
		_, err := f.box.Messages().Insert(context.Background(), m)
		require.NoError(t, err)
	}
}

func (f *transformFixture) get(t *testing.T, id string) *domain.Message {
	t.Helper()
	m, err := f.box.Messages().Get(context.Background(), id)
	require.NoError(t, err)
	return m
}

var transformBase = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func publicMail(id string, n int) *domain.Message {
	return &domain.Message{
		ID:        id,
		AccountID: "acc",
		ThreadID:  "t-" + id,
		Subject:   "Weekly update",
		From:      domain.Address{Email: "news@shop.example"},
		To:        []domain.Address{{Email: "me@example.com"}},
		Snippet:   "This week in deals",
		BodyText:  "This week in deals " + id,
		SentAt:    transformBase.Add(time.Duration(n) * time.Minute),
	}
}

func dinnerMail(id string, n int) *domain.Message {
	return &domain.Message{
		ID:        id,
		AccountID: "acc",
		ThreadID:  "t-" + id,
		Subject:   "Dinner on Friday",
		From:      domain.Address{Name: "Alice", Email: "alice@example.com"},
		To:        []domain.Address{{Email: "me@example.com"}},
		Snippet:   "Alice will bring wine",
		BodyText:  "Alice will bring wine",
		SentAt:    transformBase.Add(time.Duration(n) * time.Minute),
	}
}

// --- Tests ---

func TestOrchestrator_RunCompletesAllMessages(t *testing.T) {
	f := newTransformFixture(t)
	f.insert(t, publicMail("p1", 1), publicMail("p2", 2), publicMail("p3", 3), dinnerMail("d1", 4), dinnerMail("d2", 5))

	var progress []domain.TransformProgress
	report, err := f.orchestrator().Run(context.Background(), domain.TransformOptions{
		BatchSize:  2,
		OnProgress: func(p domain.TransformProgress) { progress = append(progress, p) },
	})
	require.NoError(t, err)

	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 5, report.Processed)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 3, report.Batches)
	assert.Equal(t, 3, report.ByTier[domain.TierPublic])
	assert.Equal(t, 2, report.ByTier[domain.TierPersonal])
	assert.Equal(t, 5, report.BodyFull)
	require.Len(t, progress, 3)
	assert.Equal(t, 2, progress[0].Processed)
	assert.Equal(t, 5, progress[2].Processed)

	personal := f.get(t, "d1")
	require.NotNil(t, personal.Derived.CompletedAt)
	assert.Equal(t, domain.TierPersonal, personal.Derived.Tier)
	require.NotNil(t, personal.Derived.BodyRedacted)
	assert.Equal(t, "[PERSON] will bring wine", *personal.Derived.BodyRedacted)
	assert.Equal(t, domain.RedactedSnippet, personal.Derived.SnippetRedacted)
	assert.Equal(t, "en", personal.Derived.Language)
	assert.Len(t, personal.Derived.SubjectEmbedding, 4)
	assert.Len(t, personal.Derived.BodyEmbedding, 4)
	assert.Empty(t, personal.Derived.ClaimToken)

	public := f.get(t, "p1")
	assert.Equal(t, domain.TierPublic, public.Derived.Tier)
	assert.Nil(t, public.Derived.BodyRedacted)
	assert.Equal(t, "This week in deals", public.Derived.SnippetRedacted)
}

func TestOrchestrator_SecondRunIsNoop(t *testing.T) {
	f := newTransformFixture(t)
	f.insert(t, publicMail("p1", 1), dinnerMail("d1", 2))
	o := f.orchestrator()

	_, err := o.Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)
	calls := f.llm.callCount()

	report, err := o.Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Total)
	assert.Equal(t, calls, f.llm.callCount())
	assert.Equal(t, 1, f.store.completes["p1"])
}

func TestOrchestrator_FailedMessageStaysEligible(t *testing.T) {
	f := newTransformFixture(t)
	bad := publicMail("bad", 1)
	bad.BodyText = "broken body"
	f.embed.zeroFor = "broken body"
	f.insert(t, bad, publicMail("p1", 2))
	o := f.orchestrator()

	report, err := o.Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Failures["bad"], "invalid embedding")

	failed := f.get(t, "bad")
	assert.Nil(t, failed.Derived.CompletedAt)
	assert.Equal(t, 1, failed.Derived.AttemptCount)
	assert.NotEmpty(t, failed.Derived.LastError)
	assert.Empty(t, failed.Derived.ClaimToken)

	f.embed.zeroFor = ""
	report, err = o.Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, report.Processed)
	assert.NotNil(t, f.get(t, "bad").Derived.CompletedAt)
}

func TestOrchestrator_ForceRequiresConfirmation(t *testing.T) {
	f := newTransformFixture(t)
	f.insert(t, publicMail("p1", 1))

	_, err := f.orchestrator().Run(context.Background(), domain.TransformOptions{Force: true})
	assert.ErrorIs(t, err, domain.ErrConfirmationRequired)
	assert.Equal(t, 0, f.llm.callCount())
	assert.Nil(t, f.get(t, "p1").Derived.CompletedAt)
}

func TestOrchestrator_ForcedRunOverwritesDerivedFields(t *testing.T) {
	f := newTransformFixture(t)
	f.insert(t, publicMail("p1", 1), dinnerMail("d1", 2))
	o := f.orchestrator()

	_, err := o.Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)
	require.NotNil(t, f.get(t, "d1").Derived.BodyRedacted)

	f.llm.setAnswer("SENSITIVE")
	report, err := o.Run(context.Background(), domain.TransformOptions{Force: true, Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Processed)

	for _, id := range []string{"p1", "d1"} {
		m := f.get(t, id)
		assert.Equal(t, domain.TierSensitive, m.Derived.Tier, id)
		assert.Nil(t, m.Derived.BodyRedacted, "only PERSONAL keeps a redacted body")
		assert.Equal(t, domain.RedactedSnippet, m.Derived.SnippetRedacted)
		assert.Equal(t, 2, f.store.completes[id])
	}
}

func TestOrchestrator_SingleMessageIgnoresCompletion(t *testing.T) {
	f := newTransformFixture(t)
	f.insert(t, publicMail("p1", 1), publicMail("p2", 2))
	o := f.orchestrator()

	_, err := o.Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)

	report, err := o.Run(context.Background(), domain.TransformOptions{MessageID: "p2"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 2, f.store.completes["p2"])
	assert.Equal(t, 1, f.store.completes["p1"])
}

func TestOrchestrator_ConcurrentRunsClaimEachMessageOnce(t *testing.T) {
	f := newTransformFixture(t)
	for i := range 20 {
		f.insert(t, publicMail(fmt.Sprintf("m%02d", i), i))
	}

	var wg stdsync.WaitGroup
	reports := make([]*domain.TransformReport, 2)
	errs := make([]error, 2)
	for i := range 2 {
		o := f.orchestrator()
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = o.Run(context.Background(), domain.TransformOptions{BatchSize: 3})
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 20, reports[0].Processed+reports[1].Processed)
	require.Len(t, f.store.completes, 20)
	for id, n := range f.store.completes {
		assert.Equal(t, 1, n, id)
	}
}

func TestOrchestrator_SecretPrefilterSkipsModel(t *testing.T) {
	f := newTransformFixture(t)
	msg := publicMail("s1", 1)
	msg.Subject = "Your new login"
	msg.BodyText = "Use password=hunter22 to sign in"
	f.insert(t, msg)

	report, err := f.orchestrator().Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ByTier[domain.TierSensitive])
	assert.Equal(t, 0, f.llm.callCount())

	stored := f.get(t, "s1")
	assert.Equal(t, domain.TierSensitive, stored.Derived.Tier)
	assert.Nil(t, stored.Derived.BodyRedacted)

	for _, r := range f.vectors.records["s1"] {
		assert.NotContains(t, r.Text, "hunter22")
		if r.Kind == VectorKindSubject {
			assert.Empty(t, r.Text)
		}
		if r.Kind == VectorKindBody {
			assert.Equal(t, domain.SensitiveBodyMarker, r.Text)
		}
	}
}

func TestOrchestrator_SecretInQuotedReplyIsSensitive(t *testing.T) {
	f := newTransformFixture(t)
	f.llm.setAnswer("PUBLIC")
	msg := publicMail("q1", 1)
	msg.BodyText = "Sounds good.\n\nOn Mon, 2 Feb 2026 at 09:00, Admin <admin@example.com> wrote:\n> The admin password: hunter22secret"
	f.insert(t, msg)

	_, err := f.orchestrator().Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, f.llm.callCount())

	stored := f.get(t, "q1")
	assert.Equal(t, domain.TierSensitive, stored.Derived.Tier)
	assert.Equal(t, domain.SensitiveBodyMarker, displayBody(stored, stored.Derived.Tier, stored.Derived.BodyRedacted))
	for _, r := range f.vectors.records["q1"] {
		assert.NotContains(t, r.Text, "hunter22secret")
	}
}

func TestOrchestrator_RejectsNonPositiveClaimTimeout(t *testing.T) {
	f := newTransformFixture(t)
	f.settings.Transform.ClaimTimeout = 0
	f.insert(t, publicMail("c1", 1))

	_, err := f.orchestrator().Run(context.Background(), domain.TransformOptions{})
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	stored := f.get(t, "c1")
	assert.Empty(t, stored.Derived.ClaimToken)
	assert.Nil(t, stored.Derived.CompletedAt)
}

func TestOrchestrator_TombstonesAreSkipped(t *testing.T) {
	f := newTransformFixture(t)
	f.insert(t, publicMail("p1", 1), publicMail("gone", 2))
	_, err := f.box.Messages().Tombstone(context.Background(), "acc", "gone", transformBase)
	require.NoError(t, err)

	report, err := f.orchestrator().Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Nil(t, f.get(t, "gone").Derived.CompletedAt)
}

func TestOrchestrator_ChunksLongBodies(t *testing.T) {
	f := newTransformFixture(t)
	f.settings.Embedding.MaxTokens = 5
	msg := publicMail("long", 1)
	msg.BodyText = "first part of the body|second part|third"
	f.insert(t, msg)

	report, err := f.orchestrator().Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.BodyChunked)

	stored := f.get(t, "long")
	assert.True(t, stored.Derived.Chunked)
	assert.Len(t, stored.Derived.BodyEmbedding, 4)

	chunks, err := f.box.Messages().Chunks(context.Background(), "long")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "second part", chunks[1].Text)

	var chunkRecords int
	for _, r := range f.vectors.records["long"] {
		if r.Kind == VectorKindChunk {
			chunkRecords++
			assert.NotEmpty(t, r.Text, "public chunk text is mirrored")
		}
	}
	assert.Equal(t, 3, chunkRecords)
}

func TestOrchestrator_VectorMirrorUsesDisplaySafeText(t *testing.T) {
	f := newTransformFixture(t)
	f.insert(t, publicMail("p1", 1), dinnerMail("d1", 2))

	_, err := f.orchestrator().Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)

	bodies := make(map[string]string)
	for id, records := range f.vectors.records {
		for _, r := range records {
			assert.Equal(t, id, r.Metadata["message_id"])
			if r.Kind == VectorKindBody {
				bodies[id] = r.Text
			}
		}
	}
	assert.Equal(t, "[PERSON] will bring wine", bodies["d1"])
	assert.Equal(t, "This week in deals p1", bodies["p1"])
	assert.Equal(t, "PERSONAL", f.vectors.records["d1"][0].Metadata["tier"])
}

func TestOrchestrator_CancelReleasesClaims(t *testing.T) {
	f := newTransformFixture(t)
	f.insert(t, publicMail("p1", 1), publicMail("p2", 2))
	ctx, cancel := context.WithCancel(context.Background())
	f.llm.onChat = cancel

	_, err := f.orchestrator().Run(ctx, domain.TransformOptions{})
	assert.ErrorIs(t, err, context.Canceled)

	for _, id := range []string{"p1", "p2"} {
		m := f.get(t, id)
		assert.Empty(t, m.Derived.ClaimToken, id)
		assert.Nil(t, m.Derived.CompletedAt, id)
		assert.Equal(t, 0, m.Derived.AttemptCount, id)
	}
}

func TestOrchestrator_Preflight(t *testing.T) {
	f := newTransformFixture(t)
	f.settings.Classifier.BaseURL = ""
	err := f.orchestrator().Preflight(context.Background())
	assert.ErrorIs(t, err, domain.ErrCapabilityMissing)
	assert.Contains(t, err.Error(), "classifier.base_url")

	f = newTransformFixture(t)
	f.llm.pingErr = errors.New("connection refused")
	err = f.orchestrator().Preflight(context.Background())
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)

	f.insert(t, publicMail("p1", 1))
	_, err = f.orchestrator().Run(context.Background(), domain.TransformOptions{})
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
	assert.Empty(t, f.get(t, "p1").Derived.ClaimToken)
	assert.Equal(t, 0, f.llm.callCount())
}

func TestOrchestrator_PlanAndReset(t *testing.T) {
	f := newTransformFixture(t)
	f.insert(t, publicMail("p1", 1), publicMail("p2", 2))
	o := f.orchestrator()

	plan, err := o.Plan(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Total)
	assert.Equal(t, "all accounts", plan.Scope)

	_, err = o.Run(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)

	plan, err = o.Plan(context.Background(), domain.TransformOptions{AccountID: "acc"})
	require.NoError(t, err)
	assert.Equal(t, 0, plan.Total)

	plan, err = o.Plan(context.Background(), domain.TransformOptions{AccountID: "acc", Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Total)
	assert.Equal(t, "account acc (including completed)", plan.Scope)

	n, err := o.Reset(context.Background(), "acc")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	plan, err = o.Plan(context.Background(), domain.TransformOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Total)
}
