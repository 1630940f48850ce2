package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// Ensure Orchestrator implements the interface.
var _ driving.TransformOrchestrator = (*Orchestrator)(nil)

// Vector record kinds.
const (
	VectorKindSubject = "subject"
	VectorKindBody    = "body"
	VectorKindChunk   = "chunk"
)

// TransformStores groups the stores the orchestrator reads and writes.
type TransformStores struct {
	Messages   driven.MessageStore
	Transforms driven.TransformStore
	Labels     driven.LabelStore
}

// TransformStages groups the enrichment stages.
type TransformStages struct {
	Classifier *Classifier
	Sanitizer  *Sanitizer
	Embedder   *Embedder
}

// Orchestrator drives messages through classification, sanitization and
// embedding. A message is written only by the run holding its claim and
// is marked complete only when every stage succeeded.
type Orchestrator struct {
	stores     TransformStores
	stages     TransformStages
	embeddings driven.EmbeddingService
	llm        driven.LLMService
	vectors    driven.VectorIndex
	settings   domain.Settings

	now      func() time.Time
	newToken func() string
}

// NewOrchestrator creates a transform orchestrator. vectors is optional.
func NewOrchestrator(
	stores TransformStores,
	stages TransformStages,
	embeddings driven.EmbeddingService,
	llm driven.LLMService,
	vectors driven.VectorIndex,
	settings domain.Settings,
) *Orchestrator {
	return &Orchestrator{
		stores:     stores,
		stages:     stages,
		embeddings: embeddings,
		llm:        llm,
		vectors:    vectors,
		settings:   settings,
		now:        time.Now,
		newToken:   uuid.NewString,
	}
}

// Preflight checks configuration and reachability of the model services.
func (o *Orchestrator) Preflight(ctx context.Context) error {
	if err := o.settings.Validate(); err != nil {
		return err
	}
	if err := o.embeddings.Ping(ctx); err != nil {
		return fmt.Errorf("%w: embedding service %s: %v", domain.ErrServiceUnavailable, o.embeddings.ModelName(), err)
	}
	if err := o.llm.Ping(ctx); err != nil {
		return fmt.Errorf("%w: classifier model %s: %v", domain.ErrServiceUnavailable, o.llm.ModelName(), err)
	}
	return nil
}

// Plan counts the messages a run would select.
func (o *Orchestrator) Plan(ctx context.Context, opts domain.TransformOptions) (*domain.TransformPlan, error) {
	sel := domain.SelectionFor(opts)
	total, err := o.stores.Transforms.Count(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	return &domain.TransformPlan{Total: total, Force: opts.Force, Scope: describeScope(sel)}, nil
}

func describeScope(sel domain.Selection) string {
	var scope string
	switch {
	case sel.MessageID != "":
		scope = "message " + sel.MessageID
	case sel.AccountID != "":
		scope = "account " + sel.AccountID
	default:
		scope = "all accounts"
	}
	if sel.IncludeCompleted {
		scope += " (including completed)"
	}
	return scope
}

// Reset clears derived fields so the next run re-transforms.
func (o *Orchestrator) Reset(ctx context.Context, accountID string) (int, error) {
	n, err := o.stores.Transforms.Reset(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("reset transform: %w", err)
	}
	logger.Info("Reset transform state of %d messages", n)
	return n, nil
}

// Run transforms the selected messages batch by batch. Per-message
// failures are recorded and do not stop the run; store errors and
// cancellation do, releasing any claims still held.
func (o *Orchestrator) Run(ctx context.Context, opts domain.TransformOptions) (*domain.TransformReport, error) {
	if opts.Force && !opts.Confirmed {
		return nil, fmt.Errorf("%w: forced transform re-processes completed messages", domain.ErrConfirmationRequired)
	}
	if err := o.Preflight(ctx); err != nil {
		return nil, err
	}

	runStart := o.now()
	sel := domain.SelectionFor(opts)
	ids, err := o.stores.Transforms.Select(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = o.settings.Transform.BatchSize
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	batches := splitBatches(ids, batchSize)

	report := &domain.TransformReport{
		TransformProgress: domain.TransformProgress{
			Total:   len(ids),
			ByTier:  make(map[domain.Tier]int),
			Batches: len(batches),
		},
		Failures:  make(map[string]string),
		StartedAt: runStart,
	}

	// Forced runs may take over messages completed before this run began,
	// never ones this run (or a concurrent one) completed after it.
	var completedBefore time.Time
	if sel.IncludeCompleted {
		completedBefore = runStart
	}

	tracker := NewCompletionTracker(o.stores.Transforms, o.newToken(), o.settings.Transform.ClaimTimeout, o.now)
	logger.Info("Transforming %d messages in %d batches (%s)", len(ids), len(batches), describeScope(sel))

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return o.abort(ctx, tracker, report, err)
		}
		report.Batch = i + 1
		if err := o.runBatch(ctx, tracker, batch, completedBefore, report); err != nil {
			return o.abort(ctx, tracker, report, err)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(snapshotProgress(report.TransformProgress))
		}
	}

	report.FinishedAt = o.now()
	logger.Info("Transform finished: %d processed, %d failed, %d contended in %s",
		report.Processed, report.Failed, report.Contended, report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

func (o *Orchestrator) abort(ctx context.Context, tracker *CompletionTracker, report *domain.TransformReport, cause error) (*domain.TransformReport, error) {
	if err := tracker.ReleaseAll(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("Releasing claims: %v", err)
	}
	report.FinishedAt = o.now()
	return report, cause
}

// batchItem is the working state of one claimed message.
type batchItem struct {
	claim  domain.Claim
	msg    *domain.Message
	labels []string

	result domain.TransformResult
	plan   EmbedPlan
	err    error
}

func (o *Orchestrator) runBatch(
	ctx context.Context,
	tracker *CompletionTracker,
	ids []string,
	completedBefore time.Time,
	report *domain.TransformReport,
) error {
	items, err := o.claimBatch(ctx, tracker, ids, completedBefore, report)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	concurrency := o.settings.Transform.PrepareConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, it := range items {
		g.Go(func() error {
			it.err = o.prepare(gctx, it)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	ready := make([]*batchItem, 0, len(items))
	for _, it := range items {
		if it.err != nil {
			if err := o.fail(ctx, tracker, it, report); err != nil {
				return err
			}
			continue
		}
		ready = append(ready, it)
	}
	if len(ready) == 0 {
		return nil
	}

	plans := make([]EmbedPlan, len(ready))
	for i, it := range ready {
		plans[i] = it.plan
	}
	embedded, err := o.stages.Embedder.Embed(ctx, plans)
	if err != nil {
		return err
	}

	for i, it := range ready {
		e := embedded[i]
		if e.Err != nil {
			it.err = fmt.Errorf("embed: %w", e.Err)
			if err := o.fail(ctx, tracker, it, report); err != nil {
				return err
			}
			continue
		}
		it.result.SubjectEmbedding = e.SubjectEmbedding
		it.result.BodyEmbedding = e.BodyEmbedding
		it.result.Chunked = e.Chunked
		it.result.Chunks = e.Chunks

		if err := tracker.Complete(ctx, it.claim, it.result); err != nil {
			if errors.Is(err, domain.ErrClaimLost) {
				logger.Warn("Message %s was taken over by another run", it.msg.ID)
				report.Contended++
				continue
			}
			return err
		}
		report.Processed++
		report.ByTier[it.result.Tier]++
		if it.result.Chunked {
			report.BodyChunked++
		} else {
			report.BodyFull++
		}
		o.mirror(ctx, it)
	}
	return nil
}

func (o *Orchestrator) claimBatch(
	ctx context.Context,
	tracker *CompletionTracker,
	ids []string,
	completedBefore time.Time,
	report *domain.TransformReport,
) ([]*batchItem, error) {
	items := make([]*batchItem, 0, len(ids))
	registries := make(map[string]domain.LabelRegistry)

	for _, id := range ids {
		claim, ok, err := tracker.Claim(ctx, id, completedBefore)
		if err != nil {
			return items, err
		}
		if !ok {
			logger.Debug("Message %s is owned by another run", id)
			report.Contended++
			continue
		}

		msg, err := o.stores.Messages.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			_ = tracker.Release(ctx, claim)
			continue
		}
		if err != nil {
			return items, fmt.Errorf("get message %s: %w", id, err)
		}
		if msg.IsDeleted() {
			_ = tracker.Release(ctx, claim)
			continue
		}

		registry, seen := registries[msg.AccountID]
		if !seen {
			registry, err = o.stores.Labels.Labels(ctx, msg.AccountID)
			if err != nil {
				logger.Warn("Loading labels of %s: %v", msg.AccountID, err)
				registry = nil
			}
			registries[msg.AccountID] = registry
		}
		items = append(items, &batchItem{claim: claim, msg: msg, labels: registry.Resolve(msg.LabelIDs)})
	}
	return items, nil
}

// prepare runs the per-message stages before the batched embed call.
func (o *Orchestrator) prepare(ctx context.Context, it *batchItem) error {
	msg := it.msg
	body := PreprocessBody(msg.BodyText)

	cls, err := o.stages.Classifier.Classify(ctx, ClassifyInput{Message: msg, Body: body, Labels: it.labels})
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}

	it.result = domain.TransformResult{
		MessageID:       msg.ID,
		Tier:            cls.Tier,
		SnippetRedacted: RedactSnippet(cls.Tier, msg.Snippet),
	}
	if cls.Tier == domain.TierPersonal {
		s, err := o.stages.Sanitizer.Sanitize(ctx, body)
		if err != nil {
			return fmt.Errorf("sanitize: %w", err)
		}
		redacted := s.Body
		it.result.BodyRedacted = &redacted
		it.result.Language = s.Language
	}

	plan, err := o.stages.Embedder.Plan(ctx, msg.ID, msg.Subject, body)
	if err != nil {
		return fmt.Errorf("plan embedding: %w", err)
	}
	it.plan = plan
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, tracker *CompletionTracker, it *batchItem, report *domain.TransformReport) error {
	logger.Warn("Transform of %s failed: %v", it.msg.ID, it.err)
	report.Failed++
	report.Failures[it.msg.ID] = it.err.Error()
	if err := tracker.Fail(ctx, it.claim, it.err); err != nil && !errors.Is(err, domain.ErrClaimLost) {
		return err
	}
	return nil
}

// mirror copies the completed vectors to the vector index. The index is
// a derived copy, so failures are logged and the run continues.
func (o *Orchestrator) mirror(ctx context.Context, it *batchItem) {
	if o.vectors == nil {
		return
	}
	records := vectorRecords(it.msg, it.result)
	if err := o.vectors.DeleteMessage(ctx, it.msg.ID); err != nil {
		logger.Warn("Vector mirror delete of %s: %v", it.msg.ID, err)
		return
	}
	if len(records) == 0 {
		return
	}
	if err := o.vectors.Upsert(ctx, records); err != nil {
		logger.Warn("Vector mirror upsert of %s: %v", it.msg.ID, err)
	}
}

// vectorRecords builds the mirror records of one message. Record text is
// always display-safe for the message tier.
func vectorRecords(msg *domain.Message, res domain.TransformResult) []driven.VectorRecord {
	meta := func(kind string, position int) map[string]any {
		return map[string]any{
			"tier":       res.Tier.String(),
			"account_id": msg.AccountID,
			"message_id": msg.ID,
			"thread_id":  msg.ThreadID,
			"kind":       kind,
			"position":   position,
		}
	}
	record := func(id, kind, text string, vec []float32, position int) driven.VectorRecord {
		return driven.VectorRecord{
			ID:        id,
			MessageID: msg.ID,
			AccountID: msg.AccountID,
			Kind:      kind,
			Text:      text,
			Embedding: vec,
			Metadata:  meta(kind, position),
		}
	}

	var records []driven.VectorRecord
	if len(res.SubjectEmbedding) > 0 {
		subject := msg.Subject
		if res.Tier == domain.TierSensitive {
			subject = ""
		}
		records = append(records, record(msg.ID+":subject", VectorKindSubject, subject, res.SubjectEmbedding, 0))
	}
	if len(res.BodyEmbedding) > 0 {
		records = append(records, record(msg.ID+":body", VectorKindBody, displayBody(msg, res.Tier, res.BodyRedacted), res.BodyEmbedding, 0))
	}
	for _, c := range res.Chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		text := ""
		if res.Tier == domain.TierPublic {
			text = c.Text
		}
		records = append(records, record(msg.ID+":chunk:"+strconv.Itoa(c.Position), VectorKindChunk, text, c.Embedding, c.Position))
	}
	return records
}

// displayBody applies the redaction policy to a message body.
func displayBody(msg *domain.Message, tier domain.Tier, redacted *string) string {
	switch tier {
	case domain.TierSensitive:
		return domain.SensitiveBodyMarker
	case domain.TierPersonal:
		if redacted == nil {
			return domain.MissingRedactionMarker
		}
		return *redacted
	case domain.TierPublic:
		return msg.BodyText
	default:
		return domain.MissingRedactionMarker
	}
}

func splitBatches(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		out = append(out, ids[start:min(start+size, len(ids))])
	}
	return out
}

func snapshotProgress(p domain.TransformProgress) domain.TransformProgress {
	byTier := make(map[domain.Tier]int, len(p.ByTier))
	for k, v := range p.ByTier {
		byTier[k] = v
	}
	p.ByTier = byTier
	return p
}
