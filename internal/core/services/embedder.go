package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// EmbedState is the degradation state of one embedding request.
//
//	FullBatch --too large--> PerItem --too large--> Truncated --any error--> Failed
//
// Any other error fails the texts of the current state.
type EmbedState int

const (
	EmbedFullBatch EmbedState = iota
	EmbedPerItem
	EmbedTruncated
	EmbedFailed
)

// String returns the state name.
func (s EmbedState) String() string {
	switch s {
	case EmbedFullBatch:
		return "full_batch"
	case EmbedPerItem:
		return "per_item"
	case EmbedTruncated:
		return "truncated"
	default:
		return "failed"
	}
}

// minTruncateRunes is the shortest text worth truncating on a size rejection.
const minTruncateRunes = 256

// EmbedOutcome is the result for one text.
type EmbedOutcome struct {
	Vector []float32

	// State is the state the text finished in.
	State EmbedState
	Err   error
}

// EmbedPlan lists the texts one message needs embedded.
type EmbedPlan struct {
	Subject string

	// Body is set when the body fits the token budget.
	Body string

	// Chunks is set when it does not. Embeddings are filled by Embed.
	Chunks []domain.Chunk
}

// Chunked reports whether the body is embedded as chunks.
func (p *EmbedPlan) Chunked() bool {
	return len(p.Chunks) > 0
}

// Embedded holds the vectors of one message.
type Embedded struct {
	SubjectEmbedding []float32
	BodyEmbedding    []float32
	Chunks           []domain.Chunk
	Chunked          bool

	// Err is the first failure among the message's texts.
	Err error
}

// Embedder turns message text into vectors. Requests go out in
// sub-batches and degrade per sub-batch when the service rejects a
// payload as too large.
type Embedder struct {
	service  driven.EmbeddingService
	counter  driven.TokenCounter
	splitter driven.TextSplitter
	settings domain.EmbeddingSettings
}

// NewEmbedder creates an embedder. counter is optional; without it
// token counts are estimated.
func NewEmbedder(
	service driven.EmbeddingService,
	counter driven.TokenCounter,
	splitter driven.TextSplitter,
	settings domain.EmbeddingSettings,
) *Embedder {
	if settings.SubBatchSize <= 0 {
		settings.SubBatchSize = 32
	}
	if settings.Concurrency <= 0 {
		settings.Concurrency = 1
	}
	return &Embedder{
		service:  service,
		counter:  counter,
		splitter: splitter,
		settings: settings,
	}
}

// Plan decides whether a body is embedded whole or in chunks.
func (e *Embedder) Plan(ctx context.Context, messageID, subject, body string) (EmbedPlan, error) {
	plan := EmbedPlan{Subject: strings.TrimSpace(subject)}
	body = strings.TrimSpace(body)
	if body == "" {
		return plan, nil
	}

	tokens, err := e.countTokens(ctx, body)
	if err != nil {
		return EmbedPlan{}, err
	}
	if e.settings.MaxTokens <= 0 || tokens <= e.settings.MaxTokens {
		plan.Body = body
		return plan, nil
	}

	parts := e.splitter.Split(body)
	if len(parts) == 0 {
		plan.Body = body
		return plan, nil
	}
	plan.Chunks = make([]domain.Chunk, len(parts))
	for i, text := range parts {
		plan.Chunks[i] = domain.Chunk{
			ID:        fmt.Sprintf("%s:%d", messageID, i),
			MessageID: messageID,
			Position:  i,
			Text:      text,
			Weight:    domain.WeightForPosition(i),
		}
	}
	logger.Debug("Message %s body has %d tokens, split into %d chunks", messageID, tokens, len(parts))
	return plan, nil
}

// textRef locates one embedded text inside the plans.
type textRef struct {
	plan  int
	chunk int // -1 subject, -2 body
}

// Embed embeds every text of the plans with one request stream and
// returns one result per plan. A failure is attributed to its message
// only. The returned error is non-nil only when ctx is done.
func (e *Embedder) Embed(ctx context.Context, plans []EmbedPlan) ([]Embedded, error) {
	var (
		texts []string
		refs  []textRef
	)
	for i, p := range plans {
		if p.Subject != "" {
			texts = append(texts, p.Subject)
			refs = append(refs, textRef{plan: i, chunk: -1})
		}
		if p.Body != "" {
			texts = append(texts, p.Body)
			refs = append(refs, textRef{plan: i, chunk: -2})
		}
		for j, c := range p.Chunks {
			texts = append(texts, c.Text)
			refs = append(refs, textRef{plan: i, chunk: j})
		}
	}

	outcomes, err := e.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	results := make([]Embedded, len(plans))
	for i, p := range plans {
		results[i].Chunked = p.Chunked()
		if p.Chunked() {
			results[i].Chunks = make([]domain.Chunk, len(p.Chunks))
			copy(results[i].Chunks, p.Chunks)
		}
	}
	for k, ref := range refs {
		res := &results[ref.plan]
		out := outcomes[k]
		if out.Err != nil {
			if res.Err == nil {
				res.Err = out.Err
			}
			continue
		}
		switch ref.chunk {
		case -1:
			res.SubjectEmbedding = out.Vector
		case -2:
			res.BodyEmbedding = out.Vector
		default:
			res.Chunks[ref.chunk].Embedding = out.Vector
		}
	}
	for i := range results {
		if results[i].Chunked && results[i].Err == nil {
			results[i].BodyEmbedding = domain.PoolChunks(results[i].Chunks)
		}
	}
	return results, nil
}

// EmbedTexts embeds texts in sub-batches of at most SubBatchSize, running
// up to Concurrency sub-batches at once. It returns one outcome per text.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([]EmbedOutcome, error) {
	outcomes := make([]EmbedOutcome, len(texts))
	if len(texts) == 0 {
		return outcomes, nil
	}

	prepared := make([]string, len(texts))
	for i, t := range texts {
		p, err := e.fitText(ctx, t)
		if err != nil {
			outcomes[i] = EmbedOutcome{State: EmbedFailed, Err: err}
			continue
		}
		prepared[i] = p
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.settings.Concurrency)
	size := e.settings.SubBatchSize
	for start := 0; start < len(prepared); start += size {
		end := min(start+size, len(prepared))

		// Texts that already failed preparation are left out of the call.
		var (
			idx   []int
			batch []string
		)
		for i := start; i < end; i++ {
			if outcomes[i].Err == nil {
				idx = append(idx, i)
				batch = append(batch, prepared[i])
			}
		}
		if len(batch) == 0 {
			continue
		}

		g.Go(func() error {
			for k, out := range e.embedSubBatch(gctx, batch) {
				outcomes[idx[k]] = out
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// embedSubBatch runs the degradation state machine for one sub-batch.
func (e *Embedder) embedSubBatch(ctx context.Context, texts []string) []EmbedOutcome {
	out := make([]EmbedOutcome, len(texts))
	state := EmbedFullBatch
	if len(texts) == 1 {
		state = EmbedPerItem
	}

	for {
		switch state {
		case EmbedFullBatch:
			vecs, err := e.call(ctx, texts)
			if err == nil {
				for i, v := range vecs {
					out[i] = e.validated(v, EmbedFullBatch)
				}
				return out
			}
			if errors.Is(err, domain.ErrPayloadTooLarge) {
				logger.Debug("Sub-batch of %d rejected as too large, retrying per item", len(texts))
				state = EmbedPerItem
				continue
			}
			for i := range out {
				out[i] = EmbedOutcome{State: EmbedFailed, Err: err}
			}
			return out

		case EmbedPerItem:
			for i, t := range texts {
				out[i] = e.embedOne(ctx, t)
			}
			return out

		default:
			return out
		}
	}
}

// embedOne runs the single-text states: PerItem, then Truncated once.
func (e *Embedder) embedOne(ctx context.Context, text string) EmbedOutcome {
	state := EmbedPerItem
	for {
		switch state {
		case EmbedPerItem:
			vecs, err := e.call(ctx, []string{text})
			if err == nil {
				return e.validated(vecs[0], EmbedPerItem)
			}
			if !errors.Is(err, domain.ErrPayloadTooLarge) {
				return EmbedOutcome{State: EmbedFailed, Err: err}
			}
			state = EmbedTruncated

		case EmbedTruncated:
			shorter, ok := truncateOnce(text)
			if !ok {
				return EmbedOutcome{State: EmbedFailed, Err: fmt.Errorf("embed: %w", domain.ErrPayloadTooLarge)}
			}
			logger.Debug("Text of %d chars rejected as too large, retrying with %d", utf8.RuneCountInString(text), utf8.RuneCountInString(shorter))
			vecs, err := e.call(ctx, []string{shorter})
			if err != nil {
				return EmbedOutcome{State: EmbedFailed, Err: fmt.Errorf("embed truncated: %w", err)}
			}
			return e.validated(vecs[0], EmbedTruncated)

		default:
			return EmbedOutcome{State: EmbedFailed, Err: fmt.Errorf("embed: %w", domain.ErrPayloadTooLarge)}
		}
	}
}

func (e *Embedder) call(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.service.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrInvalidEmbedding, len(vecs), len(texts))
	}
	return vecs, nil
}

func (e *Embedder) validated(vec []float32, state EmbedState) EmbedOutcome {
	if err := validateVector(vec, e.settings.Dimensions); err != nil {
		return EmbedOutcome{State: EmbedFailed, Err: err}
	}
	return EmbedOutcome{Vector: vec, State: state}
}

// validateVector rejects vectors of the wrong size and all-zero vectors.
func validateVector(vec []float32, dims int) error {
	if dims > 0 && len(vec) != dims {
		return fmt.Errorf("%w: dimension %d, expected %d", domain.ErrInvalidEmbedding, len(vec), dims)
	}
	for _, v := range vec {
		if v != 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: all zeros", domain.ErrInvalidEmbedding)
}

// fitText caps a text at MaxChars and, when a counter is available, at
// MaxTokens.
func (e *Embedder) fitText(ctx context.Context, text string) (string, error) {
	text = truncateRunes(text, e.settings.MaxChars)
	if e.counter == nil || e.settings.MaxTokens <= 0 {
		return text, nil
	}
	// Texts this short cannot exceed the budget.
	if utf8.RuneCountInString(text) <= e.settings.MaxTokens {
		return text, nil
	}

	n, err := e.countTokens(ctx, text)
	if err != nil {
		return "", err
	}
	if n <= e.settings.MaxTokens {
		return text, nil
	}
	runes := []rune(text)
	keep := len(runes) * e.settings.MaxTokens / n
	for range 15 {
		if keep <= 0 {
			return "", fmt.Errorf("embed: %w", domain.ErrPayloadTooLarge)
		}
		candidate := string(runes[:keep])
		n, err := e.countTokens(ctx, candidate)
		if err != nil {
			return "", err
		}
		if n <= e.settings.MaxTokens {
			return candidate, nil
		}
		keep = keep * 9 / 10
	}
	return string(runes[:keep]), nil
}

func (e *Embedder) countTokens(ctx context.Context, text string) (int, error) {
	if e.counter == nil {
		return estimateTokens(text), nil
	}
	n, err := e.counter.CountTokens(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return n, nil
}

// truncateOnce halves a text. Returns false when the text is too short
// to be worth retrying.
func truncateOnce(text string) (string, bool) {
	runes := []rune(text)
	if len(runes) <= minTruncateRunes {
		return "", false
	}
	return string(runes[:len(runes)/2]), true
}
