package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// Classification sources.
const (
	ClassifiedBySecret    = "secret"
	ClassifiedByBulk      = "bulk"
	ClassifiedByModel     = "model"
	ClassifiedByAmbiguous = "ambiguous"
)

const (
	promptReserveTokens = 150
	minPreviewChars     = 100
	outputLabels        = "SENSITIVE, PERSONAL, or PUBLIC"
)

var (
	thinkPattern = regexp.MustCompile(`(?is)<(?:think|thinking)\b[^>]*>.*?</(?:think|thinking)\s*>|<(?:think|thinking)\b[^>]*>.*$`)

	tierWordPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bSENSITIVE\b`),
		regexp.MustCompile(`\bPERSONAL\b`),
		regexp.MustCompile(`\bPUBLIC\b`),
	}

	tierVariants = []struct {
		prefix string
		tier   domain.Tier
	}{
		{"SENS", domain.TierSensitive},
		{"PRIV", domain.TierPersonal},
		{"PERS", domain.TierPersonal},
		{"PUBL", domain.TierPublic},
		{"PUB", domain.TierPublic},
	}

	bulkSenderPattern = regexp.MustCompile(
		`^(?:no-?reply|do-?not-?reply|donotreply|newsletters?|mailer-daemon|postmaster|bounces?|notifications?)(?:[+._-].*)?$`)
)

// ClassifyInput is the context the classifier sees for one message.
type ClassifyInput struct {
	Message *domain.Message

	// Body is the preprocessed body text.
	Body string

	// Labels are label names resolved from the account registry.
	Labels []string
}

// Classification is the tier of one message and how it was decided.
type Classification struct {
	Tier   domain.Tier
	Source string
}

// ClassifierMetrics are running counts for one classifier.
type ClassifierMetrics struct {
	Calls       int
	Sensitive   int
	Personal    int
	Public      int
	SecretHits  int
	BulkHits    int
	Ambiguous   int
	Errors      int
	MeanLatency time.Duration
}

// Classifier assigns privacy tiers. Deterministic pre-filters run first;
// the language model is asked only when neither fires.
type Classifier struct {
	llm      driven.LLMService
	counter  driven.TokenCounter
	prompts  driven.PromptStore
	settings domain.ClassifierSettings
	now      func() time.Time

	mu      sync.Mutex
	metrics ClassifierMetrics
}

// NewClassifier creates a classifier. counter is optional; without it
// token counts are estimated from character counts.
func NewClassifier(
	llm driven.LLMService,
	counter driven.TokenCounter,
	prompts driven.PromptStore,
	settings domain.ClassifierSettings,
) *Classifier {
	return &Classifier{
		llm:      llm,
		counter:  counter,
		prompts:  prompts,
		settings: settings,
		now:      time.Now,
	}
}

// Metrics returns a snapshot of the running counts.
func (c *Classifier) Metrics() ClassifierMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// hasSecretEvidence scans the raw subject, body and header values as
// well as the preprocessed body. Preprocessing drops quoted replies and
// signatures, which still reach readers of PUBLIC messages.
func hasSecretEvidence(msg *domain.Message, body string) bool {
	if ContainsSecret(msg.Subject) || ContainsSecret(msg.BodyText) || ContainsSecret(body) {
		return true
	}
	for _, v := range msg.Headers {
		if ContainsSecret(v) {
			return true
		}
	}
	return false
}

// Classify returns the tier of a message.
func (c *Classifier) Classify(ctx context.Context, in ClassifyInput) (Classification, error) {
	msg := in.Message
	if msg == nil {
		return Classification{}, fmt.Errorf("%w: nil message", domain.ErrInvalidInput)
	}

	if hasSecretEvidence(msg, in.Body) {
		c.record(domain.TierSensitive, func(m *ClassifierMetrics) { m.SecretHits++ })
		return Classification{Tier: domain.TierSensitive, Source: ClassifiedBySecret}, nil
	}
	if c.isBulk(msg) {
		c.record(domain.TierPublic, func(m *ClassifierMetrics) { m.BulkHits++ })
		return Classification{Tier: domain.TierPublic, Source: ClassifiedByBulk}, nil
	}

	start := c.now()
	tier, err := c.ask(ctx, in)
	elapsed := c.now().Sub(start)

	c.mu.Lock()
	c.metrics.Calls++
	n := time.Duration(c.metrics.Calls)
	c.metrics.MeanLatency = (c.metrics.MeanLatency*(n-1) + elapsed) / n
	if err != nil && !errors.Is(err, domain.ErrClassificationAmbiguous) {
		c.metrics.Errors++
	}
	calls := c.metrics.Calls
	c.mu.Unlock()

	if calls%100 == 0 {
		m := c.Metrics()
		logger.Info("Classification metrics: %d calls, %s mean, %d errors", m.Calls, m.MeanLatency, m.Errors)
	}

	if errors.Is(err, domain.ErrClassificationAmbiguous) {
		logger.Warn("Message %s: %v, using %s", msg.ID, err, domain.AmbiguousTierFallback)
		c.record(domain.AmbiguousTierFallback, func(m *ClassifierMetrics) { m.Ambiguous++ })
		return Classification{Tier: domain.AmbiguousTierFallback, Source: ClassifiedByAmbiguous}, nil
	}
	if err != nil {
		return Classification{}, err
	}
	c.record(tier, nil)
	return Classification{Tier: tier, Source: ClassifiedByModel}, nil
}

func (c *Classifier) record(tier domain.Tier, extra func(*ClassifierMetrics)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch tier {
	case domain.TierSensitive:
		c.metrics.Sensitive++
	case domain.TierPersonal:
		c.metrics.Personal++
	case domain.TierPublic:
		c.metrics.Public++
	}
	if extra != nil {
		extra(&c.metrics)
	}
}

// isBulk reports automated sender and mass mail signals.
func (c *Classifier) isBulk(msg *domain.Message) bool {
	if local, _, ok := strings.Cut(strings.ToLower(msg.From.Email), "@"); ok && bulkSenderPattern.MatchString(local) {
		return true
	}
	if msg.Header("List-Unsubscribe") != "" || msg.Header("List-Id") != "" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(msg.Header("Precedence"))) {
	case "bulk", "list", "junk":
		return true
	}
	if v := strings.ToLower(strings.TrimSpace(msg.Header("Auto-Submitted"))); v != "" && v != "no" {
		return true
	}
	if msg.Header("X-Auto-Response-Suppress") != "" {
		return true
	}
	threshold := c.settings.BulkRecipientThreshold
	return threshold > 0 && msg.RecipientCount() >= threshold
}

type promptVars struct {
	sender         string
	subject        string
	labels         string
	hasAttachments string
}

func (c *Classifier) ask(ctx context.Context, in ClassifyInput) (domain.Tier, error) {
	system, err := c.prompts.Load(driven.PromptClassifySystem)
	if err != nil {
		return domain.TierUnknown, fmt.Errorf("load prompt: %w", err)
	}
	user, err := c.prompts.Load(driven.PromptClassifyUser)
	if err != nil {
		return domain.TierUnknown, fmt.Errorf("load prompt: %w", err)
	}

	vars := promptVars{
		sender:         senderAddress(in.Message.From),
		subject:        strings.TrimSpace(in.Message.Subject),
		labels:         "none",
		hasAttachments: "no",
	}
	if len(in.Labels) > 0 {
		vars.labels = strings.Join(in.Labels, ", ")
	}
	if in.Message.HasAttachments {
		vars.hasAttachments = "yes"
	}

	body := strings.TrimSpace(in.Body)
	if c.settings.MaxBodyChars > 0 {
		body = truncateRunes(body, c.settings.MaxBodyChars)
	}

	budget := c.settings.MaxModelLen - promptReserveTokens
	if budget < 0 {
		budget = 0
	}
	preview, err := c.fitPreview(ctx, system, user, vars, body, budget)
	if err != nil {
		return domain.TierUnknown, err
	}

	answer, err := c.llm.Chat(ctx, []driven.ChatMessage{
		{Role: "system", Content: render(system, vars, preview)},
		{Role: "user", Content: render(user, vars, preview)},
	}, driven.ChatOptions{MaxTokens: 64, Temperature: 0, Seed: 42})
	if err != nil {
		return domain.TierUnknown, fmt.Errorf("classify: %w", err)
	}
	logger.Debug("Classifier answer for %s: %q", in.Message.ID, answer)
	return ParseTierAnswer(answer)
}

// fitPreview shrinks the body preview until the rendered prompt fits the
// token budget, keeping the first three quarters and the last quarter.
func (c *Classifier) fitPreview(ctx context.Context, system, user string, vars promptVars, body string, budget int) (string, error) {
	fits := func(preview string) (bool, error) {
		n, err := c.countTokens(ctx, render(system, vars, preview)+"\n\n"+render(user, vars, preview))
		if err != nil {
			return false, err
		}
		return n <= budget, nil
	}

	ok, err := fits(body)
	if err != nil || ok || body == "" {
		return body, err
	}

	runes := []rune(body)
	n := len(runes)
	head := n/2 + n/4
	tail := n / 4
	for {
		preview := body
		if head+tail < n {
			preview = string(runes[:head]) + "\n...\n" + string(runes[n-tail:])
		}
		ok, err := fits(preview)
		if err != nil {
			return "", err
		}
		if ok {
			return preview, nil
		}
		head = max(minPreviewChars, head-500)
		tail = max(minPreviewChars, tail-200)
		if head <= minPreviewChars && tail <= minPreviewChars {
			if head+tail >= n {
				return body, nil
			}
			return string(runes[:head]) + "\n...\n" + string(runes[n-tail:]), nil
		}
	}
}

func (c *Classifier) countTokens(ctx context.Context, text string) (int, error) {
	if c.counter == nil {
		return estimateTokens(text), nil
	}
	n, err := c.counter.CountTokens(ctx, text)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return n, nil
}

func render(template string, vars promptVars, preview string) string {
	return strings.NewReplacer(
		"{sender}", vars.sender,
		"{subject}", vars.subject,
		"{body_preview}", preview,
		"{labels}", vars.labels,
		"{has_attachments}", vars.hasAttachments,
		"{output_labels}", outputLabels,
	).Replace(template)
}

// senderAddress returns the lowercased address, or "(unknown)" when the
// From header carried no usable address.
func senderAddress(from domain.Address) string {
	email := strings.ToLower(strings.TrimSpace(from.Email))
	if !strings.Contains(email, "@") {
		return "(unknown)"
	}
	return email
}

// ParseTierAnswer extracts a tier from a model answer. Reasoning blocks
// are ignored. Returns domain.ErrClassificationAmbiguous when no tier is named.
func ParseTierAnswer(answer string) (domain.Tier, error) {
	cleaned := stripThinking(answer)
	if cleaned == "" {
		if tier, ok := findTierWord(strings.ToUpper(answer)); ok {
			return tier, nil
		}
		return domain.TierUnknown, fmt.Errorf("%w: empty answer", domain.ErrClassificationAmbiguous)
	}

	upper := strings.ToUpper(cleaned)
	if tier, ok := domain.ParseTier(upper); ok {
		return tier, nil
	}
	if fields := strings.Fields(upper); len(fields) > 0 {
		if tier, ok := domain.ParseTier(strings.Trim(fields[0], ".,:;!\"'*")); ok {
			return tier, nil
		}
	}
	for _, v := range tierVariants {
		if strings.Contains(upper, v.prefix) {
			return v.tier, nil
		}
	}
	if tier, ok := findTierWord(upper); ok {
		return tier, nil
	}

	preview := answer
	if utf8.RuneCountInString(preview) > 100 {
		preview = string([]rune(preview)[:100]) + "..."
	}
	return domain.TierUnknown, fmt.Errorf("%w: %q", domain.ErrClassificationAmbiguous, preview)
}

func stripThinking(text string) string {
	out := strings.TrimSpace(text)
	for {
		next := strings.TrimSpace(thinkPattern.ReplaceAllString(out, ""))
		if next == out {
			return out
		}
		out = next
	}
}

func findTierWord(upper string) (domain.Tier, bool) {
	for i, re := range tierWordPatterns {
		if re.MatchString(upper) {
			return domain.AllTiers[i], true
		}
	}
	for _, tier := range domain.AllTiers {
		if strings.Contains(upper, tier.String()) {
			return tier, true
		}
	}
	return domain.TierUnknown, false
}

func estimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

func truncateRunes(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}
