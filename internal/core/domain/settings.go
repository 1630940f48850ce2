package domain

import (
	"fmt"
	"strings"
	"time"
)

// SyncSettings configures the delta sync engine.
type SyncSettings struct {
	// Concurrency bounds parallel message fetches.
	Concurrency int

	// PageSize is the provider listing page size.
	PageSize int

	// LabelIDs limits full listings to these labels. Empty lists everything.
	LabelIDs []string

	// IncludeSpamTrash includes spam and trash in full listings.
	IncludeSpamTrash bool

	// RequestsPerSecond is the sustained provider request rate.
	RequestsPerSecond float64

	// Burst is the provider request burst size.
	Burst int

	// MaxRetries bounds backoff retries for throttled calls.
	MaxRetries int

	// InitialBackoff is the first retry delay; it doubles per retry.
	InitialBackoff time.Duration

	// MaxBackoff caps a single retry delay.
	MaxBackoff time.Duration
}

// TransformSettings configures the transform orchestrator.
type TransformSettings struct {
	BatchSize int

	// PrepareConcurrency bounds parallel classify/sanitize work in a batch.
	PrepareConcurrency int

	// ClaimTimeout is the age after which an in-flight claim is stale.
	ClaimTimeout time.Duration
}

// EmbeddingSettings configures the embedding collaborator and embedder stage.
type EmbeddingSettings struct {
	BaseURL string
	Model   string

	// Dimensions is the expected vector size.
	Dimensions int

	// MaxTokens is the model's input budget per text.
	MaxTokens int

	// MaxChars truncates any text before it is sent.
	MaxChars int

	// SubBatchSize is the largest number of texts per embed call.
	SubBatchSize int

	// Concurrency bounds parallel sub-batch calls.
	Concurrency int

	// ChunkTargetTokens is the splitter target per chunk.
	ChunkTargetTokens int

	Timeout time.Duration
}

// ClassifierSettings configures the classification collaborator.
type ClassifierSettings struct {
	BaseURL string
	Model   string
	APIKey  string

	// MaxModelLen is the model context window in tokens.
	MaxModelLen int

	// MaxBodyChars caps the body preview before budget fitting.
	MaxBodyChars int

	// BulkRecipientThreshold is the recipient count treated as mass mail.
	BulkRecipientThreshold int

	Timeout time.Duration
}

// NLPSettings configures language detection and entity recognition.
type NLPSettings struct {
	LanguageURL string
	EntityURL   string

	// MinLanguageConfidence is the detector confidence below which the
	// default language is used.
	MinLanguageConfidence float64

	DefaultLanguage string

	Timeout time.Duration
}

// NotificationSettings configures push and pull notification delivery.
type NotificationSettings struct {
	// ProjectID is the Google Cloud project holding the topic.
	ProjectID string

	// Topic is the full Pub/Sub topic name used for watch registration.
	Topic string

	// Subscription is the pull subscription id. Empty disables pull.
	Subscription string

	// CredentialsFile is an optional service account key for Pub/Sub.
	CredentialsFile string

	// ListenAddr is the push webhook listen address. Empty disables push.
	ListenAddr string

	// PushToken, when set, must match the token query parameter of the
	// push subscription endpoint.
	PushToken string

	// WatchLabelIDs are the labels a watch registration covers.
	WatchLabelIDs []string

	// RenewWindow renews watches expiring within this window.
	RenewWindow time.Duration

	// SettleDelay coalesces bursts of notifications per account.
	SettleDelay time.Duration
}

// VectorSettings configures the optional vector mirror.
type VectorSettings struct {
	Enabled    bool
	BaseURL    string
	Collection string
}

// Settings is the complete runtime configuration.
type Settings struct {
	DataDir       string
	OAuthClientID string

	// OAuthClientSecret is used only to refresh stored tokens.
	OAuthClientSecret string

	Sync          SyncSettings
	Transform     TransformSettings
	Embedding     EmbeddingSettings
	Classifier    ClassifierSettings
	NLP           NLPSettings
	Notifications NotificationSettings
	Vector        VectorSettings
	Scheduler     SchedulerConfig
}

// DefaultSettings returns sensible defaults.
func DefaultSettings() Settings {
	return Settings{
		Sync: SyncSettings{
			Concurrency:       10,
			PageSize:          500,
			RequestsPerSecond: 5.0,
			Burst:             10,
			MaxRetries:        5,
			InitialBackoff:    time.Second,
			MaxBackoff:        time.Minute,
		},
		Transform: TransformSettings{
			BatchSize:          50,
			PrepareConcurrency: 4,
			ClaimTimeout:       30 * time.Minute,
		},
		Embedding: EmbeddingSettings{
			Dimensions:        768,
			MaxTokens:         8192,
			MaxChars:          32768,
			SubBatchSize:      32,
			Concurrency:       2,
			ChunkTargetTokens: 7500,
			Timeout:           120 * time.Second,
		},
		Classifier: ClassifierSettings{
			MaxModelLen:            8192,
			MaxBodyChars:           6000,
			BulkRecipientThreshold: 25,
			Timeout:                120 * time.Second,
		},
		NLP: NLPSettings{
			MinLanguageConfidence: 0.5,
			DefaultLanguage:       "en",
			Timeout:               15 * time.Second,
		},
		Notifications: NotificationSettings{
			ListenAddr:    ":8080",
			WatchLabelIDs: []string{"INBOX"},
			RenewWindow:   24 * time.Hour,
			SettleDelay:   2 * time.Second,
		},
		Vector: VectorSettings{
			Collection: "inboxd_messages",
		},
		Scheduler: DefaultSchedulerConfig(),
	}
}

// Validate checks the capabilities transform needs. It is called before
// any batch work so a misconfigured run fails fast.
func (s *Settings) Validate() error {
	var missing []string
	if s.Embedding.BaseURL == "" {
		missing = append(missing, "embedding.base_url")
	}
	if s.Embedding.MaxTokens <= 0 {
		missing = append(missing, "embedding.max_tokens")
	}
	if s.Embedding.Dimensions <= 0 {
		missing = append(missing, "embedding.dimensions")
	}
	if s.Classifier.BaseURL == "" {
		missing = append(missing, "classifier.base_url")
	}
	if s.Classifier.Model == "" {
		missing = append(missing, "classifier.model")
	}
	if s.Classifier.MaxModelLen <= 0 {
		missing = append(missing, "classifier.max_model_len")
	}
	if s.NLP.LanguageURL == "" {
		missing = append(missing, "nlp.language_url")
	}
	if s.NLP.EntityURL == "" {
		missing = append(missing, "nlp.entity_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrCapabilityMissing, strings.Join(missing, ", "))
	}
	// A non-positive timeout makes every live claim stale at once.
	if s.Transform.ClaimTimeout <= 0 {
		return fmt.Errorf("%w: transform.claim_timeout must be positive, got %s", ErrInvalidInput, s.Transform.ClaimTimeout)
	}
	return nil
}
