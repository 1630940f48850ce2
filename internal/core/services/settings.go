package services

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driven"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// EnvPrefix prefixes environment overrides: "embedding.base_url" is
// overridden by INBOXD_EMBEDDING_BASE_URL.
const EnvPrefix = "INBOXD_"

type fieldKind int

const (
	kindString fieldKind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
	kindList
)

// binding maps a config key to a settings field.
type binding struct {
	kind  fieldKind
	field func(*domain.Settings) any
}

//nolint:gosec // G101: These are config key names, not actual credentials.
var bindings = map[string]binding{
	"data_dir":            {kindString, func(s *domain.Settings) any { return &s.DataDir }},
	"oauth.client_id":     {kindString, func(s *domain.Settings) any { return &s.OAuthClientID }},
	"oauth.client_secret": {kindString, func(s *domain.Settings) any { return &s.OAuthClientSecret }},

	"sync.concurrency":         {kindInt, func(s *domain.Settings) any { return &s.Sync.Concurrency }},
	"sync.page_size":           {kindInt, func(s *domain.Settings) any { return &s.Sync.PageSize }},
	"sync.label_ids":           {kindList, func(s *domain.Settings) any { return &s.Sync.LabelIDs }},
	"sync.include_spam_trash":  {kindBool, func(s *domain.Settings) any { return &s.Sync.IncludeSpamTrash }},
	"sync.requests_per_second": {kindFloat, func(s *domain.Settings) any { return &s.Sync.RequestsPerSecond }},
	"sync.burst":               {kindInt, func(s *domain.Settings) any { return &s.Sync.Burst }},
	"sync.max_retries":         {kindInt, func(s *domain.Settings) any { return &s.Sync.MaxRetries }},
	"sync.initial_backoff":     {kindDuration, func(s *domain.Settings) any { return &s.Sync.InitialBackoff }},
	"sync.max_backoff":         {kindDuration, func(s *domain.Settings) any { return &s.Sync.MaxBackoff }},

	"transform.batch_size":          {kindInt, func(s *domain.Settings) any { return &s.Transform.BatchSize }},
	"transform.prepare_concurrency": {kindInt, func(s *domain.Settings) any { return &s.Transform.PrepareConcurrency }},
	"transform.claim_timeout":       {kindDuration, func(s *domain.Settings) any { return &s.Transform.ClaimTimeout }},

	"embedding.base_url":            {kindString, func(s *domain.Settings) any { return &s.Embedding.BaseURL }},
	"embedding.model":               {kindString, func(s *domain.Settings) any { return &s.Embedding.Model }},
	"embedding.dimensions":          {kindInt, func(s *domain.Settings) any { return &s.Embedding.Dimensions }},
	"embedding.max_tokens":          {kindInt, func(s *domain.Settings) any { return &s.Embedding.MaxTokens }},
	"embedding.max_chars":           {kindInt, func(s *domain.Settings) any { return &s.Embedding.MaxChars }},
	"embedding.sub_batch_size":      {kindInt, func(s *domain.Settings) any { return &s.Embedding.SubBatchSize }},
	"embedding.concurrency":         {kindInt, func(s *domain.Settings) any { return &s.Embedding.Concurrency }},
	"embedding.chunk_target_tokens": {kindInt, func(s *domain.Settings) any { return &s.Embedding.ChunkTargetTokens }},
	"embedding.timeout":             {kindDuration, func(s *domain.Settings) any { return &s.Embedding.Timeout }},

	"classifier.base_url":                 {kindString, func(s *domain.Settings) any { return &s.Classifier.BaseURL }},
	"classifier.model":                    {kindString, func(s *domain.Settings) any { return &s.Classifier.Model }},
	"classifier.api_key":                  {kindString, func(s *domain.Settings) any { return &s.Classifier.APIKey }},
	"classifier.max_model_len":            {kindInt, func(s *domain.Settings) any { return &s.Classifier.MaxModelLen }},
	"classifier.max_body_chars":           {kindInt, func(s *domain.Settings) any { return &s.Classifier.MaxBodyChars }},
	"classifier.bulk_recipient_threshold": {kindInt, func(s *domain.Settings) any { return &s.Classifier.BulkRecipientThreshold }},
	"classifier.timeout":                  {kindDuration, func(s *domain.Settings) any { return &s.Classifier.Timeout }},

	"nlp.language_url":            {kindString, func(s *domain.Settings) any { return &s.NLP.LanguageURL }},
	"nlp.entity_url":              {kindString, func(s *domain.Settings) any { return &s.NLP.EntityURL }},
	"nlp.min_language_confidence": {kindFloat, func(s *domain.Settings) any { return &s.NLP.MinLanguageConfidence }},
	"nlp.default_language":        {kindString, func(s *domain.Settings) any { return &s.NLP.DefaultLanguage }},
	"nlp.timeout":                 {kindDuration, func(s *domain.Settings) any { return &s.NLP.Timeout }},

	"notifications.project_id":       {kindString, func(s *domain.Settings) any { return &s.Notifications.ProjectID }},
	"notifications.topic":            {kindString, func(s *domain.Settings) any { return &s.Notifications.Topic }},
	"notifications.subscription":     {kindString, func(s *domain.Settings) any { return &s.Notifications.Subscription }},
	"notifications.credentials_file": {kindString, func(s *domain.Settings) any { return &s.Notifications.CredentialsFile }},
	"notifications.listen_addr":      {kindString, func(s *domain.Settings) any { return &s.Notifications.ListenAddr }},
	"notifications.push_token":       {kindString, func(s *domain.Settings) any { return &s.Notifications.PushToken }},
	"notifications.watch_label_ids":  {kindList, func(s *domain.Settings) any { return &s.Notifications.WatchLabelIDs }},
	"notifications.renew_window":     {kindDuration, func(s *domain.Settings) any { return &s.Notifications.RenewWindow }},
	"notifications.settle_delay":     {kindDuration, func(s *domain.Settings) any { return &s.Notifications.SettleDelay }},

	"vector.enabled":    {kindBool, func(s *domain.Settings) any { return &s.Vector.Enabled }},
	"vector.base_url":   {kindString, func(s *domain.Settings) any { return &s.Vector.BaseURL }},
	"vector.collection": {kindString, func(s *domain.Settings) any { return &s.Vector.Collection }},
}

// schedulerTaskKeys maps task IDs to their config section (underscore
// version for TOML).
var schedulerTaskKeys = map[string]string{
	domain.TaskIDWatchRenewal:     "watch_renewal",
	domain.TaskIDCatchUpSync:      "catch_up_sync",
	domain.TaskIDPendingTransform: "pending_transform",
}

// SettingsService resolves settings from defaults, the config file and
// the environment, in increasing precedence.
type SettingsService struct {
	configStore driven.ConfigStore
	lookupEnv   func(string) (string, bool)
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		lookupEnv:   os.LookupEnv,
	}
}

// Keys returns every known configuration key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(bindings))
	for k := range bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvName returns the environment variable overriding a key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Get retrieves current settings with defaults applied.
func (s *SettingsService) Get() (*domain.Settings, error) {
	settings := domain.DefaultSettings()

	for _, key := range Keys() {
		b := bindings[key]
		if raw, ok := s.configStore.Get(key); ok {
			if err := assign(b.field(&settings), b.kind, raw); err != nil {
				return nil, fmt.Errorf("config %s: %w", key, err)
			}
		}
		if raw, ok := s.lookupEnv(EnvName(key)); ok && raw != "" {
			if err := assign(b.field(&settings), b.kind, raw); err != nil {
				return nil, fmt.Errorf("env %s: %w", EnvName(key), err)
			}
		}
	}

	settings.Scheduler = s.schedulerConfig()
	return &settings, nil
}

// Set validates and stores one configuration key.
func (s *SettingsService) Set(key string, value any) error {
	if kind, ok := schedulerKeyKind(key); ok {
		return s.setScheduler(key, kind, value)
	}
	b, ok := bindings[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	var parsed domain.Settings
	if err := assign(b.field(&parsed), b.kind, value); err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, key, err)
	}
	if key == "transform.claim_timeout" && parsed.Transform.ClaimTimeout <= 0 {
		return fmt.Errorf("%w: %s: expected a positive duration", domain.ErrInvalidInput, key)
	}
	if err := s.configStore.Set(key, value); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// setScheduler stores scheduler keys in the form schedulerConfig reads:
// booleans as bool and intervals as duration strings.
func (s *SettingsService) setScheduler(key string, kind fieldKind, value any) error {
	var stored any
	switch kind {
	case kindBool:
		b, err := toBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrInvalidInput, key, err)
		}
		stored = b
	default:
		d, err := toDuration(value)
		if err != nil || d <= 0 {
			return fmt.Errorf("%w: %s: expected a positive duration", domain.ErrInvalidInput, key)
		}
		stored = d.String()
	}
	if err := s.configStore.Set(key, stored); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Unset removes a stored key so its default applies again.
func (s *SettingsService) Unset(key string) error {
	if _, ok := bindings[key]; !ok {
		if _, ok := schedulerKeyKind(key); !ok {
			return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
		}
	}
	if err := s.configStore.Unset(key); err != nil {
		return fmt.Errorf("unset %s: %w", key, err)
	}
	return nil
}

// schedulerKeyKind reports the kind of a scheduler key.
func schedulerKeyKind(key string) (fieldKind, bool) {
	if key == "scheduler.enabled" {
		return kindBool, true
	}
	for _, section := range schedulerTaskKeys {
		switch key {
		case "scheduler." + section + ".enabled":
			return kindBool, true
		case "scheduler." + section + ".interval":
			return kindDuration, true
		}
	}
	return 0, false
}

// Validate checks the capabilities transform requires.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return settings.Validate()
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.Settings {
	return domain.DefaultSettings()
}

// schedulerConfig reads the scheduler section.
// Returns default configuration if nothing is configured.
func (s *SettingsService) schedulerConfig() domain.SchedulerConfig {
	defaults := domain.DefaultSchedulerConfig()

	if _, exists := s.configStore.Get("scheduler.enabled"); exists {
		defaults.Enabled = s.configStore.GetBool("scheduler.enabled")
	}

	for taskID, configKey := range schedulerTaskKeys {
		prefix := "scheduler." + configKey + "."
		taskCfg := defaults.TaskConfigs[taskID]

		if _, exists := s.configStore.Get(prefix + "enabled"); exists {
			taskCfg.Enabled = s.configStore.GetBool(prefix + "enabled")
		}
		// Interval is a duration string like "45m" or "1h".
		if interval := s.configStore.GetString(prefix + "interval"); interval != "" {
			if d, err := time.ParseDuration(interval); err == nil && d > 0 {
				taskCfg.Interval = d
			}
		}
		defaults.TaskConfigs[taskID] = taskCfg
	}
	return defaults
}

// assign converts a raw config or environment value into the field.
func assign(field any, kind fieldKind, raw any) error {
	switch kind {
	case kindString:
		*field.(*string) = fmt.Sprint(raw)
	case kindInt:
		n, err := toInt(raw)
		if err != nil {
			return err
		}
		*field.(*int) = n
	case kindFloat:
		f, err := toFloat(raw)
		if err != nil {
			return err
		}
		*field.(*float64) = f
	case kindBool:
		b, err := toBool(raw)
		if err != nil {
			return err
		}
		*field.(*bool) = b
	case kindDuration:
		d, err := toDuration(raw)
		if err != nil {
			return err
		}
		*field.(*time.Duration) = d
	case kindList:
		*field.(*[]string) = toList(raw)
	}
	return nil
}

func toInt(raw any) (int, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	default:
		return 0, fmt.Errorf("expected integer, got %T", raw)
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}

func toBool(raw any) (bool, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(v))
	default:
		return false, fmt.Errorf("expected boolean, got %T", raw)
	}
}

func toDuration(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case time.Duration:
		return v, nil
	case string:
		return time.ParseDuration(strings.TrimSpace(v))
	case int64:
		return time.Duration(v) * time.Second, nil
	case int:
		return time.Duration(v) * time.Second, nil
	default:
		return 0, fmt.Errorf("expected duration, got %T", raw)
	}
}

func toList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		var out []string
		for _, part := range strings.Split(fmt.Sprint(raw), ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
}
