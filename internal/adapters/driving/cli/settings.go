package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and change inboxd settings.

Settings are read from defaults, then the config file, then INBOXD_*
environment variables, each overriding the previous. "settings set"
writes to the config file.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration key",
	Long: `Stores one key in the config file, e.g.

  inboxd settings set embedding.base_url http://localhost:8081
  inboxd settings set sync.label_ids INBOX,SENT
  inboxd settings set transform.claim_timeout 15m`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration key so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE:  runSettingsUnset,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsUnsetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()
	printSettings(cmd.OutOrStdout(), settings)

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Set the missing keys with 'inboxd settings set' before running transform.")
	} else {
		cmd.Println("Configuration is valid.")
	}
	return nil
}

func printSettings(w io.Writer, s *domain.Settings) {
	section := func(name string, rows ...[2]string) {
		fmt.Fprintf(w, "[%s]\n", name)
		for _, r := range rows {
			fmt.Fprintf(w, "  %s: %s\n", r[0], r[1])
		}
		fmt.Fprintln(w)
	}

	section("General",
		row("Data dir", orUnset(s.DataDir)),
		row("OAuth client", orUnset(s.OAuthClientID)),
		row("OAuth secret", secret(s.OAuthClientSecret)))
	section("Sync",
		row("Concurrency", strconv.Itoa(s.Sync.Concurrency)),
		row("Page size", strconv.Itoa(s.Sync.PageSize)),
		row("Labels", orUnset(strings.Join(s.Sync.LabelIDs, ", "))),
		row("Spam and trash", yesNo(s.Sync.IncludeSpamTrash)),
		row("Rate", fmt.Sprintf("%.1f req/s, burst %d", s.Sync.RequestsPerSecond, s.Sync.Burst)),
		row("Retries", fmt.Sprintf("%d (backoff %s to %s)", s.Sync.MaxRetries, s.Sync.InitialBackoff, s.Sync.MaxBackoff)))
	section("Transform",
		row("Batch size", strconv.Itoa(s.Transform.BatchSize)),
		row("Prepare concurrency", strconv.Itoa(s.Transform.PrepareConcurrency)),
		row("Claim timeout", s.Transform.ClaimTimeout.String()))
	section("Embedding",
		row("Base URL", orUnset(s.Embedding.BaseURL)),
		row("Model", orUnset(s.Embedding.Model)),
		row("Dimensions", strconv.Itoa(s.Embedding.Dimensions)),
		row("Max tokens", strconv.Itoa(s.Embedding.MaxTokens)),
		row("Chunk target", fmt.Sprintf("%d tokens", s.Embedding.ChunkTargetTokens)),
		row("Timeout", s.Embedding.Timeout.String()))
	section("Classifier",
		row("Base URL", orUnset(s.Classifier.BaseURL)),
		row("Model", orUnset(s.Classifier.Model)),
		row("API key", secret(s.Classifier.APIKey)),
		row("Max model length", strconv.Itoa(s.Classifier.MaxModelLen)),
		row("Max body chars", strconv.Itoa(s.Classifier.MaxBodyChars)),
		row("Timeout", s.Classifier.Timeout.String()))
	section("NLP",
		row("Language URL", orUnset(s.NLP.LanguageURL)),
		row("Entity URL", orUnset(s.NLP.EntityURL)),
		row("Min confidence", strconv.FormatFloat(s.NLP.MinLanguageConfidence, 'f', 2, 64)),
		row("Default language", orUnset(s.NLP.DefaultLanguage)))
	section("Notifications",
		row("Topic", orUnset(s.Notifications.Topic)),
		row("Subscription", orUnset(s.Notifications.Subscription)),
		row("Listen address", orUnset(s.Notifications.ListenAddr)),
		row("Watch labels", orUnset(strings.Join(s.Notifications.WatchLabelIDs, ", "))),
		row("Renew window", s.Notifications.RenewWindow.String()))

	vector := row("Enabled", "no")
	if s.Vector.Enabled {
		vector = row("Enabled", fmt.Sprintf("yes (%s, collection %s)", orUnset(s.Vector.BaseURL), s.Vector.Collection))
	}
	section("Vector Index", vector)

	rows := make([][2]string, 0, len(s.Scheduler.TaskConfigs)+1)
	rows = append(rows, row("Enabled", yesNo(s.Scheduler.Enabled)))
	for _, id := range []string{domain.TaskIDWatchRenewal, domain.TaskIDCatchUpSync, domain.TaskIDPendingTransform} {
		cfg := s.Scheduler.GetTaskConfig(id)
		state := "off"
		if cfg.Enabled {
			state = "every " + cfg.Interval.String()
		}
		rows = append(rows, row(id, state))
	}
	section("Scheduler", rows...)
}

func row(label, value string) [2]string { return [2]string{label, value} }

func orUnset(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}

func secret(v string) string {
	if v == "" {
		return "(not set)"
	}
	return maskSecret(v)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	key, value := args[0], parseSettingValue(args[1])
	if err := settingsService.Set(key, value); err != nil {
		return err
	}
	cmd.Printf("%s updated.\n", key)
	return nil
}

func runSettingsUnset(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	if err := settingsService.Unset(args[0]); err != nil {
		return err
	}
	cmd.Printf("%s reset to default.\n", args[0])
	return nil
}

// parseSettingValue turns command-line text into the TOML value it is
// stored as. Durations stay strings.
func parseSettingValue(raw string) any {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if _, err := time.ParseDuration(raw); err == nil {
		return raw
	}
	if strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		list := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				list = append(list, p)
			}
		}
		return list
	}
	return raw
}
