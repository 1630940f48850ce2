// Package cli provides the inboxd command-line interface.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
	"github.com/custodia-labs/inboxd/internal/logger"
)

// version is set at build time.
var version = "dev"

// TransformFactory builds the transform pipeline on demand. The
// enrichment adapters need configured endpoints, so construction is
// deferred until a command needs them.
type TransformFactory func(ctx context.Context) (driving.TransformOrchestrator, error)

// ServeFunc runs the long-lived daemon until ctx is cancelled.
type ServeFunc func(ctx context.Context) error

// LoginFunc obtains a token through the browser authorization flow.
type LoginFunc func(ctx context.Context) (domain.OAuthCredentials, error)

// Services are the driving ports the commands call.
type Services struct {
	Sync      driving.SyncEngine
	Messages  driving.MessageViewer
	Accounts  driving.AccountService
	Watches   driving.WatchService
	Settings  driving.SettingsService
	Transform TransformFactory
	Serve     ServeFunc
	Login     LoginFunc
}

var (
	syncEngine       driving.SyncEngine
	messageViewer    driving.MessageViewer
	accountService   driving.AccountService
	watchService     driving.WatchService
	settingsService  driving.SettingsService
	transformFactory TransformFactory
	serveFunc        ServeFunc
	loginFunc        LoginFunc
)

var rootCmd = &cobra.Command{
	Use:   "inboxd",
	Short: "Incremental Gmail sync with local classification and redaction",
	Long: `inboxd mirrors Gmail accounts into a local store, classifies every
message into a sensitivity tier, redacts personal data and embeds the
result for semantic retrieval.

Run "inboxd serve" to keep accounts in step through Gmail push
notifications, or use the individual commands for one-off runs.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")       //nolint:errcheck // flag is always registered
		timestamps, _ := cmd.Flags().GetBool("timestamps") //nolint:errcheck // flag is always registered
		logger.SetVerbose(verbose)
		logger.SetTimestamps(timestamps)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("timestamps", false, "prefix log lines with timestamps")
}

// SetServices wires the driving ports used by the commands.
func SetServices(s Services) {
	syncEngine = s.Sync
	messageViewer = s.Messages
	accountService = s.Accounts
	watchService = s.Watches
	settingsService = s.Settings
	transformFactory = s.Transform
	serveFunc = s.Serve
	loginFunc = s.Login
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// newTransformer builds the transform pipeline or explains why it cannot.
func newTransformer(ctx context.Context) (driving.TransformOrchestrator, error) {
	if transformFactory == nil {
		return nil, errors.New("transform service not configured")
	}
	return transformFactory(ctx)
}
