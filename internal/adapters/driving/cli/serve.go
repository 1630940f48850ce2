package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/inboxd/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification daemon",
	Long: `Runs inboxd as a daemon: receives Gmail push notifications through
the webhook or a Pub/Sub pull subscription, syncs the notified accounts,
transforms new messages and runs the scheduled maintenance tasks.

Stops cleanly on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveFunc == nil {
		return errors.New("daemon not configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("inboxd %s starting", version)
	err := serveFunc(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("inboxd stopped")
	return err
}
