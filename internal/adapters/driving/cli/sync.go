package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
)

var syncCmd = &cobra.Command{
	Use:   "sync [account-id]",
	Short: "Synchronise messages from Gmail",
	Long: `Brings the local store in step with Gmail.

If an account ID is provided, only that account is synchronised.
Otherwise, all accounts are synchronised. Accounts with a valid cursor
replay the change log since the last run; the others get a full listing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().Int("limit", 0, "stop after this many messages (leaves the cursor unchanged)")
	syncCmd.Flags().Int("concurrency", 0, "parallel message fetches (0 = configured default)")
	syncCmd.Flags().Bool("full", false, "ignore the cursor and list every message")
	syncCmd.Flags().Bool("reset-cursor", false, "clear the stored cursor before syncing")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if syncEngine == nil {
		return errors.New("sync service not configured")
	}

	ctx := cmd.Context()
	opts, err := syncOptionsFromFlags(cmd)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		cmd.Println("Synchronising all accounts...")
		if err := syncEngine.SyncAll(ctx, opts); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		cmd.Println("All accounts synchronised successfully.")
		return nil
	}

	accountID := args[0]
	if reset, _ := cmd.Flags().GetBool("reset-cursor"); reset { //nolint:errcheck // flag is registered above
		if err := syncEngine.ResetCursor(ctx, accountID); err != nil {
			return fmt.Errorf("reset cursor: %w", err)
		}
		cmd.Printf("Cursor cleared for %s.\n", accountID)
	}

	cmd.Printf("Synchronising account: %s...\n", accountID)
	report, err := syncWithProgress(ctx, cmd, syncEngine, accountID, opts)
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	printSyncReport(cmd.OutOrStdout(), report)
	return nil
}

func syncOptionsFromFlags(cmd *cobra.Command) (domain.SyncOptions, error) {
	var opts domain.SyncOptions
	var err error
	if opts.Limit, err = cmd.Flags().GetInt("limit"); err != nil {
		return opts, fmt.Errorf("getting limit flag: %w", err)
	}
	if opts.Concurrency, err = cmd.Flags().GetInt("concurrency"); err != nil {
		return opts, fmt.Errorf("getting concurrency flag: %w", err)
	}
	if opts.ForceFull, err = cmd.Flags().GetBool("full"); err != nil {
		return opts, fmt.Errorf("getting full flag: %w", err)
	}
	if opts.Limit < 0 || opts.Concurrency < 0 {
		return opts, fmt.Errorf("%w: limit and concurrency must not be negative", domain.ErrInvalidInput)
	}
	return opts, nil
}

// syncWithProgress runs sync while displaying progress updates.
func syncWithProgress(
	ctx context.Context,
	cmd *cobra.Command,
	engine driving.SyncEngine,
	accountID string,
	opts domain.SyncOptions,
) (*domain.SyncReport, error) {
	type result struct {
		report *domain.SyncReport
		err    error
	}

	// Start sync in goroutine
	resCh := make(chan result, 1)
	go func() {
		report, err := engine.Sync(ctx, accountID, opts)
		resCh <- result{report, err}
	}()

	// Poll status every 500ms
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastCount := 0
	for {
		select {
		case res := <-resCh:
			if lastCount > 0 {
				cmd.Println()
			}
			return res.report, res.err
		case <-ticker.C:
			// Best effort
			status, statusErr := engine.Status(ctx, accountID)
			if statusErr == nil && status != nil && status.MessagesProcessed > lastCount {
				cmd.Printf("\rProcessing (%s)... %d messages", status.Mode, status.MessagesProcessed)
				lastCount = status.MessagesProcessed
			}
		}
	}
}

func printSyncReport(w io.Writer, r *domain.SyncReport) {
	if r == nil {
		return
	}
	mode := string(r.Mode)
	if r.FellBack {
		mode += " (cursor expired, fell back)"
	}
	fmt.Fprintf(w, "Account %s synchronised: %s sync, %d pages\n", r.AccountID, mode, r.Pages)
	fmt.Fprintf(w, "  fetched %d, skipped %d, relabelled %d, tombstoned %d\n",
		r.Fetched, r.Skipped, r.Relabelled, r.Tombstoned)
	if r.RateLimited > 0 {
		fmt.Fprintf(w, "  rate limited %d times\n", r.RateLimited)
	}
	if r.Cursor != "" && r.Cursor != r.PreviousCursor {
		fmt.Fprintf(w, "  cursor advanced to %s\n", r.Cursor)
	}
	if r.Recommendation != "" {
		fmt.Fprintf(w, "  %s\n", r.Recommendation)
	}
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  took %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
}
