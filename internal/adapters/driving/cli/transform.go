package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/inboxd/internal/adapters/driving/tui"
	"github.com/custodia-labs/inboxd/internal/core/domain"
)

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Classify, redact and embed stored messages",
	Long: `Runs stored messages through the transform pipeline: sensitivity
classification, personal data redaction and embedding.

Without flags every message that has not completed a transform is
processed. --force re-processes completed messages as well and asks for
confirmation first.`,
	Args: cobra.NoArgs,
	RunE: runTransform,
}

func init() {
	transformCmd.Flags().String("account", "", "limit the run to one account")
	transformCmd.Flags().String("message", "", "transform a single message")
	transformCmd.Flags().Bool("force", false, "re-transform completed messages")
	transformCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	transformCmd.Flags().Int("batch-size", 0, "messages per batch (0 = configured default)")
	transformCmd.Flags().Int("limit", 0, "cap the number of selected messages")
	transformCmd.Flags().Bool("plain", false, "print progress lines instead of the interactive view")
	rootCmd.AddCommand(transformCmd)
}

func transformOptionsFromFlags(cmd *cobra.Command) (domain.TransformOptions, error) {
	var opts domain.TransformOptions
	var err error
	flags := cmd.Flags()
	if opts.AccountID, err = flags.GetString("account"); err != nil {
		return opts, err
	}
	if opts.MessageID, err = flags.GetString("message"); err != nil {
		return opts, err
	}
	if opts.Force, err = flags.GetBool("force"); err != nil {
		return opts, err
	}
	if opts.BatchSize, err = flags.GetInt("batch-size"); err != nil {
		return opts, err
	}
	if opts.Limit, err = flags.GetInt("limit"); err != nil {
		return opts, err
	}
	if opts.BatchSize < 0 || opts.Limit < 0 {
		return opts, fmt.Errorf("%w: batch size and limit must not be negative", domain.ErrInvalidInput)
	}
	return opts, nil
}

func runTransform(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	orchestrator, err := newTransformer(ctx)
	if err != nil {
		return err
	}

	opts, err := transformOptionsFromFlags(cmd)
	if err != nil {
		return err
	}

	if err := orchestrator.Preflight(ctx); err != nil {
		return fmt.Errorf("preflight failed (run \"inboxd validate\" for details): %w", err)
	}

	plan, err := orchestrator.Plan(ctx, opts)
	if err != nil {
		return fmt.Errorf("planning transform: %w", err)
	}
	if plan.Total == 0 {
		cmd.Println("Nothing to transform.")
		return nil
	}

	cmd.Printf("Selected %d messages (%s).\n", plan.Total, plan.Scope)
	if plan.Force {
		yes, _ := cmd.Flags().GetBool("yes") //nolint:errcheck // flag is registered above
		if !yes {
			ok, err := confirm(cmd, "Completed messages will be re-classified and re-embedded. Continue?")
			if err != nil {
				return err
			}
			if !ok {
				cmd.Println("Aborted.")
				return nil
			}
		}
		opts.Confirmed = true
	}

	plain, _ := cmd.Flags().GetBool("plain") //nolint:errcheck // flag is registered above
	out := cmd.OutOrStdout()

	var report *domain.TransformReport
	if !plain && isTerminal(out) {
		report, err = tui.RunTransform(ctx, orchestrator, opts, plan.Scope)
	} else {
		opts.OnProgress = func(p domain.TransformProgress) {
			fmt.Fprintf(out, "batch %d/%d: processed %d/%d, failed %d\n",
				p.Batch, p.Batches, p.Processed, p.Total, p.Failed)
		}
		report, err = orchestrator.Run(ctx, opts)
	}

	printTransformReport(out, report)
	if err != nil {
		if errors.Is(err, domain.ErrCapabilityMissing) || errors.Is(err, domain.ErrServiceUnavailable) {
			return fmt.Errorf("transform stopped, completed batches are kept: %w", err)
		}
		return fmt.Errorf("transform failed: %w", err)
	}
	return nil
}

func printTransformReport(w io.Writer, r *domain.TransformReport) {
	if r == nil {
		return
	}
	fmt.Fprintf(w, "Transformed %d of %d messages (%d failed, %d claimed elsewhere)\n",
		r.Processed, r.Total, r.Failed, r.Contended)
	fmt.Fprintf(w, "  tiers:")
	for _, t := range domain.AllTiers {
		fmt.Fprintf(w, " %s %d", t, r.ByTier[t])
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  bodies embedded whole %d, chunked %d\n", r.BodyFull, r.BodyChunked)

	if len(r.Failures) > 0 {
		ids := make([]string, 0, len(r.Failures))
		for id := range r.Failures {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintln(w, "  failures:")
		for _, id := range ids {
			fmt.Fprintf(w, "    %s: %s\n", id, r.Failures[id])
		}
	}
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		fmt.Fprintf(w, "  took %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
}

var resetTransformCmd = &cobra.Command{
	Use:   "reset-transform [account-id]",
	Short: "Clear transform results so messages are processed again",
	Long: `Clears classification, redaction and embedding results so the next
transform run processes the messages again. Without an account ID the
results of every account are cleared.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runResetTransform,
}

func init() {
	resetTransformCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	rootCmd.AddCommand(resetTransformCmd)
}

func runResetTransform(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	orchestrator, err := newTransformer(ctx)
	if err != nil {
		return err
	}

	accountID := ""
	scope := "all accounts"
	if len(args) > 0 {
		accountID = args[0]
		scope = "account " + accountID
	}

	yes, _ := cmd.Flags().GetBool("yes") //nolint:errcheck // flag is registered above
	if !yes {
		ok, err := confirm(cmd, fmt.Sprintf("Clear transform results for %s?", scope))
		if err != nil {
			return err
		}
		if !ok {
			cmd.Println("Aborted.")
			return nil
		}
	}

	n, err := orchestrator.Reset(ctx, accountID)
	if err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	cmd.Printf("Cleared transform results of %d messages.\n", n)
	return nil
}
