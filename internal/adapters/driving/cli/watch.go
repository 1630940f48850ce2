package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [account-id]",
	Short: "Register Gmail push notifications",
	Long: `Registers a Gmail watch so changes are published to the configured
Pub/Sub topic. Registrations lapse after about a week; --renew renews
every registration that expires within the renewal window.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Bool("renew", false, "renew registrations that are close to expiry")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if watchService == nil {
		return errors.New("watch service not configured")
	}
	ctx := cmd.Context()

	renew, _ := cmd.Flags().GetBool("renew") //nolint:errcheck // flag is registered above
	if renew || len(args) == 0 {
		n, err := watchService.RenewDue(ctx)
		if err != nil {
			return fmt.Errorf("renew watches: %w", err)
		}
		cmd.Printf("Renewed %d watch registrations.\n", n)
		return nil
	}

	expiry, err := watchService.Register(ctx, args[0])
	if err != nil {
		return fmt.Errorf("register watch: %w", err)
	}
	cmd.Printf("Watching %s until %s.\n", args[0], expiry.Local().Format("2006-01-02 15:04"))
	return nil
}
