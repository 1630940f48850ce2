package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check configuration and model service reachability",
	Long: `Checks that every key transform needs is set, then contacts the
embedding and classifier services.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Configuration: %v\n", err)
		return fmt.Errorf("validation failed: %w", err)
	}
	cmd.Println("Configuration: ok")

	ctx := cmd.Context()
	orchestrator, err := newTransformer(ctx)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if err := orchestrator.Preflight(ctx); err != nil {
		cmd.Printf("Services: %v\n", err)
		return fmt.Errorf("validation failed: %w", err)
	}
	cmd.Println("Services: ok")
	return nil
}
