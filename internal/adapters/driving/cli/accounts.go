package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/inboxd/internal/core/domain"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage Gmail accounts",
	RunE:  runAccountsList,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List accounts",
	Args:  cobra.NoArgs,
	RunE:  runAccountsList,
}

var accountsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an account from an OAuth token",
	Long: `Imports an OAuth token for a Gmail mailbox. The mailbox address is
read from the provider, so importing a new token for a known address
replaces that account's token.

With --browser the mailbox owner signs in through the browser. A token
can also come from a JSON file (access_token, refresh_token, token_type,
expiry), from flags, or be typed at the prompt.`,
	Args: cobra.NoArgs,
	RunE: runAccountsAdd,
}

func init() {
	accountsAddCmd.Flags().Bool("browser", false, "sign in through the browser")
	accountsAddCmd.Flags().String("token-file", "", "path to a JSON OAuth token")
	accountsAddCmd.Flags().String("access-token", "", "OAuth access token")
	accountsAddCmd.Flags().String("refresh-token", "", "OAuth refresh token")
	accountsCmd.AddCommand(accountsListCmd)
	accountsCmd.AddCommand(accountsAddCmd)
	rootCmd.AddCommand(accountsCmd)
}

func runAccountsList(cmd *cobra.Command, _ []string) error {
	if accountService == nil {
		return errors.New("account service not configured")
	}

	accounts, err := accountService.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		cmd.Println("No accounts. Add one with \"inboxd accounts add\".")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tADDRESS\tLAST SYNC\tWATCH EXPIRES")
	for _, a := range accounts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.EmailAddress, formatTime(a.LastSyncAt), formatTime(a.WatchExpiry))
	}
	return w.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func runAccountsAdd(cmd *cobra.Command, _ []string) error {
	if accountService == nil {
		return errors.New("account service not configured")
	}

	var (
		creds domain.OAuthCredentials
		err   error
	)
	if browser, _ := cmd.Flags().GetBool("browser"); browser { //nolint:errcheck // flag is registered above
		if loginFunc == nil {
			return errors.New("browser login not configured")
		}
		creds, err = loginFunc(cmd.Context())
		if err != nil {
			return fmt.Errorf("browser login: %w", err)
		}
	} else {
		creds, err = credentialsFromFlags(cmd)
		if err != nil {
			return err
		}
	}

	account, err := accountService.Add(cmd.Context(), creds)
	if err != nil {
		return fmt.Errorf("add account: %w", err)
	}
	cmd.Printf("Account %s ready (%s).\n", account.EmailAddress, account.ID)
	cmd.Println("Run \"inboxd sync " + account.ID + "\" for the initial sync.")
	return nil
}

func credentialsFromFlags(cmd *cobra.Command) (domain.OAuthCredentials, error) {
	var creds domain.OAuthCredentials

	path, _ := cmd.Flags().GetString("token-file") //nolint:errcheck // flag is registered above
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
		if err != nil {
			return creds, fmt.Errorf("read token file: %w", err)
		}
		if err := json.Unmarshal(data, &creds); err != nil {
			return creds, fmt.Errorf("%w: token file: %v", domain.ErrInvalidInput, err)
		}
	}

	if v, _ := cmd.Flags().GetString("access-token"); v != "" { //nolint:errcheck // flag is registered above
		creds.AccessToken = v
	}
	if v, _ := cmd.Flags().GetString("refresh-token"); v != "" { //nolint:errcheck // flag is registered above
		creds.RefreshToken = v
	}

	if creds.AccessToken == "" && creds.RefreshToken == "" {
		cmd.Print("Refresh token: ")
		creds.RefreshToken = readSecret(cmd)
		if creds.RefreshToken == "" {
			return creds, fmt.Errorf("%w: a token is required", domain.ErrInvalidInput)
		}
		cmd.Printf("Using refresh token %s\n", maskSecret(creds.RefreshToken))
	}
	if creds.TokenType == "" {
		creds.TokenType = "Bearer"
	}
	return creds, nil
}
