package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/inboxd/internal/core/domain"
	"github.com/custodia-labs/inboxd/internal/core/ports/driving"
)

var getEmailCmd = &cobra.Command{
	Use:   "get-email <message-id>",
	Short: "Show a message through the redaction policy",
	Long: `Prints a stored message as external consumers see it. SENSITIVE
bodies are withheld and PERSONAL bodies are shown redacted.

--full includes the body, --raw adds transform bookkeeping.`,
	Args: cobra.ExactArgs(1),
	RunE: runGetEmail,
}

func init() {
	getEmailCmd.Flags().Bool("full", false, "include the message body")
	getEmailCmd.Flags().Bool("raw", false, "include transform bookkeeping (implies --full)")
	getEmailCmd.Flags().Bool("json", false, "print JSON")
	rootCmd.AddCommand(getEmailCmd)
}

type emailJSON struct {
	ID                   string   `json:"id"`
	ThreadID             string   `json:"thread_id"`
	AccountID            string   `json:"account_id"`
	Subject              string   `json:"subject"`
	From                 string   `json:"from"`
	To                   []string `json:"to,omitempty"`
	Date                 string   `json:"date,omitempty"`
	Labels               []string `json:"labels,omitempty"`
	Tier                 string   `json:"tier"`
	Snippet              string   `json:"snippet,omitempty"`
	Body                 string   `json:"body,omitempty"`
	HasAttachments       bool     `json:"has_attachments"`
	Language             string   `json:"language,omitempty"`
	TransformCompletedAt string   `json:"transform_completed_at,omitempty"`
	AttemptCount         int      `json:"attempt_count,omitempty"`
	LastError            string   `json:"last_error,omitempty"`
	Chunks               int      `json:"chunks,omitempty"`
}

func runGetEmail(cmd *cobra.Command, args []string) error {
	if messageViewer == nil {
		return errors.New("message service not configured")
	}

	full, _ := cmd.Flags().GetBool("full")   //nolint:errcheck // flag is registered above
	raw, _ := cmd.Flags().GetBool("raw")     //nolint:errcheck // flag is registered above
	asJSON, _ := cmd.Flags().GetBool("json") //nolint:errcheck // flag is registered above

	msg, err := messageViewer.Get(cmd.Context(), args[0], driving.ViewOptions{Full: full || raw, Raw: raw})
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("message %s not found", args[0])
	}
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(toEmailJSON(msg))
	}
	printEmail(cmd.OutOrStdout(), msg)
	return nil
}

func toEmailJSON(m *driving.ExternalMessage) emailJSON {
	out := emailJSON{
		ID:             m.ID,
		ThreadID:       m.ThreadID,
		AccountID:      m.AccountID,
		Subject:        m.Subject,
		From:           m.From,
		To:             m.To,
		Labels:         m.Labels,
		Tier:           m.Tier,
		Snippet:        m.Snippet,
		Body:           m.Body,
		HasAttachments: m.HasAttachments,
		Language:       m.Language,
		AttemptCount:   m.AttemptCount,
		LastError:      m.LastError,
		Chunks:         m.Chunks,
	}
	if !m.Date.IsZero() {
		out.Date = m.Date.Format(time.RFC3339)
	}
	if m.TransformCompletedAt != nil {
		out.TransformCompletedAt = m.TransformCompletedAt.Format(time.RFC3339)
	}
	return out
}

func printEmail(w io.Writer, m *driving.ExternalMessage) {
	fmt.Fprintf(w, "ID:       %s\n", m.ID)
	fmt.Fprintf(w, "Thread:   %s\n", m.ThreadID)
	fmt.Fprintf(w, "Account:  %s\n", m.AccountID)
	fmt.Fprintf(w, "Tier:     %s\n", m.Tier)
	fmt.Fprintf(w, "From:     %s\n", m.From)
	if len(m.To) > 0 {
		fmt.Fprintf(w, "To:       %s\n", strings.Join(m.To, ", "))
	}
	if !m.Date.IsZero() {
		fmt.Fprintf(w, "Date:     %s\n", m.Date.Format(time.RFC1123Z))
	}
	fmt.Fprintf(w, "Subject:  %s\n", m.Subject)
	if len(m.Labels) > 0 {
		fmt.Fprintf(w, "Labels:   %s\n", strings.Join(m.Labels, ", "))
	}
	if m.HasAttachments {
		fmt.Fprintln(w, "Attachments: yes")
	}
	if m.Language != "" {
		fmt.Fprintf(w, "Language: %s\n", m.Language)
	}

	if m.TransformCompletedAt != nil || m.AttemptCount > 0 || m.LastError != "" {
		fmt.Fprintln(w)
		if m.TransformCompletedAt != nil {
			fmt.Fprintf(w, "Transformed: %s\n", m.TransformCompletedAt.Format(time.RFC3339))
		}
		fmt.Fprintf(w, "Attempts:    %d\n", m.AttemptCount)
		fmt.Fprintf(w, "Chunks:      %d\n", m.Chunks)
		if m.LastError != "" {
			fmt.Fprintf(w, "Last error:  %s\n", m.LastError)
		}
	}

	fmt.Fprintln(w)
	if m.Body != "" {
		fmt.Fprintln(w, m.Body)
	} else {
		fmt.Fprintln(w, m.Snippet)
	}
}
