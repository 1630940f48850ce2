package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/inboxd/internal/adapters/driving/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server so assistants can read
messages through the redaction policy.

By default, the server communicates over stdio using JSON-RPC. Use
--port to serve the streamable HTTP transport instead.

Examples:
  # Stdio mode (default)
  inboxd mcp

  # HTTP mode (for MCP Inspector, remote access)
  inboxd mcp --port 8090

Client configuration:
  {
    "mcpServers": {
      "inboxd": {
        "command": "/path/to/inboxd",
        "args": ["mcp"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}

	server, err := mcp.NewServer(&mcp.Ports{
		Messages: messageViewer,
		Accounts: accountService,
	})
	if err != nil {
		return err
	}

	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on http://localhost%s\n", addr)
		return server.RunHTTP(cmd.Context(), addr)
	}

	return server.Run(cmd.Context())
}
