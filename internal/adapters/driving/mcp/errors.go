// Package mcp provides an MCP (Model Context Protocol) server adapter for inboxd.
// It lets AI assistants read stored mail through the same tier policy as
// the get-email command.
package mcp

import "errors"

// ErrMissingMessageViewer is returned when the message viewer is not provided.
var ErrMissingMessageViewer = errors.New("mcp: message viewer is required")
