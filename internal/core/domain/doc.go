// Package domain defines the core business entities for inboxd.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Account: A mail source with its delta cursor and label registry
//   - Message: A stored mail message with raw and derived fields
//   - Chunk: An embedding unit cut from an over-budget body
//   - Tier: The privacy classification of a message
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
