// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// The sync engine keeps the local store in step with the provider; the
// transform orchestrator drives stored messages through the classifier,
// sanitizer and embedder stages. Services import only core packages.
package services
