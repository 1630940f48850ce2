// Package file provides file-based implementations of driven port interfaces.
// These adapters persist data under the inboxd data directory.
//
// Adapters:
//   - ConfigStore: TOML-based configuration storage
//   - PromptStore: user-editable classification prompts
package file
