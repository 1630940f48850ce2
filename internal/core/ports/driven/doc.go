// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
// These must be provided for the application to function:
//
//   - AccountStore, CursorStore, LabelStore: Per-account state
//   - MessageStore: Raw message persistence written by sync
//   - TransformStore: Derived fields, claims and selection for transform
//   - SyncEventStore: Sync run history
//   - MailProvider: The provider's listing, change log and fetch calls
//   - EmbeddingService: Generates vector embeddings
//   - LLMService: Answers classification prompts
//   - LanguageDetector, EntityRecognizer: Inputs to redaction
//   - TextSplitter: Cuts over-budget bodies into chunks
//   - ConfigStore, PromptStore: Configuration and editable prompts
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - VectorIndex: Mirror of completed embeddings for external search.
//   - TokenCounter: Exact token counts. Without it, counts are estimated.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, connector, or normaliser package
package driven
