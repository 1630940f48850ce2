package driven

// PromptStore provides access to LLM prompt templates.
// Implementations may load prompts from files, embed them in the binary,
// or fetch them from a remote configuration service.
type PromptStore interface {
	// Load returns the prompt template for the given name.
	// If the prompt is not found, implementations should return a sensible
	// default or an error, depending on whether the prompt is required.
	Load(name string) (string, error)

	// Reload clears any cached prompts, forcing fresh loads on next access.
	Reload()
}

// Well-known prompt names.
//
// Classification templates use {sender}, {subject}, {body_preview},
// {labels}, {has_attachments} and {output_labels} placeholders.
const (
	// PromptClassifySystem is the system message of the classification call.
	PromptClassifySystem = "classify_system"

	// PromptClassifyUser is the user message of the classification call.
	PromptClassifyUser = "classify_user"
)
