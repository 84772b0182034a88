package driven

// PromptStore provides access to LLM prompt templates.
// Implementations may load prompts from files or embed them in the binary.
type PromptStore interface {
	// Load returns the prompt template for the given name.
	Load(name string) (string, error)

	// Reload clears any cached prompts, forcing fresh loads on next access.
	Reload()
}

// Well-known prompt names.
const (
	// PromptCardSystem is the system instruction for card synthesis.
	// It has no format placeholders.
	PromptCardSystem = "card_system"

	// PromptCardUser frames the query and context.
	// The template expects %s (query) and %s (labelled segments).
	PromptCardUser = "card_user"

	// PromptClaimVerdict asks for an implemented/empty/unclear verdict.
	// The template expects %s (claim text).
	PromptClaimVerdict = "claim_verdict"
)
