package driven

import "context"

// LLMService produces completions for card synthesis and claim verification.
// This is an optional service - when nil, queries fail with
// domain.ErrLLMUnavailable.
//
// Implementations include:
//   - OpenAI (structured output via JSON schema)
//   - Anthropic (Claude)
//   - Gemini (JSON MIME type)
//   - Ollama (JSON format mode)
type LLMService interface {
	// Complete runs a single completion and returns the raw text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// ModelName returns the name of the LLM model being used.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// CompletionRequest configures one completion.
type CompletionRequest struct {
	// System is the system instruction.
	System string

	// Prompt is the user message.
	Prompt string

	// Schema constrains the output to JSON matching this schema when set.
	// Backends without schema support fall back to JSON mode.
	Schema *OutputSchema

	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic).
	Temperature float64
}

// OutputSchema names a JSON schema for structured output.
type OutputSchema struct {
	// Name identifies the schema to the backend.
	Name string

	// Definition is the JSON schema document.
	Definition map[string]any
}
