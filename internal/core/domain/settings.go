package domain

import "time"

const unknownDescription = "Unknown"

// AIProvider identifies an AI service provider for embeddings or generation.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOllama is a local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is the OpenAI cloud API or a compatible endpoint.
	AIProviderOpenAI AIProvider = "openai"

	// AIProviderAnthropic is the Anthropic cloud API.
	AIProviderAnthropic AIProvider = "anthropic"

	// AIProviderGemini is the Google Gemini API.
	AIProviderGemini AIProvider = "gemini"

	// AIProviderHashing is an offline feature-hashing encoder with no backend.
	AIProviderHashing AIProvider = "hashing"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI, AIProviderAnthropic, AIProviderGemini, AIProviderHashing:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI || p == AIProviderAnthropic || p == AIProviderGemini
}

// IsLocal returns true if this provider runs locally.
func (p AIProvider) IsLocal() bool {
	return p == AIProviderOllama || p == AIProviderHashing
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI (cloud)"
	case AIProviderAnthropic:
		return "Anthropic (cloud)"
	case AIProviderGemini:
		return "Gemini (cloud)"
	case AIProviderHashing:
		return "Feature hashing (offline)"
	default:
		return unknownDescription
	}
}

// IndexBackend selects the vector index implementation.
type IndexBackend string

// Available index backends.
const (
	// IndexBackendMemory is an exact in-process index persisted to SQLite.
	IndexBackendMemory IndexBackend = "memory"

	// IndexBackendPgvector stores vectors in PostgreSQL with pgvector.
	IndexBackendPgvector IndexBackend = "pgvector"

	// IndexBackendWeaviate stores vectors in a Weaviate class.
	IndexBackendWeaviate IndexBackend = "weaviate"
)

// IsValid returns true if the backend is recognised.
func (b IndexBackend) IsValid() bool {
	switch b {
	case IndexBackendMemory, IndexBackendPgvector, IndexBackendWeaviate:
		return true
	default:
		return false
	}
}

// RetrievalMode defines how the retriever ranks candidates.
type RetrievalMode string

// Available retrieval modes.
const (
	// RetrievalModeVector ranks by embedding similarity only.
	RetrievalModeVector RetrievalMode = "vector"

	// RetrievalModeHybrid fuses vector and BM25 keyword ranks.
	RetrievalModeHybrid RetrievalMode = "hybrid"
)

// IsValid returns true if the mode is recognised.
func (m RetrievalMode) IsValid() bool {
	return m == RetrievalModeVector || m == RetrievalModeHybrid
}

// Description returns a human-readable description of the mode.
func (m RetrievalMode) Description() string {
	switch m {
	case RetrievalModeVector:
		return "Vector (semantic similarity)"
	case RetrievalModeHybrid:
		return "Hybrid (semantic + BM25 keyword)"
	default:
		return unknownDescription
	}
}

// TextPolicy decides what happens to segment text the encoder may not
// handle, such as non-Latin scripts sent to an English-only encoder.
type TextPolicy string

// Available text policies.
const (
	// TextPolicyPassthrough sends text to the encoder unchanged.
	TextPolicyPassthrough TextPolicy = "passthrough"

	// TextPolicyFold decomposes and strips combining marks before encoding.
	TextPolicyFold TextPolicy = "fold"

	// TextPolicyReject skips segments whose letters are mostly non-Latin.
	TextPolicyReject TextPolicy = "reject"
)

// IsValid returns true if the policy is recognised.
func (p TextPolicy) IsValid() bool {
	return p == TextPolicyPassthrough || p == TextPolicyFold || p == TextPolicyReject
}

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	// Provider is the embedding service provider.
	Provider AIProvider

	// Model is the embedding model name.
	Model string

	// BaseURL is the API endpoint (for Ollama or OpenAI-compatible servers).
	BaseURL string

	// APIKey is the API key (for cloud providers).
	APIKey string

	// Dimensions overrides the known model dimensionality when non-zero.
	Dimensions int

	// Concurrency bounds parallel embedding calls within one document.
	Concurrency int

	// RequestsPerSecond caps the backend request rate. Zero disables the limiter.
	RequestsPerSecond float64

	// TextPolicy is the language/encoding fallback.
	TextPolicy TextPolicy

	// MaxChars truncates segment text before encoding. Zero disables truncation.
	MaxChars int
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// LLMSettings holds generation provider configuration.
type LLMSettings struct {
	// Provider is the LLM service provider.
	Provider AIProvider

	// Model is the LLM model name.
	Model string

	// BaseURL is the API endpoint (for Ollama or OpenAI-compatible servers).
	BaseURL string

	// APIKey is the API key (for cloud providers).
	APIKey string

	// Temperature is the sampling temperature.
	Temperature float64

	// MaxTokens bounds the generated output.
	MaxTokens int
}

// IsConfigured returns true if the LLM provider is set up.
func (l LLMSettings) IsConfigured() bool {
	if !l.Provider.IsValid() || l.Provider == AIProviderHashing {
		return false
	}
	if l.Provider.RequiresAPIKey() && l.APIKey == "" {
		return false
	}
	return true
}

// IndexSettings holds vector index configuration.
type IndexSettings struct {
	// Backend selects the index implementation.
	Backend IndexBackend

	// DatabaseURL is the PostgreSQL connection string (pgvector).
	DatabaseURL string

	// Table is the pgvector table name.
	Table string

	// WeaviateHost is host:port of the Weaviate server.
	WeaviateHost string

	// WeaviateScheme is http or https.
	WeaviateScheme string

	// WeaviateAPIKey authenticates against Weaviate.
	WeaviateAPIKey string

	// WeaviateClass is the class holding segment vectors.
	WeaviateClass string
}

// RetrievalSettings holds retriever configuration.
type RetrievalSettings struct {
	// Mode is vector or hybrid.
	Mode RetrievalMode

	// TopK is the default number of results.
	TopK int

	// MinSimilarity drops hits scoring below this floor.
	MinSimilarity float64

	// HybridAlpha weights vector rank against BM25 rank.
	HybridAlpha float64
}

// CardSettings holds card synthesis configuration.
type CardSettings struct {
	// TopK is the number of segments retrieved for the query itself.
	TopK int

	// PerFieldK is the number of segments retrieved per field hint.
	PerFieldK int

	// MaxContextSegments caps the segments placed in the prompt.
	MaxContextSegments int

	// MaxContextChars caps the prompt context size.
	MaxContextChars int

	// MaxAttempts bounds generation attempts on malformed output.
	MaxAttempts int

	// Greenwashing enables claim verification.
	Greenwashing bool
}

// IngestSettings holds ingestion configuration.
type IngestSettings struct {
	// Workers bounds concurrently ingested documents.
	Workers int

	// Pipeline configures segment post-processors.
	Pipeline PipelineConfig
}

// RetrySettings holds backoff configuration for backend calls.
type RetrySettings struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// TimeoutSettings holds the deadline for each blocking point.
type TimeoutSettings struct {
	Embedding  time.Duration
	Generation time.Duration
	IndexWrite time.Duration
}

// Settings holds all application settings.
type Settings struct {
	// DataDir holds the SQLite database and prompt overrides.
	DataDir string

	Embedding EmbeddingSettings
	LLM       LLMSettings
	Index     IndexSettings
	Retrieval RetrievalSettings
	Card      CardSettings
	Ingest    IngestSettings
	Retry     RetrySettings
	Timeouts  TimeoutSettings
}

// DefaultSettings returns settings with working defaults.
// The offline hashing encoder lets ingestion run without any backend;
// generation has no default provider.
func DefaultSettings() Settings {
	return Settings{
		Embedding: EmbeddingSettings{
			Provider:    AIProviderHashing,
			Model:       "hashing-v1",
			Concurrency: 4,
			TextPolicy:  TextPolicyPassthrough,
		},
		LLM: LLMSettings{
			Temperature: 0,
			MaxTokens:   2048,
		},
		Index: IndexSettings{
			Backend:        IndexBackendMemory,
			Table:          "segment_vectors",
			WeaviateScheme: "http",
			WeaviateClass:  "DeskragSegment",
		},
		Retrieval: RetrievalSettings{
			Mode:          RetrievalModeVector,
			TopK:          8,
			MinSimilarity: 0.2,
			HybridAlpha:   0.6,
		},
		Card: CardSettings{
			TopK:               8,
			PerFieldK:          2,
			MaxContextSegments: 24,
			MaxContextChars:    24000,
			MaxAttempts:        3,
		},
		Ingest: IngestSettings{
			Workers:  2,
			Pipeline: DefaultPipelineConfig(),
		},
		Retry: RetrySettings{
			MaxAttempts:    4,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     8 * time.Second,
		},
		Timeouts: TimeoutSettings{
			Embedding:  30 * time.Second,
			Generation: 120 * time.Second,
			IndexWrite: 10 * time.Second,
		},
	}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:  "nomic-embed-text",
		AIProviderOpenAI:  "text-embedding-3-small",
		AIProviderGemini:  "text-embedding-004",
		AIProviderHashing: "hashing-v1",
	}
}

// DefaultLLMModels returns default models for each LLM provider.
func DefaultLLMModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama:    "llama3.2",
		AIProviderOpenAI:    "gpt-4o-mini",
		AIProviderAnthropic: "claude-3-5-sonnet-latest",
		AIProviderGemini:    "gemini-1.5-flash",
	}
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		// Ollama models
		"nomic-embed-text":  768,
		"mxbai-embed-large": 1024,
		"all-minilm":        384,
		// OpenAI models
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
		// Gemini models
		"text-embedding-004": 768,
		// Offline
		"hashing-v1": 512,
	}
}

// PipelineConfig holds segment post-processor configuration.
// Uses generic map-based config so new processors can be added
// without modifying this struct.
type PipelineConfig struct {
	// Processors is the ordered list of processor names to run.
	Processors []string

	// ProcessorConfigs holds per-processor configuration as generic maps.
	ProcessorConfigs map[string]map[string]any
}

// GetProcessorConfig returns config for a specific processor, or nil if not set.
func (c *PipelineConfig) GetProcessorConfig(name string) map[string]any {
	if c.ProcessorConfigs == nil {
		return nil
	}
	return c.ProcessorConfigs[name]
}

// DefaultPipelineConfig runs unit normalisation and table captioning.
// Long-block chunking is off unless max_chars is configured, so a page
// without structure stays a single segment.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Processors: []string{"units", "caption"},
		ProcessorConfigs: map[string]map[string]any{
			"chunker": {
				"max_chars": 0,
			},
		},
	}
}
