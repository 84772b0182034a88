package services

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyDataDir = "data_dir"

	keyEmbedProvider    = "embedding.provider"
	keyEmbedModel       = "embedding.model"
	keyEmbedBaseURL     = "embedding.base_url"
	keyEmbedAPIKey      = "embedding.api_key"
	keyEmbedDimensions  = "embedding.dimensions"
	keyEmbedConcurrency = "embedding.concurrency"
	keyEmbedRPS         = "embedding.requests_per_second"
	keyEmbedTextPolicy  = "embedding.text_policy"
	keyEmbedMaxChars    = "embedding.max_chars"

	keyLLMProvider    = "llm.provider"
	keyLLMModel       = "llm.model"
	keyLLMBaseURL     = "llm.base_url"
	keyLLMAPIKey      = "llm.api_key"
	keyLLMTemperature = "llm.temperature"
	keyLLMMaxTokens   = "llm.max_tokens"

	keyIndexBackend        = "index.backend"
	keyIndexDatabaseURL    = "index.database_url"
	keyIndexTable          = "index.table"
	keyIndexWeaviateHost   = "index.weaviate_host"
	keyIndexWeaviateScheme = "index.weaviate_scheme"
	keyIndexWeaviateAPIKey = "index.weaviate_api_key"
	keyIndexWeaviateClass  = "index.weaviate_class"

	keyRetrievalMode  = "retrieval.mode"
	keyRetrievalTopK  = "retrieval.top_k"
	keyRetrievalFloor = "retrieval.min_similarity"
	keyRetrievalAlpha = "retrieval.hybrid_alpha"

	keyCardTopK         = "card.top_k"
	keyCardPerFieldK    = "card.per_field_k"
	keyCardMaxSegments  = "card.max_context_segments"
	keyCardMaxChars     = "card.max_context_chars"
	keyCardMaxAttempts  = "card.max_attempts"
	keyCardGreenwashing = "card.greenwashing"

	keyIngestWorkers      = "ingest.workers"
	keyPipelineProcessors = "pipeline.processors"

	keyRetryMaxAttempts    = "retry.max_attempts"
	keyRetryInitialBackoff = "retry.initial_backoff"
	keyRetryMaxBackoff     = "retry.max_backoff"

	keyTimeoutEmbedding  = "timeouts.embedding"
	keyTimeoutGeneration = "timeouts.generation"
	keyTimeoutIndexWrite = "timeouts.index_write"
)

type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindFloat
	kindBool
	kindDuration
	kindList
)

// settingKeys is the settable surface in display order.
var settingKeys = []struct {
	key  string
	kind keyKind
}{
	{keyDataDir, kindString},
	{keyEmbedProvider, kindString},
	{keyEmbedModel, kindString},
	{keyEmbedBaseURL, kindString},
	{keyEmbedAPIKey, kindString},
	{keyEmbedDimensions, kindInt},
	{keyEmbedConcurrency, kindInt},
	{keyEmbedRPS, kindFloat},
	{keyEmbedTextPolicy, kindString},
	{keyEmbedMaxChars, kindInt},
	{keyLLMProvider, kindString},
	{keyLLMModel, kindString},
	{keyLLMBaseURL, kindString},
	{keyLLMAPIKey, kindString},
	{keyLLMTemperature, kindFloat},
	{keyLLMMaxTokens, kindInt},
	{keyIndexBackend, kindString},
	{keyIndexDatabaseURL, kindString},
	{keyIndexTable, kindString},
	{keyIndexWeaviateHost, kindString},
	{keyIndexWeaviateScheme, kindString},
	{keyIndexWeaviateAPIKey, kindString},
	{keyIndexWeaviateClass, kindString},
	{keyRetrievalMode, kindString},
	{keyRetrievalTopK, kindInt},
	{keyRetrievalFloor, kindFloat},
	{keyRetrievalAlpha, kindFloat},
	{keyCardTopK, kindInt},
	{keyCardPerFieldK, kindInt},
	{keyCardMaxSegments, kindInt},
	{keyCardMaxChars, kindInt},
	{keyCardMaxAttempts, kindInt},
	{keyCardGreenwashing, kindBool},
	{keyIngestWorkers, kindInt},
	{keyPipelineProcessors, kindList},
	{keyRetryMaxAttempts, kindInt},
	{keyRetryInitialBackoff, kindDuration},
	{keyRetryMaxBackoff, kindDuration},
	{keyTimeoutEmbedding, kindDuration},
	{keyTimeoutGeneration, kindDuration},
	{keyTimeoutIndexWrite, kindDuration},
}

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
	aiValidator driven.AIConfigValidator
}

// NewSettingsService creates a new settings service.
// aiValidator may be nil, in which case CheckBackends is a no-op.
func NewSettingsService(configStore driven.ConfigStore, aiValidator driven.AIConfigValidator) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		aiValidator: aiValidator,
	}
}

// Get retrieves current application settings.
func (s *SettingsService) Get() (*domain.Settings, error) {
	d := domain.DefaultSettings()

	embedProvider := domain.AIProvider(s.getString(keyEmbedProvider, string(d.Embedding.Provider)))
	embedModel := s.getString(keyEmbedModel, "")
	if embedModel == "" {
		embedModel = domain.DefaultEmbeddingModels()[embedProvider]
	}
	llmProvider := domain.AIProvider(s.getString(keyLLMProvider, string(d.LLM.Provider)))
	llmModel := s.getString(keyLLMModel, "")
	if llmModel == "" {
		llmModel = domain.DefaultLLMModels()[llmProvider]
	}

	settings := &domain.Settings{
		DataDir: s.getString(keyDataDir, d.DataDir),
		Embedding: domain.EmbeddingSettings{
			Provider:          embedProvider,
			Model:             embedModel,
			BaseURL:           s.configStore.GetString(keyEmbedBaseURL), // No default - empty is valid for cloud providers
			APIKey:            s.configStore.GetString(keyEmbedAPIKey),
			Dimensions:        s.getInt(keyEmbedDimensions, d.Embedding.Dimensions),
			Concurrency:       s.getInt(keyEmbedConcurrency, d.Embedding.Concurrency),
			RequestsPerSecond: s.getFloat(keyEmbedRPS, d.Embedding.RequestsPerSecond),
			TextPolicy:        domain.TextPolicy(s.getString(keyEmbedTextPolicy, string(d.Embedding.TextPolicy))),
			MaxChars:          s.getInt(keyEmbedMaxChars, d.Embedding.MaxChars),
		},
		LLM: domain.LLMSettings{
			Provider:    llmProvider,
			Model:       llmModel,
			BaseURL:     s.configStore.GetString(keyLLMBaseURL),
			APIKey:      s.configStore.GetString(keyLLMAPIKey),
			Temperature: s.getFloat(keyLLMTemperature, d.LLM.Temperature),
			MaxTokens:   s.getInt(keyLLMMaxTokens, d.LLM.MaxTokens),
		},
		Index: domain.IndexSettings{
			Backend:        domain.IndexBackend(s.getString(keyIndexBackend, string(d.Index.Backend))),
			DatabaseURL:    s.configStore.GetString(keyIndexDatabaseURL),
			Table:          s.getString(keyIndexTable, d.Index.Table),
			WeaviateHost:   s.configStore.GetString(keyIndexWeaviateHost),
			WeaviateScheme: s.getString(keyIndexWeaviateScheme, d.Index.WeaviateScheme),
			WeaviateAPIKey: s.configStore.GetString(keyIndexWeaviateAPIKey),
			WeaviateClass:  s.getString(keyIndexWeaviateClass, d.Index.WeaviateClass),
		},
		Retrieval: domain.RetrievalSettings{
			Mode:          domain.RetrievalMode(s.getString(keyRetrievalMode, string(d.Retrieval.Mode))),
			TopK:          s.getInt(keyRetrievalTopK, d.Retrieval.TopK),
			MinSimilarity: s.getFloat(keyRetrievalFloor, d.Retrieval.MinSimilarity),
			HybridAlpha:   s.getFloat(keyRetrievalAlpha, d.Retrieval.HybridAlpha),
		},
		Card: domain.CardSettings{
			TopK:               s.getInt(keyCardTopK, d.Card.TopK),
			PerFieldK:          s.getInt(keyCardPerFieldK, d.Card.PerFieldK),
			MaxContextSegments: s.getInt(keyCardMaxSegments, d.Card.MaxContextSegments),
			MaxContextChars:    s.getInt(keyCardMaxChars, d.Card.MaxContextChars),
			MaxAttempts:        s.getInt(keyCardMaxAttempts, d.Card.MaxAttempts),
			Greenwashing:       s.getBool(keyCardGreenwashing, d.Card.Greenwashing),
		},
		Ingest: domain.IngestSettings{
			Workers:  s.getInt(keyIngestWorkers, d.Ingest.Workers),
			Pipeline: s.GetPipelineConfig(),
		},
		Retry: domain.RetrySettings{
			MaxAttempts:    s.getInt(keyRetryMaxAttempts, d.Retry.MaxAttempts),
			InitialBackoff: s.getDuration(keyRetryInitialBackoff, d.Retry.InitialBackoff),
			MaxBackoff:     s.getDuration(keyRetryMaxBackoff, d.Retry.MaxBackoff),
		},
		Timeouts: domain.TimeoutSettings{
			Embedding:  s.getDuration(keyTimeoutEmbedding, d.Timeouts.Embedding),
			Generation: s.getDuration(keyTimeoutGeneration, d.Timeouts.Generation),
			IndexWrite: s.getDuration(keyTimeoutIndexWrite, d.Timeouts.IndexWrite),
		},
	}

	if err := s.Validate(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// Set parses value according to the key's type and persists it.
func (s *SettingsService) Set(key, value string) error {
	kind, ok := lookupKind(key)
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}

	var typed any
	switch kind {
	case kindString:
		typed = value
	case kindInt:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s expects an integer", domain.ErrInvalidInput, key)
		}
		typed = n
	case kindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s expects a number", domain.ErrInvalidInput, key)
		}
		typed = f
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s expects true or false", domain.ErrInvalidInput, key)
		}
		typed = b
	case kindDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%w: %s expects a duration such as 30s", domain.ErrInvalidInput, key)
		}
		typed = value
	case kindList:
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		typed = items
	}

	// Resolve against the candidate value before persisting it.
	candidate := &SettingsService{configStore: &overlayConfig{ConfigStore: s.configStore, key: key, value: typed}}
	if _, err := candidate.Get(); err != nil {
		return err
	}
	if err := s.configStore.Set(key, typed); err != nil {
		return fmt.Errorf("save setting: %w", err)
	}
	return nil
}

// Keys lists the settable keys in display order.
func (s *SettingsService) Keys() []string {
	keys := make([]string, len(settingKeys))
	for i, k := range settingKeys {
		keys[i] = k.key
	}
	return keys
}

// Validate checks that enumerated values are known and numeric ranges hold.
func (s *SettingsService) Validate(settings *domain.Settings) error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidInput}, args...)...))
	}

	if !settings.Embedding.Provider.IsValid() || settings.Embedding.Provider == domain.AIProviderAnthropic {
		invalid("embedding provider %q (use ollama, openai, gemini or hashing)", settings.Embedding.Provider)
	}
	if settings.LLM.Provider != "" && (!settings.LLM.Provider.IsValid() || settings.LLM.Provider == domain.AIProviderHashing) {
		invalid("llm provider %q (use ollama, openai, anthropic or gemini)", settings.LLM.Provider)
	}
	if !settings.Embedding.TextPolicy.IsValid() {
		invalid("text policy %q", settings.Embedding.TextPolicy)
	}
	if !settings.Index.Backend.IsValid() {
		invalid("index backend %q", settings.Index.Backend)
	}
	if !settings.Retrieval.Mode.IsValid() {
		invalid("retrieval mode %q", settings.Retrieval.Mode)
	}
	if f := settings.Retrieval.MinSimilarity; f < 0 || f > 1 {
		invalid("retrieval.min_similarity %v outside [0,1]", f)
	}
	if a := settings.Retrieval.HybridAlpha; a < 0 || a > 1 {
		invalid("retrieval.hybrid_alpha %v outside [0,1]", a)
	}
	for key, n := range map[string]int{
		keyRetrievalTopK:    settings.Retrieval.TopK,
		keyCardTopK:         settings.Card.TopK,
		keyCardMaxAttempts:  settings.Card.MaxAttempts,
		keyIngestWorkers:    settings.Ingest.Workers,
		keyEmbedConcurrency: settings.Embedding.Concurrency,
		keyRetryMaxAttempts: settings.Retry.MaxAttempts,
	} {
		if n < 1 {
			invalid("%s must be at least 1", key)
		}
	}
	if settings.Embedding.Dimensions < 0 || settings.Embedding.MaxChars < 0 || settings.Embedding.RequestsPerSecond < 0 {
		invalid("embedding dimensions, max_chars and requests_per_second must not be negative")
	}
	return errors.Join(errs...)
}

// CheckBackends pings the configured embedding and LLM providers.
func (s *SettingsService) CheckBackends() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	if err := s.aiValidator.ValidateEmbedding(&settings.Embedding); err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if err := s.aiValidator.ValidateLLM(&settings.LLM); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	return nil
}

// GetPipelineConfig returns the post-processor pipeline configuration.
// Returns default configuration if nothing is configured.
func (s *SettingsService) GetPipelineConfig() domain.PipelineConfig {
	cfg := domain.DefaultPipelineConfig()

	if processors := s.configStore.GetStringSlice(keyPipelineProcessors); len(processors) > 0 {
		cfg.Processors = processors
	}

	// Per-processor tables, e.g. [pipeline.chunker] max_chars = 1200.
	for _, name := range []string{"units", "caption", "chunker"} {
		prefix := "pipeline." + name + "."
		for _, key := range []string{"max_chars", "overlap"} {
			val, exists := s.configStore.Get(prefix + key)
			if !exists {
				continue
			}
			if cfg.ProcessorConfigs[name] == nil {
				cfg.ProcessorConfigs[name] = make(map[string]any)
			}
			cfg.ProcessorConfigs[name][key] = val
		}
	}

	return cfg
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	if val := s.configStore.GetString(key); val != "" {
		return val
	}
	return defaultVal
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	if _, exists := s.configStore.Get(key); exists {
		return s.configStore.GetInt(key)
	}
	return defaultVal
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); exists {
		return s.configStore.GetFloat(key)
	}
	return defaultVal
}

func (s *SettingsService) getBool(key string, defaultVal bool) bool {
	if _, exists := s.configStore.Get(key); exists {
		return s.configStore.GetBool(key)
	}
	return defaultVal
}

// getDuration accepts "30s" strings or a bare number of seconds.
func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	if str := s.configStore.GetString(key); str != "" {
		if d, err := time.ParseDuration(str); err == nil {
			return d
		}
		return defaultVal
	}
	if _, exists := s.configStore.Get(key); exists {
		if secs := s.configStore.GetFloat(key); secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return defaultVal
}

func lookupKind(key string) (keyKind, bool) {
	for _, k := range settingKeys {
		if k.key == key {
			return k.kind, true
		}
	}
	return 0, false
}

// overlayConfig shadows one key of a ConfigStore for validation.
type overlayConfig struct {
	driven.ConfigStore
	key   string
	value any
}

func (o *overlayConfig) Get(key string) (any, bool) {
	if key == o.key {
		return o.value, true
	}
	return o.ConfigStore.Get(key)
}

func (o *overlayConfig) GetString(key string) string {
	if key == o.key {
		str, _ := o.value.(string)
		return str
	}
	return o.ConfigStore.GetString(key)
}

func (o *overlayConfig) GetInt(key string) int {
	if key == o.key {
		n, _ := o.value.(int64)
		return int(n)
	}
	return o.ConfigStore.GetInt(key)
}

func (o *overlayConfig) GetFloat(key string) float64 {
	if key == o.key {
		f, _ := o.value.(float64)
		return f
	}
	return o.ConfigStore.GetFloat(key)
}

func (o *overlayConfig) GetBool(key string) bool {
	if key == o.key {
		b, _ := o.value.(bool)
		return b
	}
	return o.ConfigStore.GetBool(key)
}

func (o *overlayConfig) GetStringSlice(key string) []string {
	if key == o.key {
		items, _ := o.value.([]string)
		return items
	}
	return o.ConfigStore.GetStringSlice(key)
}
