package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View and change DeskRAG settings: embedding and LLM providers, the
vector index backend, retrieval and card synthesis limits.

Settings live in config.toml under the config directory. Environment
variables (DESKRAG_EMBEDDING_PROVIDER, DESKRAG_LLM_API_KEY, ...) and a .env
file override the stored values.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show resolved settings",
	RunE:  runConfigShow,
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print one setting",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Change one setting",
	Long: `Validates and stores a single dotted key, for example:

  deskrag config set embedding.provider ollama
  deskrag config set retrieval.mode hybrid
  deskrag config set pipeline.processors chunker,stamper`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List settable keys",
	Args:  cobra.NoArgs,
	RunE:  runConfigKeys,
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate settings and ping the AI backends",
	Args:  cobra.NoArgs,
	RunE:  runConfigCheck,
}

var configWizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Interactive setup wizard",
	Long:  `Run an interactive wizard to choose the embedding and LLM providers step by step.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigWizard,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
	configCmd.AddCommand(configCheckCmd)
	configCmd.AddCommand(configWizardCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Printf("Data dir: %s\n\n", settings.DataDir)

	cmd.Println("[Embedding]")
	printProvider(cmd, settings.Embedding.Provider, settings.Embedding.Model,
		settings.Embedding.BaseURL, settings.Embedding.APIKey, settings.Embedding.IsConfigured())
	if settings.Embedding.Dimensions > 0 {
		cmd.Printf("  Dimensions: %d\n", settings.Embedding.Dimensions)
	}
	cmd.Printf("  Text policy: %s\n", settings.Embedding.TextPolicy)
	cmd.Println()

	cmd.Println("[LLM]")
	if settings.LLM.Provider == "" {
		cmd.Println("  Provider: (not set)")
		cmd.Println("  Status: not configured")
	} else {
		printProvider(cmd, settings.LLM.Provider, settings.LLM.Model,
			settings.LLM.BaseURL, settings.LLM.APIKey, settings.LLM.IsConfigured())
	}
	cmd.Println()

	cmd.Println("[Index]")
	cmd.Printf("  Backend: %s\n", settings.Index.Backend)
	switch settings.Index.Backend {
	case domain.IndexBackendPgvector:
		cmd.Printf("  Table: %s\n", settings.Index.Table)
	case domain.IndexBackendWeaviate:
		cmd.Printf("  Host: %s://%s\n", settings.Index.WeaviateScheme, settings.Index.WeaviateHost)
		cmd.Printf("  Class: %s\n", settings.Index.WeaviateClass)
	}
	cmd.Println()

	cmd.Println("[Retrieval]")
	cmd.Printf("  Mode: %s\n", settings.Retrieval.Mode.Description())
	cmd.Printf("  Top K: %d\n", settings.Retrieval.TopK)
	cmd.Printf("  Min similarity: %.2f\n", settings.Retrieval.MinSimilarity)
	cmd.Println()

	cmd.Println("[Card]")
	cmd.Printf("  Max attempts: %d\n", settings.Card.MaxAttempts)
	cmd.Printf("  Greenwashing check: %t\n", settings.Card.Greenwashing)
	cmd.Println()

	if err := settingsService.Validate(settings); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'deskrag config wizard' to fix configuration issues.")
	} else {
		cmd.Println("Configuration is valid.")
	}

	return nil
}

func printProvider(cmd *cobra.Command, p domain.AIProvider, model, baseURL, apiKey string, configured bool) {
	cmd.Printf("  Provider: %s\n", p.Description())
	cmd.Printf("  Model: %s\n", model)
	if p.IsLocal() && baseURL != "" {
		cmd.Printf("  Base URL: %s\n", baseURL)
	}
	if p.RequiresAPIKey() {
		if apiKey != "" {
			cmd.Printf("  API Key: %s\n", maskAPIKey(apiKey))
		} else {
			cmd.Printf("  API Key: (not set)\n")
		}
	}
	status := "configured"
	if !configured {
		status = "not configured"
	}
	cmd.Printf("  Status: %s\n", status)
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	value, ok := settingValue(settings, args[0])
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, args[0])
	}
	cmd.Println(value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	if err := settingsService.Set(args[0], args[1]); err != nil {
		return fmt.Errorf("failed to set %s: %w", args[0], err)
	}

	shown := args[1]
	if strings.HasSuffix(args[0], "api_key") {
		shown = maskAPIKey(shown)
	}
	cmd.Printf("%s = %s\n", args[0], shown)
	if strings.HasPrefix(args[0], "embedding.") {
		cmd.Println("Run 'deskrag reindex' if the encoder changed.")
	}
	return nil
}

func runConfigKeys(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	for _, key := range settingsService.Keys() {
		cmd.Println(key)
	}
	return nil
}

func runConfigCheck(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Print("Validating settings... ")
	if err := settingsService.Validate(settings); err != nil {
		cmd.Println("FAILED")
		return err
	}
	cmd.Println("OK")

	cmd.Print("Contacting backends... ")
	if err := settingsService.CheckBackends(); err != nil {
		cmd.Printf("FAILED: %v\n", err)
		return fmt.Errorf("backend check failed: %w", err)
	}
	cmd.Println("OK")
	return nil
}

func runConfigWizard(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	cmd.Println("DeskRAG Setup Wizard")
	cmd.Println("====================")
	cmd.Println()

	reader := bufio.NewReader(cmd.InOrStdin())

	cmd.Println("Step 1: Embedding Provider")
	cmd.Println("--------------------------")
	embedders := []domain.AIProvider{
		domain.AIProviderHashing, domain.AIProviderOllama, domain.AIProviderOpenAI, domain.AIProviderGemini,
	}
	if err := configureProvider(cmd, reader, "embedding", embedders, domain.DefaultEmbeddingModels()); err != nil {
		return err
	}

	cmd.Println("Step 2: LLM Provider")
	cmd.Println("--------------------")
	llms := []domain.AIProvider{
		domain.AIProviderOllama, domain.AIProviderOpenAI, domain.AIProviderAnthropic, domain.AIProviderGemini,
	}
	if err := configureProvider(cmd, reader, "llm", llms, domain.DefaultLLMModels()); err != nil {
		return err
	}

	cmd.Println("Configuration Complete!")
	cmd.Println("=======================")
	cmd.Print("Contacting backends... ")
	if err := settingsService.CheckBackends(); err != nil {
		cmd.Printf("FAILED: %v\n", err)
		cmd.Println("Settings were saved. Fix the backend and run 'deskrag config check'.")
		return nil
	}
	cmd.Println("OK")
	return nil
}

// configureProvider prompts for a provider, model and API key and stores
// them under prefix.
func configureProvider(
	cmd *cobra.Command, reader *bufio.Reader, prefix string,
	providers []domain.AIProvider, defaults map[domain.AIProvider]string,
) error {
	for i, p := range providers {
		cmd.Printf("  %d. %s\n", i+1, p.Description())
	}
	cmd.Print("\nEnter choice [1]: ")
	idx := parseChoice(readLine(reader), len(providers), 1)
	selected := providers[idx-1]

	defaultModel := defaults[selected]
	cmd.Printf("Enter model name [%s]: ", defaultModel)
	model := readLine(reader)
	if model == "" {
		model = defaultModel
	}

	var apiKey string
	if selected.RequiresAPIKey() {
		cmd.Print("Enter API key: ")
		apiKey = readPassword(cmd.InOrStdin(), reader)
		cmd.Println()
		if apiKey == "" {
			return errors.New("API key is required for this provider")
		}
	}

	if err := settingsService.Set(prefix+".provider", string(selected)); err != nil {
		return fmt.Errorf("failed to configure %s provider: %w", prefix, err)
	}
	if err := settingsService.Set(prefix+".model", model); err != nil {
		return fmt.Errorf("failed to configure %s model: %w", prefix, err)
	}
	if apiKey != "" {
		if err := settingsService.Set(prefix+".api_key", apiKey); err != nil {
			return fmt.Errorf("failed to configure %s API key: %w", prefix, err)
		}
	}

	cmd.Printf("%s provider configured: %s (%s)\n\n", prefix, selected.Description(), model)
	return nil
}

// settingValue formats the resolved value of a dotted key.
func settingValue(s *domain.Settings, key string) (string, bool) {
	values := map[string]any{
		"data_dir":                      s.DataDir,
		"embedding.provider":            s.Embedding.Provider,
		"embedding.model":               s.Embedding.Model,
		"embedding.base_url":            s.Embedding.BaseURL,
		"embedding.api_key":             maskedOrEmpty(s.Embedding.APIKey),
		"embedding.dimensions":          s.Embedding.Dimensions,
		"embedding.concurrency":         s.Embedding.Concurrency,
		"embedding.requests_per_second": s.Embedding.RequestsPerSecond,
		"embedding.text_policy":         s.Embedding.TextPolicy,
		"embedding.max_chars":           s.Embedding.MaxChars,
		"llm.provider":                  s.LLM.Provider,
		"llm.model":                     s.LLM.Model,
		"llm.base_url":                  s.LLM.BaseURL,
		"llm.api_key":                   maskedOrEmpty(s.LLM.APIKey),
		"llm.temperature":               s.LLM.Temperature,
		"llm.max_tokens":                s.LLM.MaxTokens,
		"index.backend":                 s.Index.Backend,
		"index.database_url":            s.Index.DatabaseURL,
		"index.table":                   s.Index.Table,
		"index.weaviate_host":           s.Index.WeaviateHost,
		"index.weaviate_scheme":         s.Index.WeaviateScheme,
		"index.weaviate_api_key":        maskedOrEmpty(s.Index.WeaviateAPIKey),
		"index.weaviate_class":          s.Index.WeaviateClass,
		"retrieval.mode":                s.Retrieval.Mode,
		"retrieval.top_k":               s.Retrieval.TopK,
		"retrieval.min_similarity":      s.Retrieval.MinSimilarity,
		"retrieval.hybrid_alpha":        s.Retrieval.HybridAlpha,
		"card.top_k":                    s.Card.TopK,
		"card.per_field_k":              s.Card.PerFieldK,
		"card.max_context_segments":     s.Card.MaxContextSegments,
		"card.max_context_chars":        s.Card.MaxContextChars,
		"card.max_attempts":             s.Card.MaxAttempts,
		"card.greenwashing":             s.Card.Greenwashing,
		"ingest.workers":                s.Ingest.Workers,
		"pipeline.processors":           strings.Join(s.Ingest.Pipeline.Processors, ","),
		"retry.max_attempts":            s.Retry.MaxAttempts,
		"retry.initial_backoff":         s.Retry.InitialBackoff,
		"retry.max_backoff":             s.Retry.MaxBackoff,
		"timeouts.embedding":            s.Timeouts.Embedding,
		"timeouts.generation":           s.Timeouts.Generation,
		"timeouts.index_write":          s.Timeouts.IndexWrite,
	}
	v, ok := values[key]
	if !ok {
		return "", false
	}
	return fmt.Sprint(v), true
}

func maskedOrEmpty(key string) string {
	if key == "" {
		return ""
	}
	return maskAPIKey(key)
}

//nolint:errcheck // CLI helper, error ignored for UX
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func parseChoice(input string, maxVal, defaultVal int) int {
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil || val < 1 || val > maxVal {
		return defaultVal
	}
	return val
}

// readPassword reads without echo when in is a terminal and falls back to
// a plain line otherwise.
func readPassword(in io.Reader, reader *bufio.Reader) string {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return string(password)
		}
	}
	return readLine(reader)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
