package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// LoadDotEnv loads .env from the working directory and then from configDir.
// Variables already set in the environment are never overwritten, so the
// working directory file wins over the config directory one.
func LoadDotEnv(configDir string) error {
	paths := []string{".env"}
	if configDir != "" {
		paths = append(paths, filepath.Join(configDir, ".env"))
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// providerKeyEnv names the conventional API key variable for a provider.
var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// EnvConfigStore overlays environment variables on a ConfigStore.
//
// DESKRAG_<SECTION>_<KEY> overrides any dotted key, e.g.
// DESKRAG_LLM_MODEL for llm.model. Secrets also fall back to the
// conventional variables: OPENAI_API_KEY, ANTHROPIC_API_KEY and
// GEMINI_API_KEY for the provider's api_key, DATABASE_URL for
// index.database_url and WEAVIATE_API_KEY for index.weaviate_api_key.
//
// Writes go to the underlying store; the environment is never persisted.
type EnvConfigStore struct {
	driven.ConfigStore
	lookup func(string) (string, bool)
}

var _ driven.ConfigStore = (*EnvConfigStore)(nil)

// NewEnvConfigStore wraps store with environment overrides.
func NewEnvConfigStore(store driven.ConfigStore) *EnvConfigStore {
	return &EnvConfigStore{ConfigStore: store, lookup: os.LookupEnv}
}

// Get returns the environment override for key when one is set.
func (s *EnvConfigStore) Get(key string) (any, bool) {
	if val, ok := s.env(key); ok {
		return val, true
	}
	return s.ConfigStore.Get(key)
}

// GetString returns the environment override for key when one is set.
func (s *EnvConfigStore) GetString(key string) string {
	if val, ok := s.env(key); ok {
		return val
	}
	return s.ConfigStore.GetString(key)
}

// GetInt parses an integer override; unparseable overrides are ignored.
func (s *EnvConfigStore) GetInt(key string) int {
	if val, ok := s.env(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return s.ConfigStore.GetInt(key)
}

// GetFloat parses a numeric override; unparseable overrides are ignored.
func (s *EnvConfigStore) GetFloat(key string) float64 {
	if val, ok := s.env(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return s.ConfigStore.GetFloat(key)
}

// GetBool parses a boolean override; unparseable overrides are ignored.
func (s *EnvConfigStore) GetBool(key string) bool {
	if val, ok := s.env(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return s.ConfigStore.GetBool(key)
}

// GetStringSlice splits a comma-separated override.
func (s *EnvConfigStore) GetStringSlice(key string) []string {
	if val, ok := s.env(key); ok {
		var items []string
		for _, item := range strings.Split(val, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items
	}
	return s.ConfigStore.GetStringSlice(key)
}

func (s *EnvConfigStore) env(key string) (string, bool) {
	if val, ok := s.lookup(EnvName(key)); ok && val != "" {
		return val, true
	}

	var fallback string
	switch key {
	case "embedding.api_key", "llm.api_key":
		section := key[:len(key)-len(".api_key")]
		fallback = providerKeyEnv[s.GetString(section+".provider")]
	case "index.database_url":
		fallback = "DATABASE_URL"
	case "index.weaviate_api_key":
		fallback = "WEAVIATE_API_KEY"
	}
	if fallback == "" || s.ConfigStore.GetString(key) != "" {
		return "", false
	}
	if val, ok := s.lookup(fallback); ok && val != "" {
		return val, true
	}
	return "", false
}

// EnvName returns the override variable for a dotted key.
func EnvName(key string) string {
	out := []byte("DESKRAG_")
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c == '.':
			c = '_'
		case c >= 'a' && c <= 'z':
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}
