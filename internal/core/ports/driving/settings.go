package driving

import "github.com/custodia-labs/deskrag/internal/core/domain"

// SettingsService resolves and updates application settings.
type SettingsService interface {
	// Get resolves settings from configuration, applying defaults for
	// every unset key.
	Get() (*domain.Settings, error)

	// Set validates and persists a single dotted key.
	Set(key, value string) error

	// Keys lists the settable keys in display order.
	Keys() []string

	// Validate checks resolved settings for consistency.
	Validate(settings *domain.Settings) error

	// CheckBackends pings the configured embedding and LLM providers.
	CheckBackends() error
}
