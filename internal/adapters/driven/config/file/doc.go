// Package file provides file-based implementations of driven port interfaces.
//
// Adapters:
//   - ConfigStore: TOML configuration at ~/.deskrag/config.toml
//   - EnvConfigStore: environment overrides layered on any ConfigStore
//   - PromptStore: user-editable prompt templates in ~/.deskrag/prompts
package file
