// Package driving defines the interfaces that drivers call INTO core.
//
// These are the "driving" or "primary" ports in hexagonal architecture.
// The CLI, MCP server, HTTP API and inbox watcher depend on these
// interfaces; services in internal/core/services implement them.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or service package
package driving
