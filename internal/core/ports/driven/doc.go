// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - Decomposer: Splits PDF bytes into pages and segments
//   - EmbeddingService: Encodes text into fixed-dimension vectors
//   - VectorIndex: Stores vectors by segment key and ranks by similarity
//   - DocumentStore: Source of truth for documents and ingestion runs
//   - CardStore: Published cards
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - LLMService: Card synthesis. Without it, query returns ErrLLMUnavailable.
//   - KeywordIndex: BM25 ranking for hybrid retrieval.
//   - IndexJournal: Persistence for the in-memory vector index.
//   - PromptStore: Prompt overrides.
//   - CardExporter: Spreadsheet export of published cards.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
