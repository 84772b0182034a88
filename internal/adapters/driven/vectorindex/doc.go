// Package vectorindex holds the vector index backends, the Swappable
// wrapper used to replace a live index during reindexing, and Stale, which
// stands in for stored vectors the current encoder cannot use.
//
// Backends:
//   - memory: exact cosine search with an optional persistent journal
//   - pgvector: PostgreSQL with the pgvector extension
//   - weaviate: Weaviate nearVector search
package vectorindex
