// Package domain defines the core business entities for DeskRAG.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - Document: An ingested PDF, identified by its content checksum
//   - Page: A 1-based page holding ordered segments
//   - Segment: A narrative block or table with a stable provenance key
//   - IndexEntry: A vector plus self-describing metadata
//   - BondInformationCard: The fixed-schema synthesis output
//   - AuditTrail: Field to (document, page) citations
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
