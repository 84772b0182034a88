// Package services implements the driving ports on top of the driven ones.
//
// The write path is IngestService: decompose, post-process, store, embed and
// index. The read path is QueryService, which runs the CardSynthesizer over
// the Retriever, optionally the GreenwashVerifier, then builds the audit
// trail and publishes the card. Both paths share SegmentEmbedder so that
// segments and queries are encoded the same way.
//
// Backend calls go through retryPolicy, which applies the configured
// timeout and backoff and maps failures to domain errors.
package services
