// Package model defines the data structures shared by the discovery,
// deduplication and change-detection packages.
//
// The main types are:
//   - Company: a tracked investor-relations website
//   - DiscoveryCandidate: a document URL found by a discovery strategy
//   - Document and DocumentChange: fetched documents and their change log
//   - PageSnapshot and PageChange: monitored pages and their change log
//   - RetryRecord: a dead-letter entry for a failed ingestion attempt
//   - Diagnostic: one discovery strategy attempt, kept for observability
//   - RunSummary: the outcome of one company run
//
// Models carry JSON tags so they can be written to reports directly. Relations
// between them are plain id fields; there is no object graph.
package model
