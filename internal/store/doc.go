// Package store provides SQLite-based persistence for finwatch.
//
// The DB stores companies, documents and their change log, page snapshots
// and page changes, the ingestion retry ledger, crawl diagnostics and
// domain cooldown windows. The schema is created by embedded migrations
// recorded in a schema_version table.
//
// Every per-entity write goes through a Mutate method that reads the
// current row, lets the caller compute the next state and writes it in one
// transaction. Busy and constraint-race errors are retried a bounded number
// of times and then surfaced as *model.IntegrityError.
package store
