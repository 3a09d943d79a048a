// Package ingest coordinates company runs.
//
// A run is a pipeline of steps sharing one Run state:
//
//  1. replay-retries queues the retry ledger entries that are due.
//  2. discover runs the discovery strategies and queues their candidates.
//  3. ingest-documents fetches every queued candidate with bounded
//     concurrency and resolves it through the deduplicator. Failures go
//     to the retry ledger; once the soft deadline passes, the remaining
//     candidates are deferred to the ledger instead of fetched.
//  4. monitor-pages observes every crawled page, then probes known active
//     pages the crawl did not reach, so deleted pages are detected.
//  5. ingest-linked-documents fetches PDFs that pages newly linked and
//     that discovery did not already queue.
//
// Each URL is processed at most once per run. Failures of one candidate,
// strategy or page are counted in the summary and never abort the run;
// an invalid company or a store outage does, with a failed summary.
// Runs of the same company never overlap.
package ingest
