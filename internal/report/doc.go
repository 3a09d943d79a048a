// Package report renders run summaries, change logs and retry ledger
// listings.
//
// Three writers share the Writer interface:
//   - SimpleWriter: plain text for terminals and cron mail
//   - JSONWriter: structured output for other tools
//   - MarkdownWriter: tables for sharing in tickets or chat
//
// The data being rendered lives in the model package; this package only
// formats it.
package report
