// Package log builds the finwatch slog logger.
//
// Every record passes through a RedactingHandler before it is written.
// Attributes whose key names a credential are masked, values that look
// like provider API keys or bearer tokens are masked, and URLs keep their
// host and path but lose secret query parameters:
//
//	logger := log.New(os.Stderr, log.Options{Verbose: true})
//	logger.Info("searching", "url", "https://api.example/search?api_key=tvly-abc&q=10-K")
//	// url=https://api.example/search?api_key=***REDACTED***&q=10-K
package log
