package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/finwatch/internal/model"
)

const ruleWidth = 70

// SimpleWriter outputs plain text for terminals. It uses no colors so the
// output can be mailed or piped as is.
type SimpleWriter struct {
	baseWriter

	// verbose lists every error message instead of the first few.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables full error listings.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs one block per run followed by the totals.
func (w *SimpleWriter) Write(r *RunReport) (int, error) {
	var sb strings.Builder

	banner(&sb, "FINWATCH RUN REPORT")
	fmt.Fprintf(&sb, "Generated:  %s\n", r.GeneratedAt.Format(timeLayout))
	fmt.Fprintf(&sb, "Companies:  %d (%d failed)\n\n", len(r.Runs), r.FailedRuns())

	for _, s := range r.Runs {
		w.writeRun(&sb, s)
	}
	if len(r.Runs) > 1 {
		section(&sb, "TOTALS")
		writeCounts(&sb, r.Totals())
		sb.WriteString("\n")
	}

	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	return w.output.Write([]byte(sb.String()))
}

func (w *SimpleWriter) writeRun(sb *strings.Builder, s *model.RunSummary) {
	section(sb, fmt.Sprintf("%s (company %d)", s.CompanyName, s.CompanyID))
	fmt.Fprintf(sb, "  Run ID:    %s\n", s.RunID)
	fmt.Fprintf(sb, "  Status:    %s\n", strings.ToUpper(string(s.Status)))
	fmt.Fprintf(sb, "  Duration:  %s\n\n", s.Duration())
	writeCounts(sb, s)

	if len(s.PageChanges) > 0 {
		sb.WriteString("\n  Page changes:\n")
		for _, typ := range []model.PageChangeType{model.PageAdded, model.PageDeleted, model.ContentChanged, model.NewDocLinked} {
			if n := s.PageChanges[typ]; n > 0 {
				fmt.Fprintf(sb, "    %-16s %d\n", typ, n)
			}
		}
	}

	if len(s.Messages) > 0 {
		sb.WriteString("\n  Errors:\n")
		msgs := s.Messages
		if !w.verbose && len(msgs) > 5 {
			msgs = msgs[:5]
		}
		for _, m := range msgs {
			fmt.Fprintf(sb, "    [!] %s\n", m)
		}
		if hidden := s.Errors - len(msgs); hidden > 0 {
			fmt.Fprintf(sb, "    ...and %d more\n", hidden)
		}
	}
	sb.WriteString("\n")
}

func writeCounts(sb *strings.Builder, s *model.RunSummary) {
	fmt.Fprintf(sb, "  Discovered: %-6d Downloaded: %-6d Replayed: %d\n", s.Discovered, s.Downloaded, s.RetriesReplayed)
	fmt.Fprintf(sb, "  New:        %-6d Updated:    %-6d Unchanged: %d\n", s.New, s.Updated, s.Unchanged)
	fmt.Fprintf(sb, "  Failed:     %-6d Deferred:   %-6d Errors: %d\n", s.Failed, s.Deferred, s.Errors)
	fmt.Fprintf(sb, "  Pages:      %-6d Changes:    %d\n", s.PagesObserved, s.TotalPageChanges())
}

// WriteChanges lists document changes, then page changes.
func (w *SimpleWriter) WriteChanges(c *ChangeReport) (int, error) {
	var sb strings.Builder
	banner(&sb, "FINWATCH CHANGE LOG")

	section(&sb, "DOCUMENTS")
	if len(c.Documents) == 0 {
		sb.WriteString("  No document changes\n")
	}
	for _, d := range c.Documents {
		fmt.Fprintf(&sb, "  %s  [%d] %-9s %s\n", d.DetectedAt.Format(timeLayout), d.CompanyID, d.ChangeType, d.URL)
	}
	sb.WriteString("\n")

	section(&sb, "PAGES")
	if len(c.Pages) == 0 {
		sb.WriteString("  No page changes\n")
	}
	for _, p := range c.Pages {
		fmt.Fprintf(&sb, "  %s  [%d] %-15s %s\n", p.DetectedAt.Format(timeLayout), p.CompanyID, p.Type, p.PageURL)
		if p.DiffSummary != "" {
			fmt.Fprintf(&sb, "      %s\n", truncateString(p.DiffSummary, 200))
		}
	}
	sb.WriteString("\n")

	return w.output.Write([]byte(sb.String()))
}

// WriteRetries lists retry ledger entries, one per line.
func (w *SimpleWriter) WriteRetries(records []*model.RetryRecord) (int, error) {
	var sb strings.Builder
	banner(&sb, "FINWATCH RETRY LEDGER")

	if len(records) == 0 {
		sb.WriteString("  No retry records\n")
	}
	for _, r := range records {
		fmt.Fprintf(&sb, "  #%d [%d] %-8s %-21s failures=%d next=%s\n",
			r.ID, r.CompanyID, r.Status, r.Reason, r.FailureCount, formatNext(r.NextRetryAt))
		fmt.Fprintf(&sb, "      %s\n", r.DocumentURL)
		if w.verbose && r.LastError != "" {
			fmt.Fprintf(&sb, "      last error: %s\n", r.LastError)
		}
	}
	sb.WriteString("\n")

	return w.output.Write([]byte(sb.String()))
}

func banner(sb *strings.Builder, title string) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n")
	pad := (ruleWidth - len(title)) / 2
	sb.WriteString(strings.Repeat(" ", max(pad, 0)))
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", ruleWidth))
	sb.WriteString("\n\n")
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", ruleWidth))
	sb.WriteString("\n\n")
}

// WriteCompanies lists companies, one per line.
func (w *SimpleWriter) WriteCompanies(companies []*model.Company) (int, error) {
	var sb strings.Builder
	banner(&sb, "FINWATCH COMPANIES")

	if len(companies) == 0 {
		sb.WriteString("  No companies tracked\n")
	}
	for _, c := range companies {
		fmt.Fprintf(&sb, "  %4d  %-8s depth=%d  %s\n", c.ID, activeText(c.Active), c.CrawlDepth, c.Name)
		fmt.Fprintf(&sb, "        %s\n", c.WebsiteURL)
	}
	sb.WriteString("\n")

	return w.output.Write([]byte(sb.String()))
}

// WriteCooldowns lists domains that are cooling down.
func (w *SimpleWriter) WriteCooldowns(cooldowns []model.DomainCooldown) (int, error) {
	var sb strings.Builder
	banner(&sb, "FINWATCH DOMAIN COOLDOWNS")

	if len(cooldowns) == 0 {
		sb.WriteString("  No domain is cooling down\n")
	}
	for _, c := range cooldowns {
		fmt.Fprintf(&sb, "  %-40s until %s (%ds left)\n", c.Domain, c.BlockedUntil.Format(timeLayout), c.RemainingSeconds())
	}
	sb.WriteString("\n")

	return w.output.Write([]byte(sb.String()))
}

// WriteDiagnostics prints strategy attempt statistics.
func (w *SimpleWriter) WriteDiagnostics(d *DiagnosticsReport) (int, error) {
	var sb strings.Builder
	banner(&sb, "FINWATCH DISCOVERY DIAGNOSTICS")

	if d.RunID != "" {
		fmt.Fprintf(&sb, "  Run:       %s\n", d.RunID)
	} else {
		fmt.Fprintf(&sb, "  Since:     %s\n", d.Since.Format(timeLayout))
	}
	s := d.Summary
	if s == nil {
		s = &model.DiagnosticSummary{}
	}
	fmt.Fprintf(&sb, "  Attempts:  %d\n", s.Total)
	fmt.Fprintf(&sb, "  Blocked:   %d\n", s.Blocked)
	fmt.Fprintf(&sb, "  Errors:    %d\n", s.Errors)
	fmt.Fprintf(&sb, "  Avg time:  %s\n", s.AvgDuration.Round(time.Millisecond))
	fmt.Fprintf(&sb, "  P95 time:  %s\n\n", s.P95Duration.Round(time.Millisecond))

	if len(s.ByStrategy) > 0 {
		section(&sb, "BY STRATEGY")
		for _, k := range sortedStrategies(s.ByStrategy) {
			fmt.Fprintf(&sb, "  %-16s %d\n", k, s.ByStrategy[k])
		}
		sb.WriteString("\n")
	}

	if len(d.Attempts) > 0 {
		section(&sb, "ATTEMPTS")
		for _, a := range d.Attempts {
			fmt.Fprintf(&sb, "  %-16s %-30s found=%d %s\n", a.Strategy, a.Domain, a.Found, attemptOutcome(a))
			if w.verbose && a.Error != "" {
				fmt.Fprintf(&sb, "      %s\n", truncateString(a.Error, 200))
			}
		}
		sb.WriteString("\n")
	}

	return w.output.Write([]byte(sb.String()))
}
