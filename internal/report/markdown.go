package report

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/finwatch/internal/model"
)

// MarkdownWriter outputs results as GitHub-flavored Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the run report.
func (w *MarkdownWriter) Write(r *RunReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, r)
	w.writeTotals(md, r)
	for _, s := range r.Runs {
		w.writeRun(md, s)
	}
	w.writeFooter(md, r.Version)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, r *RunReport) {
	md.H1("finwatch Run Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", r.GeneratedAt.Format(timeLayout)},
			{"Companies", strconv.Itoa(len(r.Runs))},
			{"Failed Runs", strconv.Itoa(r.FailedRuns())},
			{"Status", statusText(r.Totals().Status)},
		},
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeTotals(md *markdown.Markdown, r *RunReport) {
	total := r.Totals()

	md.H2("Totals")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows:   countRows(total),
	})
	md.PlainText("")

	if total.Downloaded+total.Failed+total.Deferred > 0 {
		w.writePieChart(md, total)
	}
	w.writeAlert(md, r, total)
}

// writePieChart writes a mermaid pie chart of document outcomes.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, total *model.RunSummary) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Document Outcomes"),
		piechart.WithShowData(true),
	)

	outcomes := []struct {
		label string
		n     int
	}{
		{"New", total.New},
		{"Updated", total.Updated},
		{"Unchanged", total.Unchanged},
		{"Failed", total.Failed},
		{"Deferred", total.Deferred},
	}
	for _, o := range outcomes {
		if o.n > 0 {
			chart.LabelAndIntValue(o.label, uint64(o.n))
		}
	}

	md.PlainText("")
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, r *RunReport, total *model.RunSummary) {
	switch {
	case r.FailedRuns() > 0:
		md.Cautionf("%d company run(s) failed. See the error messages below.", r.FailedRuns())
	case total.Errors > 0:
		md.Warningf("Runs completed with %d error(s).", total.Errors)
	case total.HasChanges():
		md.Importantf(
			"%d new or updated document(s) and %d page change(s) detected.",
			total.Changed(), total.TotalPageChanges(),
		)
	default:
		md.Tip("No changes detected.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeRun(md *markdown.Markdown, s *model.RunSummary) {
	name := s.CompanyName
	if name == "" {
		name = "Company " + strconv.FormatInt(s.CompanyID, 10)
	}
	md.H2(name)
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Run ID", "`" + s.RunID + "`"},
			{"Status", statusText(s.Status)},
			{"Started", s.StartedAt.Format(timeLayout)},
			{"Duration", s.Duration().String()},
		},
	})
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows:   countRows(s),
	})
	md.PlainText("")

	if len(s.Messages) > 0 {
		md.PlainText("### Errors")
		md.PlainText("")
		msgs := make([]string, len(s.Messages))
		for i, m := range s.Messages {
			msgs[i] = truncateString(m, 200)
		}
		md.BulletList(msgs...)
		if hidden := s.Errors - len(s.Messages); hidden > 0 {
			md.PlainTextf("...and %d more.", hidden)
		}
		md.PlainText("")
	}
}

// WriteChanges outputs the change log as two tables.
func (w *MarkdownWriter) WriteChanges(c *ChangeReport) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("finwatch Change Log")
	md.PlainText("")

	md.H2("Documents")
	md.PlainText("")
	if len(c.Documents) == 0 {
		md.PlainText("No document changes.")
	} else {
		rows := make([][]string, len(c.Documents))
		for i, d := range c.Documents {
			rows[i] = []string{
				d.DetectedAt.Format(timeLayout),
				strconv.FormatInt(d.CompanyID, 10),
				string(d.ChangeType),
				truncateString(d.URL, 80),
				shortHash(d.NewHash),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Detected", "Company", "Change", "URL", "Hash"},
			Rows:   rows,
		})
	}
	md.PlainText("")

	md.H2("Pages")
	md.PlainText("")
	if len(c.Pages) == 0 {
		md.PlainText("No page changes.")
	} else {
		rows := make([][]string, len(c.Pages))
		for i, p := range c.Pages {
			rows[i] = []string{
				p.DetectedAt.Format(timeLayout),
				strconv.FormatInt(p.CompanyID, 10),
				string(p.Type),
				truncateString(p.PageURL, 60),
				truncateString(escapePipes(p.DiffSummary), 100),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Detected", "Company", "Change", "Page", "Summary"},
			Rows:   rows,
		})
	}
	md.PlainText("")

	return len(md.String()), md.Build()
}

// WriteRetries outputs retry ledger entries as a table.
func (w *MarkdownWriter) WriteRetries(records []*model.RetryRecord) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("finwatch Retry Ledger")
	md.PlainText("")

	if len(records) == 0 {
		md.Tip("The retry ledger is empty.")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			strconv.FormatInt(r.ID, 10),
			strconv.FormatInt(r.CompanyID, 10),
			truncateString(r.DocumentURL, 60),
			string(r.Reason),
			strconv.Itoa(r.FailureCount),
			string(r.Status),
			formatNext(r.NextRetryAt),
			truncateString(escapePipes(r.LastError), 60),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"ID", "Company", "URL", "Reason", "Failures", "Status", "Next Retry", "Last Error"},
		Rows:   rows,
	})
	md.PlainText("")

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown, version string) {
	md.HorizontalRule()
	md.PlainText("")
	if version == "" {
		md.PlainText("*Report generated by finwatch*")
		return
	}
	md.PlainTextf("*Report generated by finwatch %s*", version)
}

func countRows(s *model.RunSummary) [][]string {
	return [][]string{
		{"Discovered", strconv.Itoa(s.Discovered)},
		{"Downloaded", strconv.Itoa(s.Downloaded)},
		{"New", strconv.Itoa(s.New)},
		{"Updated", strconv.Itoa(s.Updated)},
		{"Unchanged", strconv.Itoa(s.Unchanged)},
		{"Failed", strconv.Itoa(s.Failed)},
		{"Deferred", strconv.Itoa(s.Deferred)},
		{"Retries Replayed", strconv.Itoa(s.RetriesReplayed)},
		{"Pages Observed", strconv.Itoa(s.PagesObserved)},
		{"Page Changes", strconv.Itoa(s.TotalPageChanges())},
		{"Errors", strconv.Itoa(s.Errors)},
	}
}

func statusText(s model.RunStatus) string {
	switch s {
	case model.RunFailed:
		return "❌ Failed"
	case model.RunPartial:
		return "⚠️ Partial"
	default:
		return "✅ OK"
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return "`" + h[:12] + "`"
	}
	if h == "" {
		return "-"
	}
	return "`" + h + "`"
}

func escapePipes(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// WriteCompanies outputs companies as a table.
func (w *MarkdownWriter) WriteCompanies(companies []*model.Company) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("finwatch Companies")
	md.PlainText("")

	if len(companies) == 0 {
		md.Note("No companies are tracked yet. Add one with `finwatch company add`.")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(companies))
	for i, c := range companies {
		rows[i] = []string{
			strconv.FormatInt(c.ID, 10),
			escapePipes(c.Name),
			c.WebsiteURL,
			strconv.Itoa(c.CrawlDepth),
			activeText(c.Active),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"ID", "Name", "Website", "Depth", "Status"},
		Rows:   rows,
	})
	md.PlainText("")

	return len(md.String()), md.Build()
}

// WriteCooldowns outputs cooldowns as a table.
func (w *MarkdownWriter) WriteCooldowns(cooldowns []model.DomainCooldown) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("finwatch Domain Cooldowns")
	md.PlainText("")

	if len(cooldowns) == 0 {
		md.Tip("No domain is cooling down.")
		return len(md.String()), md.Build()
	}

	rows := make([][]string, len(cooldowns))
	for i, c := range cooldowns {
		rows[i] = []string{
			c.Domain,
			c.BlockedUntil.Format(timeLayout),
			strconv.FormatInt(c.RemainingSeconds(), 10),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Domain", "Blocked Until", "Seconds Left"},
		Rows:   rows,
	})
	md.PlainText("")

	return len(md.String()), md.Build()
}

// WriteDiagnostics outputs strategy statistics and, for a single run,
// every attempt.
func (w *MarkdownWriter) WriteDiagnostics(d *DiagnosticsReport) (int, error) {
	md := markdown.NewMarkdown(w.output)
	md.H1("finwatch Discovery Diagnostics")
	md.PlainText("")

	s := d.Summary
	if s == nil {
		s = &model.DiagnosticSummary{}
	}
	scope := "Since " + d.Since.Format(timeLayout)
	if d.RunID != "" {
		scope = "Run " + d.RunID
	}
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Value"},
		Rows: [][]string{
			{"Scope", scope},
			{"Attempts", strconv.Itoa(s.Total)},
			{"Blocked", strconv.Itoa(s.Blocked)},
			{"Errors", strconv.Itoa(s.Errors)},
			{"Average Duration", s.AvgDuration.Round(time.Millisecond).String()},
			{"P95 Duration", s.P95Duration.Round(time.Millisecond).String()},
		},
	})
	md.PlainText("")

	if s.Total > 0 && s.Blocked*2 >= s.Total {
		md.Warningf("%d of %d attempts were blocked. Check cooldowns and the User-Agent.", s.Blocked, s.Total)
		md.PlainText("")
	}

	if len(s.ByStrategy) > 0 {
		md.H2("By Strategy")
		md.PlainText("")
		keys := sortedStrategies(s.ByStrategy)
		rows := make([][]string, len(keys))
		for i, k := range keys {
			rows[i] = []string{string(k), strconv.Itoa(s.ByStrategy[k])}
		}
		md.Table(markdown.TableSet{Header: []string{"Strategy", "Attempts"}, Rows: rows})
		md.PlainText("")
	}

	if len(d.Attempts) > 0 {
		md.H2("Attempts")
		md.PlainText("")
		rows := make([][]string, len(d.Attempts))
		for i, a := range d.Attempts {
			rows[i] = []string{
				string(a.Strategy),
				a.Domain,
				strconv.Itoa(a.Found),
				attemptOutcome(a),
				a.Duration.Round(time.Millisecond).String(),
				truncateString(escapePipes(a.Error), 60),
			}
		}
		md.Table(markdown.TableSet{
			Header: []string{"Strategy", "Domain", "Found", "Outcome", "Duration", "Error"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	return len(md.String()), md.Build()
}
