package report

import (
	"encoding/json"
	"io"

	"github.com/nao1215/finwatch/internal/model"
)

// JSONWriter outputs results as JSON for tool integration.
type JSONWriter struct {
	baseWriter

	// indent enables pretty-printed output.
	indent       bool
	indentPrefix string
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables pretty-printed JSON output.
// The prefix is prepended to each line, and indent is used for each level.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint is WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter that outputs to the given writer.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// runReportJSON adds the totals to the wire form of a RunReport.
type runReportJSON struct {
	*RunReport
	Totals *model.RunSummary `json:"totals"`
}

// Write outputs the run report with its totals.
func (w *JSONWriter) Write(r *RunReport) (int, error) {
	return w.Encode(runReportJSON{RunReport: r, Totals: r.Totals()})
}

// WriteChanges outputs the change report.
func (w *JSONWriter) WriteChanges(c *ChangeReport) (int, error) {
	return w.Encode(c)
}

// WriteRetries outputs retry records as a JSON array.
func (w *JSONWriter) WriteRetries(records []*model.RetryRecord) (int, error) {
	if records == nil {
		records = []*model.RetryRecord{}
	}
	return w.Encode(records)
}

// WriteCompanies outputs companies as a JSON array.
func (w *JSONWriter) WriteCompanies(companies []*model.Company) (int, error) {
	if companies == nil {
		companies = []*model.Company{}
	}
	return w.Encode(companies)
}

// WriteCooldowns outputs cooldowns as a JSON array.
func (w *JSONWriter) WriteCooldowns(cooldowns []model.DomainCooldown) (int, error) {
	if cooldowns == nil {
		cooldowns = []model.DomainCooldown{}
	}
	return w.Encode(cooldowns)
}

// WriteDiagnostics outputs the diagnostics report.
func (w *JSONWriter) WriteDiagnostics(d *DiagnosticsReport) (int, error) {
	return w.Encode(d)
}

// Encode marshals v and writes it followed by a newline.
func (w *JSONWriter) Encode(v any) (int, error) {
	var data []byte
	var err error

	if w.indent {
		data, err = json.MarshalIndent(v, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return 0, err
	}

	data = append(data, '\n')
	return w.output.Write(data)
}
