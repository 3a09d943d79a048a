package store

import (
	"context"
	"time"

	"github.com/nao1215/finwatch/internal/model"
)

// AppendDiagnostic records one strategy attempt.
func (s *DB) AppendDiagnostic(ctx context.Context, d *model.Diagnostic) error {
	created := d.CreatedAt
	if created.IsZero() {
		created = s.clock.Now()
	}
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO crawl_diagnostics (run_id, company_id, domain, strategy, page_url, status_code, blocked, skipped,
		error_message, retry_count, found, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.RunID, d.CompanyID, d.Domain, string(d.Strategy), d.PageURL, d.StatusCode, boolInt(d.Blocked),
		boolInt(d.Skipped), d.Error, d.RetryCount, d.Found, d.Duration.Milliseconds(), formatTime(created))
	if err != nil {
		return wrapErr("append diagnostic", err)
	}
	d.ID, err = res.LastInsertId()
	return wrapErr("append diagnostic", err)
}

// ListDiagnostics returns the diagnostics of a run in insertion order.
func (s *DB) ListDiagnostics(ctx context.Context, runID string) ([]*model.Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, run_id, company_id, domain, strategy, page_url, status_code, blocked, skipped,
		error_message, retry_count, found, duration_ms, created_at
	FROM crawl_diagnostics WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, wrapErr("list diagnostics", err)
	}
	defer rows.Close()

	var out []*model.Diagnostic
	for rows.Next() {
		var (
			d                 model.Diagnostic
			strategy, created string
			blocked, skipped  int
			durationMS        int64
		)
		if err := rows.Scan(&d.ID, &d.RunID, &d.CompanyID, &d.Domain, &strategy, &d.PageURL, &d.StatusCode,
			&blocked, &skipped, &d.Error, &d.RetryCount, &d.Found, &durationMS, &created); err != nil {
			return nil, wrapErr("list diagnostics", err)
		}
		d.Strategy = model.StrategyKind(strategy)
		d.Blocked = blocked == 1
		d.Skipped = skipped == 1
		d.Duration = time.Duration(durationMS) * time.Millisecond
		d.CreatedAt = parseTimestamp(created)
		out = append(out, &d)
	}
	return out, wrapErr("list diagnostics", rows.Err())
}

// DiagnosticSummary aggregates diagnostics created at or after since.
func (s *DB) DiagnosticSummary(ctx context.Context, since time.Time) (*model.DiagnosticSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT strategy, blocked, skipped, error_message, duration_ms
	FROM crawl_diagnostics WHERE created_at >= ?
	`, formatTime(since))
	if err != nil {
		return nil, wrapErr("diagnostic summary", err)
	}
	defer rows.Close()

	var diags []*model.Diagnostic
	for rows.Next() {
		var (
			strategy, errMsg string
			blocked, skipped int
			durationMS       int64
		)
		if err := rows.Scan(&strategy, &blocked, &skipped, &errMsg, &durationMS); err != nil {
			return nil, wrapErr("diagnostic summary", err)
		}
		diags = append(diags, &model.Diagnostic{
			Strategy: model.StrategyKind(strategy),
			Blocked:  blocked == 1,
			Skipped:  skipped == 1,
			Error:    errMsg,
			Duration: time.Duration(durationMS) * time.Millisecond,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("diagnostic summary", err)
	}
	return model.SummarizeDiagnostics(diags), nil
}
