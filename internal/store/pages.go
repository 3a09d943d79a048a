package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nao1215/finwatch/internal/model"
)

const pageColumns = `id, company_id, page_url, content_hash, pdf_count, known_pdfs, status_code,
	is_active, failure_streak, page_text, first_seen, last_seen`

// PageMutation computes the next snapshot of a page from the current one
// (nil when none exists). Returning a nil snapshot leaves the store
// untouched. A non-nil change is appended to the page change log.
type PageMutation = func(cur *model.PageSnapshot) (*model.PageSnapshot, *model.PageChange, error)

// MutatePage reads the snapshot for (companyID, pageURL), applies fn and
// writes the snapshot and change together.
func (s *DB) MutatePage(ctx context.Context, companyID int64, pageURL string, fn PageMutation) (*model.PageSnapshot, *model.PageChange, error) {
	var (
		snapshot *model.PageSnapshot
		recorded *model.PageChange
	)
	err := s.withTx(ctx, "mutate page", func(tx *sql.Tx) error {
		snapshot, recorded = nil, nil

		cur, err := selectOnePage(ctx, tx, companyID, pageURL)
		if err != nil {
			return err
		}

		next, change, err := fn(clonePage(cur))
		if err != nil {
			return err
		}
		if next == nil {
			snapshot = cur
			return nil
		}
		if next.CompanyID != companyID || next.URL != pageURL {
			return fmt.Errorf("%w: page (%d, %s) returned as (%d, %s)",
				model.ErrIdentityMismatch, companyID, pageURL, next.CompanyID, next.URL)
		}

		known, err := json.Marshal(nonNil(next.KnownPDFs))
		if err != nil {
			return fmt.Errorf("encode known pdfs: %w", err)
		}
		if cur == nil {
			res, err := tx.ExecContext(ctx, `
			INSERT INTO page_snapshots (company_id, page_url, content_hash, pdf_count, known_pdfs, status_code,
				is_active, failure_streak, page_text, first_seen, last_seen)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, next.CompanyID, next.URL, next.ContentHash, next.PDFCount, string(known), next.StatusCode,
				boolInt(next.Active), next.FailureStreak, next.Text, formatTime(next.FirstSeen), formatTime(next.LastSeen))
			if err != nil {
				return err
			}
			if next.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		} else {
			next.ID = cur.ID
			if _, err := tx.ExecContext(ctx, `
			UPDATE page_snapshots SET content_hash = ?, pdf_count = ?, known_pdfs = ?, status_code = ?,
				is_active = ?, failure_streak = ?, page_text = ?, first_seen = ?, last_seen = ?
			WHERE id = ?
			`, next.ContentHash, next.PDFCount, string(known), next.StatusCode, boolInt(next.Active),
				next.FailureStreak, next.Text, formatTime(next.FirstSeen), formatTime(next.LastSeen), next.ID); err != nil {
				return err
			}
		}

		if change != nil {
			change.CompanyID = companyID
			change.PageURL = pageURL
			urls, err := json.Marshal(nonNil(change.NewPDFURLs))
			if err != nil {
				return fmt.Errorf("encode new pdf urls: %w", err)
			}
			res, err := tx.ExecContext(ctx, `
			INSERT INTO page_changes (company_id, page_url, change_type, diff_summary, new_pdf_urls, old_hash, new_hash, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, change.CompanyID, change.PageURL, string(change.Type), change.DiffSummary, string(urls),
				change.OldHash, change.NewHash, formatTime(change.DetectedAt))
			if err != nil {
				return err
			}
			if change.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}

		snapshot, recorded = next, change
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return snapshot, recorded, nil
}

func selectOnePage(ctx context.Context, tx *sql.Tx, companyID int64, pageURL string) (*model.PageSnapshot, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+pageColumns+` FROM page_snapshots WHERE company_id = ? AND page_url = ? LIMIT 2`,
		companyID, pageURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*model.PageSnapshot
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: page_snapshots (%d, %s)", model.ErrDuplicateRow, companyID, pageURL)
	}
}

// GetPage returns the snapshot for (companyID, pageURL), or nil.
func (s *DB) GetPage(ctx context.Context, companyID int64, pageURL string) (*model.PageSnapshot, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pageColumns+` FROM page_snapshots WHERE company_id = ? AND page_url = ?`,
		companyID, pageURL)
	p, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get page", err)
	}
	return p, nil
}

// ListPages returns the snapshots of a company ordered by URL.
func (s *DB) ListPages(ctx context.Context, companyID int64, activeOnly bool) ([]*model.PageSnapshot, error) {
	query := `SELECT ` + pageColumns + ` FROM page_snapshots WHERE company_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY page_url`

	rows, err := s.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, wrapErr("list pages", err)
	}
	defer rows.Close()

	var out []*model.PageSnapshot
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return nil, wrapErr("list pages", err)
		}
		out = append(out, p)
	}
	return out, wrapErr("list pages", rows.Err())
}

// ListPageChanges returns the newest page changes first. A zero companyID
// lists every company; limit <= 0 means no limit.
func (s *DB) ListPageChanges(ctx context.Context, companyID int64, limit int) ([]*model.PageChange, error) {
	query := `SELECT id, company_id, page_url, change_type, diff_summary, new_pdf_urls, old_hash, new_hash, detected_at
	FROM page_changes`
	var args []any
	if companyID != 0 {
		query += ` WHERE company_id = ?`
		args = append(args, companyID)
	}
	query += ` ORDER BY detected_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list page changes", err)
	}
	defer rows.Close()

	var out []*model.PageChange
	for rows.Next() {
		var (
			c                      model.PageChange
			changeType, urls, when string
		)
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.PageURL, &changeType, &c.DiffSummary, &urls,
			&c.OldHash, &c.NewHash, &when); err != nil {
			return nil, wrapErr("list page changes", err)
		}
		c.Type = model.PageChangeType(changeType)
		c.DetectedAt = parseTimestamp(when)
		if err := json.Unmarshal([]byte(urls), &c.NewPDFURLs); err != nil {
			return nil, fmt.Errorf("failed to parse new pdf urls: %w", err)
		}
		out = append(out, &c)
	}
	return out, wrapErr("list page changes", rows.Err())
}

func scanPage(r rowScanner) (*model.PageSnapshot, error) {
	var (
		p                   model.PageSnapshot
		known               string
		active              int
		firstSeen, lastSeen string
	)
	if err := r.Scan(&p.ID, &p.CompanyID, &p.URL, &p.ContentHash, &p.PDFCount, &known, &p.StatusCode,
		&active, &p.FailureStreak, &p.Text, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}
	if known != "" {
		if err := json.Unmarshal([]byte(known), &p.KnownPDFs); err != nil {
			return nil, fmt.Errorf("failed to parse known pdfs: %w", err)
		}
	}
	p.Active = active == 1
	p.FirstSeen = parseTimestamp(firstSeen)
	p.LastSeen = parseTimestamp(lastSeen)
	return &p, nil
}

func clonePage(p *model.PageSnapshot) *model.PageSnapshot {
	if p == nil {
		return nil
	}
	c := *p
	c.KnownPDFs = append([]string(nil), p.KnownPDFs...)
	return &c
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
