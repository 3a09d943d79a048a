package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nao1215/finwatch/internal/model"
)

const documentColumns = `id, company_id, url, content_hash, doc_type, status, first_seen_at, last_seen_at,
	needs_review, classifier_confidence, source_domain, discovery_strategy, source_type, content_type, byte_size`

// DocumentMutation computes the next state of a document from the current
// row (nil when none exists). Returning a nil document leaves the store
// untouched. A non-nil change is appended to the change log.
type DocumentMutation = func(cur *model.Document) (*model.Document, *model.DocumentChange, error)

// MutateDocument reads the row for (companyID, url), applies fn and writes
// the result in one transaction. fn may be called more than once when the
// transaction is retried.
func (s *DB) MutateDocument(ctx context.Context, companyID int64, url string, fn DocumentMutation) (*model.Document, error) {
	var result *model.Document
	err := s.withTx(ctx, "mutate document", func(tx *sql.Tx) error {
		result = nil

		cur, err := selectOneDocument(ctx, tx, companyID, url)
		if err != nil {
			return err
		}

		next, change, err := fn(cloneDocument(cur))
		if err != nil {
			return err
		}
		if next == nil {
			result = cur
			return nil
		}
		if next.CompanyID != companyID || next.URL != url {
			return fmt.Errorf("%w: document (%d, %s) returned as (%d, %s)",
				model.ErrIdentityMismatch, companyID, url, next.CompanyID, next.URL)
		}

		if cur == nil {
			next.ID, err = insertDocument(ctx, tx, next)
		} else {
			next.ID = cur.ID
			err = updateDocument(ctx, tx, next)
		}
		if err != nil {
			return err
		}

		if change != nil {
			change.DocumentID = next.ID
			change.CompanyID = companyID
			change.URL = url
			res, err := tx.ExecContext(ctx, `
			INSERT INTO document_changes (document_id, company_id, url, change_type, old_hash, new_hash, detected_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			`, change.DocumentID, change.CompanyID, change.URL, string(change.ChangeType),
				change.OldHash, change.NewHash, formatTime(change.DetectedAt))
			if err != nil {
				return err
			}
			if change.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// selectOneDocument returns the unique row for (companyID, url), nil when
// absent, or ErrDuplicateRow when the identity invariant is broken.
func selectOneDocument(ctx context.Context, tx *sql.Tx, companyID int64, url string) (*model.Document, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE company_id = ? AND url = ? LIMIT 2`,
		companyID, url)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, d)
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
		return nil, fmt.Errorf("%w: documents (%d, %s)", model.ErrDuplicateRow, companyID, url)
	}
}

func insertDocument(ctx context.Context, tx *sql.Tx, d *model.Document) (int64, error) {
	res, err := tx.ExecContext(ctx, `
	INSERT INTO documents (company_id, url, content_hash, doc_type, status, first_seen_at, last_seen_at,
		needs_review, classifier_confidence, source_domain, discovery_strategy, source_type, content_type, byte_size)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.CompanyID, d.URL, d.ContentHash, d.DocType, string(d.Status),
		formatTime(d.FirstSeenAt), formatTime(d.LastSeenAt), boolInt(d.NeedsReview), nullFloat(d.ClassifierConfidence),
		d.SourceDomain, string(d.DiscoveryStrategy), string(d.SourceType), d.ContentType, d.ByteSize)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func updateDocument(ctx context.Context, tx *sql.Tx, d *model.Document) error {
	_, err := tx.ExecContext(ctx, `
	UPDATE documents SET content_hash = ?, doc_type = ?, status = ?, first_seen_at = ?, last_seen_at = ?,
		needs_review = ?, classifier_confidence = ?, source_domain = ?, discovery_strategy = ?,
		source_type = ?, content_type = ?, byte_size = ?
	WHERE id = ?
	`, d.ContentHash, d.DocType, string(d.Status), formatTime(d.FirstSeenAt), formatTime(d.LastSeenAt),
		boolInt(d.NeedsReview), nullFloat(d.ClassifierConfidence), d.SourceDomain, string(d.DiscoveryStrategy),
		string(d.SourceType), d.ContentType, d.ByteSize, d.ID)
	return err
}

// GetDocument returns the document for (companyID, url), or nil.
func (s *DB) GetDocument(ctx context.Context, companyID int64, url string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE company_id = ? AND url = ?`,
		companyID, url)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get document", err)
	}
	return d, nil
}

// FindDocumentByHash returns the oldest document of the company with the
// given content hash under a URL other than excludeURL, or nil.
func (s *DB) FindDocumentByHash(ctx context.Context, companyID int64, hash, excludeURL string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT `+documentColumns+` FROM documents
	WHERE company_id = ? AND content_hash = ? AND url <> ? AND status <> ?
	ORDER BY id LIMIT 1
	`, companyID, hash, excludeURL, string(model.StatusFailed))
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("find document by hash", err)
	}
	return d, nil
}

// ListDocuments returns the documents of a company, or of every company
// when companyID is 0, ordered by id.
func (s *DB) ListDocuments(ctx context.Context, companyID int64) ([]*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if companyID != 0 {
		query += ` WHERE company_id = ?`
		args = append(args, companyID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list documents", err)
	}
	defer rows.Close()

	var out []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, wrapErr("list documents", err)
		}
		out = append(out, d)
	}
	return out, wrapErr("list documents", rows.Err())
}

// ListDocumentChanges returns the newest document changes first. A zero
// companyID lists every company; limit <= 0 means no limit.
func (s *DB) ListDocumentChanges(ctx context.Context, companyID int64, limit int) ([]*model.DocumentChange, error) {
	query := `SELECT id, document_id, company_id, url, change_type, old_hash, new_hash, detected_at FROM document_changes`
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
		return nil, wrapErr("list document changes", err)
	}
	defer rows.Close()

	var out []*model.DocumentChange
	for rows.Next() {
		var (
			c          model.DocumentChange
			changeType string
			detectedAt string
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.CompanyID, &c.URL, &changeType, &c.OldHash, &c.NewHash, &detectedAt); err != nil {
			return nil, wrapErr("list document changes", err)
		}
		c.ChangeType = model.DocumentStatus(changeType)
		c.DetectedAt = parseTimestamp(detectedAt)
		out = append(out, &c)
	}
	return out, wrapErr("list document changes", rows.Err())
}

func scanDocument(r rowScanner) (*model.Document, error) {
	var (
		d                     model.Document
		status, strategy, src string
		firstSeen, lastSeen   string
		needsReview           int
		confidence            sql.NullFloat64
	)
	if err := r.Scan(&d.ID, &d.CompanyID, &d.URL, &d.ContentHash, &d.DocType, &status, &firstSeen, &lastSeen,
		&needsReview, &confidence, &d.SourceDomain, &strategy, &src, &d.ContentType, &d.ByteSize); err != nil {
		return nil, err
	}
	d.Status = model.DocumentStatus(status)
	d.DiscoveryStrategy = model.StrategyKind(strategy)
	d.SourceType = model.SourceType(src)
	d.FirstSeenAt = parseTimestamp(firstSeen)
	d.LastSeenAt = parseTimestamp(lastSeen)
	d.NeedsReview = needsReview == 1
	if confidence.Valid {
		v := confidence.Float64
		d.ClassifierConfidence = &v
	}
	return &d, nil
}

func cloneDocument(d *model.Document) *model.Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.ClassifierConfidence != nil {
		v := *d.ClassifierConfidence
		c.ClassifierConfidence = &v
	}
	return &c
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
