package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nao1215/finwatch/internal/model"
)

const retryColumns = `id, company_id, document_url, source_domain, reason_code, failure_count, status,
	next_retry_at, last_error, last_attempt_at, created_at, resolved_at`

// RetryMutation computes the next state of a retry record from the
// current one (nil when none exists). Returning nil leaves the store
// untouched.
type RetryMutation = func(cur *model.RetryRecord) (*model.RetryRecord, error)

// RetryFilter narrows ListRetries. Zero values match everything.
type RetryFilter struct {
	CompanyID int64
	Status    model.RetryStatus
	Limit     int
}

// MutateRetry applies fn to the record for (companyID, documentURL) in one
// transaction, creating the record when fn returns one for a nil current.
func (s *DB) MutateRetry(ctx context.Context, companyID int64, documentURL string, fn RetryMutation) (*model.RetryRecord, error) {
	var result *model.RetryRecord
	err := s.withTx(ctx, "mutate retry", func(tx *sql.Tx) error {
		result = nil
		cur, err := scanRetry(tx.QueryRowContext(ctx,
			`SELECT `+retryColumns+` FROM ingestion_retries WHERE company_id = ? AND document_url = ?`,
			companyID, documentURL))
		if errors.Is(err, sql.ErrNoRows) {
			cur, err = nil, nil
		}
		if err != nil {
			return err
		}
		result, err = applyRetry(ctx, tx, cur, companyID, documentURL, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MutateRetryByID applies fn to an existing record. It returns
// model.ErrRetryNotFound when no record has id.
func (s *DB) MutateRetryByID(ctx context.Context, id int64, fn RetryMutation) (*model.RetryRecord, error) {
	var result *model.RetryRecord
	err := s.withTx(ctx, "mutate retry", func(tx *sql.Tx) error {
		result = nil
		cur, err := scanRetry(tx.QueryRowContext(ctx,
			`SELECT `+retryColumns+` FROM ingestion_retries WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", model.ErrRetryNotFound, id)
		}
		if err != nil {
			return err
		}
		result, err = applyRetry(ctx, tx, cur, cur.CompanyID, cur.DocumentURL, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func applyRetry(ctx context.Context, tx *sql.Tx, cur *model.RetryRecord, companyID int64, documentURL string, fn RetryMutation) (*model.RetryRecord, error) {
	next, err := fn(cloneRetry(cur))
	if err != nil {
		return nil, err
	}
	if next == nil {
		return cur, nil
	}
	if next.CompanyID != companyID || next.DocumentURL != documentURL {
		return nil, fmt.Errorf("%w: retry (%d, %s) returned as (%d, %s)",
			model.ErrIdentityMismatch, companyID, documentURL, next.CompanyID, next.DocumentURL)
	}

	if cur == nil {
		res, err := tx.ExecContext(ctx, `
		INSERT INTO ingestion_retries (company_id, document_url, source_domain, reason_code, failure_count, status,
			next_retry_at, last_error, last_attempt_at, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, next.CompanyID, next.DocumentURL, next.SourceDomain, string(next.Reason), next.FailureCount,
			string(next.Status), formatNullTime(next.NextRetryAt), next.LastError, formatTime(next.LastAttemptAt),
			formatTime(next.CreatedAt), formatNullTime(next.ResolvedAt))
		if err != nil {
			return nil, err
		}
		if next.ID, err = res.LastInsertId(); err != nil {
			return nil, err
		}
		return next, nil
	}

	next.ID = cur.ID
	_, err = tx.ExecContext(ctx, `
	UPDATE ingestion_retries SET source_domain = ?, reason_code = ?, failure_count = ?, status = ?,
		next_retry_at = ?, last_error = ?, last_attempt_at = ?, created_at = ?, resolved_at = ?
	WHERE id = ?
	`, next.SourceDomain, string(next.Reason), next.FailureCount, string(next.Status),
		formatNullTime(next.NextRetryAt), next.LastError, formatTime(next.LastAttemptAt),
		formatTime(next.CreatedAt), formatNullTime(next.ResolvedAt), next.ID)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// GetRetry returns the record with id, or nil.
func (s *DB) GetRetry(ctx context.Context, id int64) (*model.RetryRecord, error) {
	r, err := scanRetry(s.db.QueryRowContext(ctx, `SELECT `+retryColumns+` FROM ingestion_retries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get retry", err)
	}
	return r, nil
}

// FindRetry returns the record for (companyID, documentURL), or nil.
func (s *DB) FindRetry(ctx context.Context, companyID int64, documentURL string) (*model.RetryRecord, error) {
	r, err := scanRetry(s.db.QueryRowContext(ctx,
		`SELECT `+retryColumns+` FROM ingestion_retries WHERE company_id = ? AND document_url = ?`,
		companyID, documentURL))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("find retry", err)
	}
	return r, nil
}

// ListRetries returns records matching f, most recently attempted first.
func (s *DB) ListRetries(ctx context.Context, f RetryFilter) ([]*model.RetryRecord, error) {
	query := `SELECT ` + retryColumns + ` FROM ingestion_retries WHERE 1=1`
	var args []any
	if f.CompanyID != 0 {
		query += ` AND company_id = ?`
		args = append(args, f.CompanyID)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	query += ` ORDER BY last_attempt_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.queryRetries(ctx, "list retries", query, args...)
}

// DueRetries returns PENDING records of a company whose next retry time
// is at or before now, earliest first. limit <= 0 means no limit.
func (s *DB) DueRetries(ctx context.Context, companyID int64, now time.Time, limit int) ([]*model.RetryRecord, error) {
	query := `SELECT ` + retryColumns + ` FROM ingestion_retries
	WHERE company_id = ? AND status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
	ORDER BY next_retry_at ASC, id ASC`
	args := []any{companyID, string(model.RetryPending), formatTime(now)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRetries(ctx, "due retries", query, args...)
}

func (s *DB) queryRetries(ctx context.Context, op, query string, args ...any) ([]*model.RetryRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var out []*model.RetryRecord
	for rows.Next() {
		r, err := scanRetry(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		out = append(out, r)
	}
	return out, wrapErr(op, rows.Err())
}

func scanRetry(r rowScanner) (*model.RetryRecord, error) {
	var (
		rec                    model.RetryRecord
		reason, status         string
		next, resolved         sql.NullString
		lastAttempt, createdAt string
	)
	if err := r.Scan(&rec.ID, &rec.CompanyID, &rec.DocumentURL, &rec.SourceDomain, &reason, &rec.FailureCount,
		&status, &next, &rec.LastError, &lastAttempt, &createdAt, &resolved); err != nil {
		return nil, err
	}
	rec.Reason = model.ReasonCode(reason)
	rec.Status = model.RetryStatus(status)
	rec.NextRetryAt = parseNullTime(next)
	rec.ResolvedAt = parseNullTime(resolved)
	rec.LastAttemptAt = parseTimestamp(lastAttempt)
	rec.CreatedAt = parseTimestamp(createdAt)
	return &rec, nil
}

func cloneRetry(r *model.RetryRecord) *model.RetryRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.NextRetryAt != nil {
		t := *r.NextRetryAt
		c.NextRetryAt = &t
	}
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
