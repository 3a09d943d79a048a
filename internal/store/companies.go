package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/finwatch/internal/model"
)

const companyColumns = `id, name, website_url, crawl_depth, is_active, created_at, updated_at`

// CreateCompany validates and inserts c, filling in ID and timestamps.
func (s *DB) CreateCompany(ctx context.Context, c *model.Company) error {
	c.Name = strings.TrimSpace(c.Name)
	c.WebsiteURL = strings.TrimSpace(c.WebsiteURL)
	if err := c.Validate(); err != nil {
		return err
	}

	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx, `
	INSERT INTO companies (name, website_url, crawl_depth, is_active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	`, c.Name, c.WebsiteURL, c.CrawlDepth, boolInt(c.Active), formatTime(now), formatTime(now))
	if err != nil {
		return wrapErr("create company", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return wrapErr("create company", err)
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

// GetCompany returns the company with id, or nil when it does not exist.
func (s *DB) GetCompany(ctx context.Context, id int64) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ?`, id)
	c, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("get company", err)
	}
	return c, nil
}

// FindCompanyByURL returns the company tracking websiteURL, or nil.
func (s *DB) FindCompanyByURL(ctx context.Context, websiteURL string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE website_url = ? ORDER BY id LIMIT 1`,
		strings.TrimSpace(websiteURL))
	c, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("find company", err)
	}
	return c, nil
}

// ListCompanies returns companies ordered by id.
func (s *DB) ListCompanies(ctx context.Context, activeOnly bool) ([]*model.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("list companies", err)
	}
	defer rows.Close()

	var out []*model.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, wrapErr("list companies", err)
		}
		out = append(out, c)
	}
	return out, wrapErr("list companies", rows.Err())
}

// UpdateCompany saves the mutable fields of c.
func (s *DB) UpdateCompany(ctx context.Context, c *model.Company) error {
	if err := c.Validate(); err != nil {
		return err
	}
	now := s.clock.Now()
	res, err := s.db.ExecContext(ctx, `
	UPDATE companies SET name = ?, website_url = ?, crawl_depth = ?, is_active = ?, updated_at = ?
	WHERE id = ?
	`, c.Name, c.WebsiteURL, c.CrawlDepth, boolInt(c.Active), formatTime(now), c.ID)
	if err != nil {
		return wrapErr("update company", err)
	}
	if err := requireRow(res, c.ID); err != nil {
		return err
	}
	c.UpdatedAt = now
	return nil
}

// SetCompanyActive toggles monitoring for a company.
func (s *DB) SetCompanyActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE companies SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolInt(active), formatTime(s.clock.Now()), id)
	if err != nil {
		return wrapErr("set company active", err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("rows affected", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", model.ErrCompanyNotFound, id)
	}
	return nil
}

func scanCompany(r rowScanner) (*model.Company, error) {
	var (
		c                    model.Company
		active               int
		createdAt, updatedAt string
	)
	if err := r.Scan(&c.ID, &c.Name, &c.WebsiteURL, &c.CrawlDepth, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Active = active == 1
	c.CreatedAt = parseTimestamp(createdAt)
	c.UpdatedAt = parseTimestamp(updatedAt)
	return &c, nil
}
