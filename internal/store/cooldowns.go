package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/nao1215/finwatch/internal/model"
)

// SaveCooldowns persists cooldown windows. An existing window is only
// ever extended.
func (s *DB) SaveCooldowns(ctx context.Context, cooldowns []model.DomainCooldown) error {
	if len(cooldowns) == 0 {
		return nil
	}
	return s.withTx(ctx, "save cooldowns", func(tx *sql.Tx) error {
		for _, c := range cooldowns {
			if _, err := tx.ExecContext(ctx, `
			INSERT INTO domain_cooldowns (domain, blocked_until) VALUES (?, ?)
			ON CONFLICT(domain) DO UPDATE SET blocked_until = MAX(blocked_until, excluded.blocked_until)
			`, strings.ToLower(c.Domain), formatTime(c.BlockedUntil)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadCooldowns returns the windows still active at now, longest
// remaining first.
func (s *DB) LoadCooldowns(ctx context.Context, now time.Time) ([]model.DomainCooldown, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT domain, blocked_until FROM domain_cooldowns
	WHERE blocked_until > ? ORDER BY blocked_until DESC, domain ASC
	`, formatTime(now))
	if err != nil {
		return nil, wrapErr("load cooldowns", err)
	}
	defer rows.Close()

	var out []model.DomainCooldown
	for rows.Next() {
		var domain, until string
		if err := rows.Scan(&domain, &until); err != nil {
			return nil, wrapErr("load cooldowns", err)
		}
		blockedUntil := parseTimestamp(until)
		out = append(out, model.DomainCooldown{
			Domain:       domain,
			BlockedUntil: blockedUntil,
			Remaining:    blockedUntil.Sub(now),
		})
	}
	return out, wrapErr("load cooldowns", rows.Err())
}

// DeleteCooldown removes the window of one domain. It reports whether a
// window existed.
func (s *DB) DeleteCooldown(ctx context.Context, domain string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM domain_cooldowns WHERE domain = ?`, strings.ToLower(strings.TrimSpace(domain)))
	if err != nil {
		return false, wrapErr("delete cooldown", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("delete cooldown", err)
	}
	return n > 0, nil
}

// DeleteAllCooldowns removes every window and returns how many existed.
func (s *DB) DeleteAllCooldowns(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM domain_cooldowns`)
	if err != nil {
		return 0, wrapErr("delete cooldowns", err)
	}
	n, err := res.RowsAffected()
	return n, wrapErr("delete cooldowns", err)
}
