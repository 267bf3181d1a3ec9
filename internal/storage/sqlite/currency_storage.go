package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/kissaten/internal/models"
)

// CurrencyStorage is the currency_rates table access layer (§4.4),
// grounded on original_source's fx.py schema/query shape.
type CurrencyStorage struct {
	db     *sql.DB
	logger arbor.ILogger
}

func NewCurrencyStorage(db *sql.DB, logger arbor.ILogger) *CurrencyStorage {
	return &CurrencyStorage{db: db, logger: logger}
}

// HasFreshRate reports whether any row exists with fetched_at newer than
// the given cutoff — the "stale check" of §4.4.
func (c *CurrencyStorage) HasFreshRate(ctx context.Context, since time.Time) (bool, error) {
	var count int
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM currency_rates WHERE fetched_at > ?", since.Unix()).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking currency staleness: %w", err)
	}
	return count > 0, nil
}

// ReplaceToday deletes every row fetched today and reinserts the given
// batch atomically, matching §4.4's "refresh replaces today's rows
// atomically (delete today + reinsert)".
func (c *CurrencyStorage) ReplaceToday(ctx context.Context, rates []models.CurrencyRate, now time.Time) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning currency refresh tx: %w", err)
	}
	defer tx.Rollback()

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Unix()
	if _, err := tx.ExecContext(ctx, "DELETE FROM currency_rates WHERE fetched_at >= ?", dayStart); err != nil {
		return fmt.Errorf("deleting today's currency rates: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO currency_rates (base, target, rate, fetched_at, data_timestamp) VALUES (?,?,?,?,?)
	`)
	if err != nil {
		return fmt.Errorf("preparing currency insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rates {
		if _, err := stmt.ExecContext(ctx, r.Base, r.Target, r.Rate, r.FetchedAt.Unix(), r.DataTimestamp.Unix()); err != nil {
			return fmt.Errorf("inserting currency rate %s->%s: %w", r.Base, r.Target, err)
		}
	}

	return tx.Commit()
}

// PurgeOlderThan deletes rows older than the retention window (§4.4: 7 days).
func (c *CurrencyStorage) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM currency_rates WHERE fetched_at < ?", cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("purging stale currency rates: %w", err)
	}
	return res.RowsAffected()
}

// LatestRate returns the most recent rate for base->target, or ok=false if
// none exists.
func (c *CurrencyStorage) LatestRate(ctx context.Context, base, target string) (float64, bool, error) {
	if base == target {
		return 1, true, nil
	}
	var rate float64
	err := c.db.QueryRowContext(ctx, `
		SELECT rate FROM currency_rates WHERE base = ? AND target = ? ORDER BY fetched_at DESC LIMIT 1
	`, base, target).Scan(&rate)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying latest rate %s->%s: %w", base, target, err)
	}
	return rate, true, nil
}

// AllLatestTargets returns every target currency with a known latest rate
// against base, used to null out price_usd for currencies with no rate.
func (c *CurrencyStorage) AllLatestTargets(ctx context.Context, base string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT DISTINCT target FROM currency_rates WHERE base = ?", base)
	if err != nil {
		return nil, fmt.Errorf("listing currency targets: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
