// Package persist writes loose rows to a table store whose schema may lag
// behind the application: columns the backend rejects are dropped one at a
// time and the write is retried, up to MaxAttempts submissions.
package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/metrics"
)

// MaxAttempts bounds the number of submissions for a single write.
const MaxAttempts = 8

// ErrTooManyRetries is returned when a write still fails after MaxAttempts submissions.
var ErrTooManyRetries = errors.New("schema fallback retries exhausted")

// InsertOptions tunes InsertWithFallback.
type InsertOptions struct {
	// Protected columns are never dropped; a mismatch on one surfaces immediately.
	Protected []string
	// OnRetry is called with the retry number before every resubmission.
	OnRetry func(retry int)
}

// WriteResult describes a completed write.
type WriteResult struct {
	Rows     []car.Row
	Dropped  []string
	Attempts int
}

// DroppedColumn reports whether column was removed during negotiation.
func (r WriteResult) DroppedColumn(column string) bool {
	for _, c := range r.Dropped {
		if c == column {
			return true
		}
	}
	return false
}

// InsertWithFallback inserts payload as a single row into table.
func InsertWithFallback(ctx context.Context, store car.TableStore, table string, payload car.Row, opts InsertOptions) (WriteResult, error) {
	protected := make(map[string]bool, len(opts.Protected))
	for _, c := range opts.Protected {
		protected[c] = true
	}
	working := payload.Clone()
	var (
		res     WriteResult
		lastErr error
	)
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if attempt > 1 && opts.OnRetry != nil {
			opts.OnRetry(attempt - 1)
		}
		res.Attempts = attempt
		rows, err := store.Insert(ctx, table, []car.Row{working})
		if err == nil {
			res.Rows = rows
			return res, nil
		}
		col, ok := rejectedColumn(err, working)
		if !ok || protected[col] {
			return res, fmt.Errorf("insert into %s: %w", table, err)
		}
		delete(working, col)
		res.Dropped = append(res.Dropped, col)
		metrics.ObserveColumnFallback(table, col)
		lastErr = err
	}
	return res, fmt.Errorf("insert into %s after %d attempts: %w", table, MaxAttempts, errors.Join(ErrTooManyRetries, lastErr))
}

// UpdateWithFallback applies payload to the rows matching match.
// It returns car.ErrNoRows when nothing matched, including when the match
// column itself does not exist, so callers can retry with another key.
func UpdateWithFallback(ctx context.Context, store car.TableStore, table string, payload car.Row, match car.Filter) (WriteResult, error) {
	working := payload.Clone()
	var (
		res     WriteResult
		lastErr error
	)
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if len(working) == 0 {
			return res, fmt.Errorf("update %s: every column was rejected: %w", table, lastErr)
		}
		res.Attempts = attempt
		rows, err := store.Update(ctx, table, working, match)
		if err == nil {
			if len(rows) == 0 {
				return res, fmt.Errorf("update %s where %s: %w", table, match.Column, car.ErrNoRows)
			}
			res.Rows = rows
			return res, nil
		}
		var mismatch *car.SchemaMismatchError
		if errors.As(err, &mismatch) && mismatch.Column == match.Column {
			return res, fmt.Errorf("update %s: no column %s: %w", table, match.Column, car.ErrNoRows)
		}
		col, ok := rejectedColumn(err, working)
		if !ok {
			return res, fmt.Errorf("update %s: %w", table, err)
		}
		delete(working, col)
		res.Dropped = append(res.Dropped, col)
		metrics.ObserveColumnFallback(table, col)
		lastErr = err
	}
	return res, fmt.Errorf("update %s after %d attempts: %w", table, MaxAttempts, errors.Join(ErrTooManyRetries, lastErr))
}

// rejectedColumn extracts the column a schema mismatch names, if the payload carries it.
func rejectedColumn(err error, payload car.Row) (string, bool) {
	var mismatch *car.SchemaMismatchError
	if !errors.As(err, &mismatch) || mismatch.Column == "" {
		return "", false
	}
	if !payload.Has(mismatch.Column) {
		return "", false
	}
	return mismatch.Column, true
}
