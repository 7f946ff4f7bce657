// Package ledger records one row per ingestion attempt. Logging is best
// effort: when the task table is unavailable the run continues untracked and
// the failure is reported back as a warning string.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/persist"
)

// MaxErrorMessageLen caps the stored error message, in runes.
const MaxErrorMessageLen = 500

// Ledger opens task runs in the tasks table.
type Ledger struct {
	store  car.TableStore
	table  string
	clock  car.Clock
	logger *zap.Logger
}

// New constructs a Ledger writing to table.
func New(store car.TableStore, table string, clock car.Clock, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, table: table, clock: clock, logger: logger}
}

// Table returns the task table name.
func (l *Ledger) Table() string { return l.table }

// Begin inserts a running task. It never fails; a disabled Run carries the reason in Warning.
func (l *Ledger) Begin(ctx context.Context) *Run {
	res, err := persist.InsertWithFallback(ctx, l.store, l.table, car.Row{
		car.ColStatus:       string(car.TaskRunning),
		car.ColRetryCount:   0,
		car.ColErrorMessage: nil,
		car.ColCreatedAt:    l.clock.Now(),
	}, persist.InsertOptions{})
	if err == nil && len(res.Rows) > 0 {
		if id := res.Rows[0].String(car.ColID); id != "" {
			return &Run{ledger: l, id: id}
		}
		err = errors.New("inserted task has no id")
	}
	if err == nil {
		err = errors.New("insert returned no row")
	}

	var missing *car.TableMissingError
	warning := "task logging disabled: " + err.Error()
	if errors.As(err, &missing) {
		warning = fmt.Sprintf("task logging disabled because table %s does not exist", l.table)
	}
	l.logger.Warn("ingest task ledger unavailable", zap.String("table", l.table), zap.Error(err))
	return &Run{ledger: l, disabled: true, warnings: []string{warning}}
}

// Run is one tracked ingestion attempt.
type Run struct {
	ledger   *Ledger
	id       string
	disabled bool

	mu       sync.Mutex
	warnings []string
	finished bool
}

// ID returns the task id, or "" when the run is untracked.
func (r *Run) ID() string { return r.id }

// Enabled reports whether the run is backed by a task row.
func (r *Run) Enabled() bool { return !r.disabled }

// Warning returns every logging problem seen so far, joined.
func (r *Run) Warning() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.warnings, "; ")
}

// Patch updates the task row. Failures are logged and returned as a warning, never as an error.
func (r *Run) Patch(ctx context.Context, fields car.Row) string {
	if r.disabled || len(fields) == 0 {
		return ""
	}
	_, err := persist.UpdateWithFallback(ctx, r.ledger.store, r.ledger.table, fields, car.Eq(car.ColID, r.id))
	if err == nil {
		return ""
	}
	warning := fmt.Sprintf("task %s update failed: %v", r.id, err)
	r.ledger.logger.Warn("ingest task update failed", zap.String("task_id", r.id), zap.Error(err))
	r.mu.Lock()
	r.warnings = append(r.warnings, warning)
	r.mu.Unlock()
	return warning
}

// SetRetries records the current retry count.
func (r *Run) SetRetries(ctx context.Context, n int) string {
	return r.Patch(ctx, car.Row{car.ColRetryCount: n})
}

// Succeed marks the task successful. Only the first terminal call has an effect.
func (r *Run) Succeed(ctx context.Context, carID, stockNo string) string {
	if !r.finish() {
		return ""
	}
	return r.Patch(ctx, car.Row{
		car.ColStatus:       string(car.TaskSuccess),
		car.ColErrorMessage: nil,
		car.ColCarID:        carID,
		car.ColStockNo:      stockNo,
	})
}

// Fail marks the task failed with a truncated error message. Only the first terminal call has an effect.
func (r *Run) Fail(ctx context.Context, cause error) string {
	if !r.finish() {
		return ""
	}
	msg := "unknown error"
	if cause != nil {
		msg = Truncate(cause.Error(), MaxErrorMessageLen)
	}
	return r.Patch(ctx, car.Row{
		car.ColStatus:       string(car.TaskFailed),
		car.ColErrorMessage: msg,
	})
}

func (r *Run) finish() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return false
	}
	r.finished = true
	return true
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
