package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/storage/memory"
)

type seqIDs struct{ n int }

func (s *seqIDs) NewID() (string, error) {
	s.n++
	return fmt.Sprintf("task-%d", s.n), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

var taskColumns = []string{
	car.ColStatus, car.ColRetryCount, car.ColErrorMessage, car.ColCarID, car.ColStockNo, car.ColCreatedAt,
}

func newLedger(columns []string) (*Ledger, *memory.TableStore) {
	store := memory.NewTableStore(&seqIDs{}, fixedClock{now: testNow})
	if columns != nil {
		store.CreateTable("ingest_tasks", memory.TableSpec{Columns: columns})
	}
	return New(store, "ingest_tasks", fixedClock{now: testNow}, nil), store
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, store := newLedger(taskColumns)
	run := l.Begin(ctx)
	require.True(t, run.Enabled())
	require.Equal(t, "task-1", run.ID())
	require.Empty(t, run.Warning())

	rows := store.Rows("ingest_tasks")
	require.Len(t, rows, 1)
	assert.Equal(t, car.TaskRunning, car.TaskFromRow(rows[0]).Status)

	assert.Empty(t, run.SetRetries(ctx, 2))
	assert.Empty(t, run.Succeed(ctx, "car-9", "ABC-123"))
	assert.Empty(t, run.Fail(ctx, errors.New("too late")))

	task := car.TaskFromRow(store.Rows("ingest_tasks")[0])
	assert.Equal(t, car.TaskSuccess, task.Status)
	assert.Equal(t, 2, task.RetryCount)
	assert.Equal(t, "car-9", task.CarID)
	assert.Equal(t, "ABC-123", task.StockNo)
	assert.Empty(t, task.ErrorMessage)
}

func TestBeginWithMissingTableDisablesRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, _ := newLedger(nil)
	run := l.Begin(ctx)
	assert.False(t, run.Enabled())
	assert.Empty(t, run.ID())
	assert.Equal(t, "task logging disabled because table ingest_tasks does not exist", run.Warning())
	assert.Empty(t, run.Patch(ctx, car.Row{car.ColRetryCount: 1}))
	assert.Empty(t, run.Fail(ctx, errors.New("boom")))
}

func TestBeginWithBackendFailureDisablesRun(t *testing.T) {
	t.Parallel()

	l, store := newLedger(taskColumns)
	store.FailNext(memory.OpInsert, "ingest_tasks", errors.New("permission denied"))
	run := l.Begin(context.Background())
	assert.False(t, run.Enabled())
	assert.True(t, strings.HasPrefix(run.Warning(), "task logging disabled: "))
	assert.Contains(t, run.Warning(), "permission denied")
}

func TestSucceedDropsColumnsTheTableLacks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, store := newLedger([]string{car.ColStatus, car.ColRetryCount, car.ColErrorMessage})
	run := l.Begin(ctx)
	require.True(t, run.Enabled())
	assert.Empty(t, run.Succeed(ctx, "car-1", "ABC-1"))
	assert.Equal(t, car.TaskSuccess, car.TaskFromRow(store.Rows("ingest_tasks")[0]).Status)
}

func TestFailTruncatesMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, store := newLedger(taskColumns)
	run := l.Begin(ctx)
	run.Fail(ctx, errors.New(strings.Repeat("错", 600)))

	task := car.TaskFromRow(store.Rows("ingest_tasks")[0])
	assert.Equal(t, car.TaskFailed, task.Status)
	assert.Equal(t, 500, len([]rune(task.ErrorMessage)))
}

func TestPatchFailureBecomesWarning(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, store := newLedger(taskColumns)
	run := l.Begin(ctx)
	store.FailNext(memory.OpUpdate, "ingest_tasks", errors.New("timeout"))

	warning := run.SetRetries(ctx, 1)
	assert.Contains(t, warning, "timeout")
	assert.Equal(t, warning, run.Warning())
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ab", Truncate("abc", 2))
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "日本", Truncate("日本語", 2))
	assert.Equal(t, "", Truncate("abc", 0))
}
