package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neorise/storefront/internal/car"
)

func TestSweepOnceClosesStaleRunningTasks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, store := newLedger(taskColumns)
	_, err := store.Insert(ctx, "ingest_tasks", []car.Row{
		{car.ColStatus: "running", car.ColCreatedAt: testNow.Add(-2 * time.Hour)},
		{car.ColStatus: "running", car.ColCreatedAt: testNow.Add(-5 * time.Minute)},
		{car.ColStatus: "success", car.ColCreatedAt: testNow.Add(-3 * time.Hour)},
	})
	require.NoError(t, err)

	j := NewJanitor(l, JanitorConfig{StaleAfter: 30 * time.Minute})
	closed, err := j.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, closed)

	byID := map[string]car.Task{}
	for _, row := range store.Rows("ingest_tasks") {
		task := car.TaskFromRow(row)
		byID[task.ID] = task
	}
	assert.Equal(t, car.TaskFailed, byID["task-1"].Status)
	assert.Equal(t, AbandonedMessage, byID["task-1"].ErrorMessage)
	assert.Equal(t, car.TaskRunning, byID["task-2"].Status)
	assert.Equal(t, car.TaskSuccess, byID["task-3"].Status)

	closed, err = j.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, closed)
}

func TestSweepOnceReportsMissingTable(t *testing.T) {
	t.Parallel()

	l, _ := newLedger(nil)
	_, err := NewJanitor(l, JanitorConfig{}).SweepOnce(context.Background())
	var missing *car.TableMissingError
	require.ErrorAs(t, err, &missing)
}

func TestJanitorStartRejectsBadSpec(t *testing.T) {
	t.Parallel()

	l, _ := newLedger(taskColumns)
	j := NewJanitor(l, JanitorConfig{Spec: "not a spec"})
	require.ErrorContains(t, j.Start(context.Background()), "cron.AddFunc")

	ok := NewJanitor(l, JanitorConfig{Spec: "@every 1h"})
	require.NoError(t, ok.Start(context.Background()))
	ok.Stop()
}
