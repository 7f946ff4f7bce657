package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/neorise/storefront/internal/car"
	"github.com/neorise/storefront/internal/metrics"
	"github.com/neorise/storefront/internal/persist"
)

// AbandonedMessage is stored on tasks the janitor closes.
const AbandonedMessage = "abandoned: run did not finish"

// JanitorConfig controls the sweep schedule.
type JanitorConfig struct {
	// Spec is a cron spec, e.g. "@every 10m".
	Spec string
	// StaleAfter is how long a task may stay running before it is considered abandoned.
	StaleAfter time.Duration
}

// Janitor periodically fails tasks left running by interrupted requests.
type Janitor struct {
	ledger *Ledger
	cfg    JanitorConfig
	cron   *cron.Cron
}

// NewJanitor wraps robfig/cron around SweepOnce.
func NewJanitor(l *Ledger, cfg JanitorConfig) *Janitor {
	if cfg.Spec == "" {
		cfg.Spec = "@every 10m"
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	return &Janitor{
		ledger: l,
		cfg:    cfg,
		cron:   cron.New(cron.WithLogger(cronLogger{l.logger.Sugar()})),
	}
}

// Start registers the sweep and starts the scheduler.
func (j *Janitor) Start(ctx context.Context) error {
	_, err := j.cron.AddFunc(j.cfg.Spec, func() {
		if _, err := j.SweepOnce(ctx); err != nil {
			j.ledger.logger.Warn("ledger sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	j.cron.Start()
	j.ledger.logger.Info("ledger janitor started",
		zap.String("spec", j.cfg.Spec),
		zap.Duration("stale_after", j.cfg.StaleAfter))
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// SweepOnce marks stale running tasks as failed and returns how many it closed.
func (j *Janitor) SweepOnce(ctx context.Context) (int, error) {
	cutoff := j.ledger.clock.Now().Add(-j.cfg.StaleAfter)
	rows, err := j.ledger.store.Select(ctx, j.ledger.table, car.Query{
		Where: []car.Filter{
			car.Eq(car.ColStatus, string(car.TaskRunning)),
			car.Lt(car.ColCreatedAt, cutoff),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("select stale tasks from %s: %w", j.ledger.table, err)
	}
	closed := 0
	var errs []error
	for _, row := range rows {
		task := car.TaskFromRow(row)
		if task.ID == "" {
			continue
		}
		_, err := persist.UpdateWithFallback(ctx, j.ledger.store, j.ledger.table, car.Row{
			car.ColStatus:       string(car.TaskFailed),
			car.ColErrorMessage: AbandonedMessage,
		}, car.Eq(car.ColID, task.ID))
		if err != nil {
			errs = append(errs, fmt.Errorf("close task %s: %w", task.ID, err))
			continue
		}
		closed++
	}
	metrics.ObserveAbandonedTasks(closed)
	if closed > 0 {
		j.ledger.logger.Info("abandoned ingest tasks closed", zap.Int("count", closed))
	}
	return closed, errors.Join(errs...)
}

type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
