// Package worker runs the background sweep for overdue hook deliveries.
package worker

import (
	"context"
	"time"

	"registration-service/internal/hook"
	"registration-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HookLogSource lists hook-log work items that are due for delivery.
// *store.Store satisfies it.
type HookLogSource interface {
	ListDueHookLogs(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// RetryWorker periodically scans for overdue hook-log rows and feeds them
// to the scheduler. It is what picks deliveries back up after a restart,
// when the in-process retry timers are gone.
type RetryWorker struct {
	source    HookLogSource
	scheduler *hook.Scheduler
	interval  time.Duration
	limit     int
	logger    *zap.Logger
	stop      chan struct{}
	done      chan struct{}
}

// NewRetryWorker creates a new retry worker.
func NewRetryWorker(source HookLogSource, scheduler *hook.Scheduler, interval time.Duration, limit int) *RetryWorker {
	return &RetryWorker{
		source:    source,
		scheduler: scheduler,
		interval:  interval,
		limit:     limit,
		logger:    util.GetLogger(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs the sweep loop in the background. The first sweep runs
// immediately so pending deliveries resume right after startup.
func (w *RetryWorker) Start() {
	w.logger.Info("Starting hook retry worker", zap.Duration("interval", w.interval))
	go w.run()
}

// Stop stops the sweep loop and waits for it to exit.
func (w *RetryWorker) Stop() {
	close(w.stop)
	<-w.done
	w.logger.Info("Hook retry worker stopped")
}

func (w *RetryWorker) run() {
	defer close(w.done)

	w.sweep()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.stop:
			return
		}
	}
}

func (w *RetryWorker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids, err := w.source.ListDueHookLogs(ctx, time.Now(), w.limit)
	if err != nil {
		w.logger.Error("Hook sweep failed", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	w.logger.Info("Sweeping overdue hook deliveries", zap.Int("count", len(ids)))
	w.scheduler.AttemptDelivery(ctx, ids)
}
