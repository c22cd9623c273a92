package hook

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"registration-service/internal/models"
	"registration-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LogTx is a transaction over hook-log work items. Satisfied by store.Tx.
type LogTx interface {
	GetHookLog(ctx context.Context, id uuid.UUID, lock bool) (*models.HookLog, error)
	UpdateHookLog(ctx context.Context, log *models.HookLog) error
	DeleteHookLog(ctx context.Context, id uuid.UUID) error
	Commit() error
	Rollback() error
}

// BeginFunc opens a new LogTx.
type BeginFunc func(ctx context.Context) (LogTx, error)

// Scheduler attempts delivery of persisted hook work items, applies the
// fixed backoff table on failure, and manages the deferred retry timers.
type Scheduler struct {
	config  *Config
	invoker *Invoker
	begin   BeginFunc
	logger  *zap.Logger
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler.
func NewScheduler(config *Config, invoker *Invoker, begin BeginFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		config:  config,
		invoker: invoker,
		begin:   begin,
		logger:  util.GetLogger(),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// AttemptDelivery attempts to deliver the work items with the given IDs.
// Items that no longer exist or are not currently eligible are skipped
// silently. Failed deliveries are rescheduled per the backoff table until
// it is exhausted; exhausted items keep their row for inspection.
func (s *Scheduler) AttemptDelivery(ctx context.Context, ids []uuid.UUID) {
	for _, id := range ids {
		if err := s.attemptOne(ctx, id); err != nil {
			s.logger.Error("Hook delivery attempt failed to run",
				zap.String("hook_id", id.String()),
				zap.Error(err))
		}
	}
}

func (s *Scheduler) attemptOne(ctx context.Context, id uuid.UUID) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	log, err := tx.GetHookLog(ctx, id, true)
	if err != nil {
		return err
	}
	if log == nil || !log.Eligible(s.now()) {
		return nil
	}

	invokeErr := s.invoke(ctx, log)
	if invokeErr == nil {
		// delete only after a confirmed successful delivery
		if err := tx.DeleteHookLog(ctx, id); err != nil {
			return err
		}
		return tx.Commit()
	}

	retryAt := log.UpdateAttempts(s.now())
	if err := tx.UpdateHookLog(ctx, log); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if retryAt != nil {
		util.HookRetriesScheduledTotal.Inc()
		s.logger.Error("Hook delivery failed, will retry",
			zap.String("hook_id", id.String()),
			zap.Int("attempts", log.Attempts),
			zap.Time("retry_at", *retryAt),
			zap.Error(invokeErr))
		s.scheduleAt(*retryAt, id)
	} else {
		util.HooksAbandonedTotal.Inc()
		s.logger.Error("Hook delivery failed, giving up",
			zap.String("hook_id", id.String()),
			zap.Int("attempts", log.Attempts),
			zap.Error(invokeErr))
	}
	return nil
}

// invoke runs the hook described by a work item, first verifying that its
// stored config still exists verbatim in the live configuration.
func (s *Scheduler) invoke(ctx context.Context, log *models.HookLog) error {
	var entry Entry
	if err := json.Unmarshal(log.Config, &entry); err != nil {
		return err
	}

	if !s.config.Exists(entry) {
		util.HooksConfigDriftTotal.Inc()
		return errConfigDrift{event: entry.On}
	}

	start := time.Now()
	_, err := s.invoker.Invoke(ctx, entry.Hook, log.Body)
	util.HookDeliveryLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		util.HooksFailedTotal.WithLabelValues(string(entry.On)).Inc()
		return err
	}
	util.HooksDeliveredTotal.WithLabelValues(string(entry.On)).Inc()
	return nil
}

type errConfigDrift struct {
	event Event
}

func (e errConfigDrift) Error() string {
	return "stored hook for event " + string(e.event) + " does not exist in the live config"
}

// scheduleAt arranges a delivery attempt for id at time t. The timer
// re-checks the clock in a loop rather than trusting one sleep, and is
// canceled as a group by Close.
func (s *Scheduler) scheduleAt(t time.Time, id uuid.UUID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if !s.waitUntil(t) {
			return
		}
		s.AttemptDelivery(s.ctx, []uuid.UUID{id})
	}()
}

// waitUntil sleeps until the target wall-clock time, re-checking the
// current time after each sleep. Returns false if the scheduler closed.
func (s *Scheduler) waitUntil(t time.Time) bool {
	for {
		now := s.now()
		if !now.Before(t) {
			return true
		}

		timer := time.NewTimer(t.Sub(now))
		select {
		case <-timer.C:
		case <-s.ctx.Done():
			timer.Stop()
			return false
		}
	}
}

// Close cancels every outstanding retry timer and waits for them to stop.
// Pending work keeps its persisted retry_at and is picked up by the sweep
// after a restart.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
