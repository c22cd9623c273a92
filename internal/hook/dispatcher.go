package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"registration-service/internal/models"
	"registration-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Tx is the transaction handle the dispatcher binds side-effects to.
// Satisfied by store.Tx.
type Tx interface {
	OnCommit(fn func())
	InsertHookLog(ctx context.Context, log *models.HookLog) error
}

// Dispatcher decouples deciding that a hook should fire (inside a business
// transaction) from actually invoking it (only after that transaction
// commits). Retryable hooks are persisted as durable work items; the rest
// are fire-and-forget post-commit calls.
type Dispatcher struct {
	config    *Config
	invoker   *Invoker
	scheduler *Scheduler
	logger    *zap.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(config *Config, invoker *Invoker, scheduler *Scheduler) *Dispatcher {
	return &Dispatcher{
		config:    config,
		invoker:   invoker,
		scheduler: scheduler,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// Schedule queues delivery of body for every hook configured for event.
// Nothing is invoked until tx commits; a rollback discards everything.
func (d *Dispatcher) Schedule(ctx context.Context, tx Tx, event Event, body interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal hook body: %w", err)
	}

	for _, entry := range d.config.ByEvent(event) {
		entry := entry
		if entry.Retry {
			config, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("failed to marshal hook config: %w", err)
			}

			log := models.NewHookLog(config, raw, d.now())
			if err := tx.InsertHookLog(ctx, log); err != nil {
				return err
			}

			id := log.ID
			tx.OnCommit(func() {
				d.scheduler.AttemptDelivery(context.Background(), []uuid.UUID{id})
			})
		} else {
			tx.OnCommit(func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()

				if _, err := d.invoker.Invoke(ctx, entry.Hook, raw); err != nil {
					// non-retryable hooks are fire-and-forget
					util.HooksFailedTotal.WithLabelValues(string(entry.On)).Inc()
					d.logger.Error("Post-commit hook failed",
						zap.String("event", string(entry.On)),
						zap.Error(err))
					return
				}
				util.HooksDeliveredTotal.WithLabelValues(string(entry.On)).Inc()
			})
		}
	}

	return nil
}
