package hook

import (
	"context"
	"testing"

	"registration-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTx implements the dispatcher's transaction contract, recording the
// registered callbacks so tests can simulate commit and rollback.
type fakeTx struct {
	logs *memLogs
	fns  []func()
}

func (t *fakeTx) OnCommit(fn func()) {
	t.fns = append(t.fns, fn)
}

func (t *fakeTx) InsertHookLog(ctx context.Context, log *models.HookLog) error {
	t.logs.put(log)
	return nil
}

func (t *fakeTx) commit() {
	for _, fn := range t.fns {
		fn()
	}
	t.fns = nil
}

func (t *fakeTx) rollback() {
	t.fns = nil
}

func newTestDispatcher(t *testing.T, entries []Entry, target *countingFunc, logs *memLogs) *Dispatcher {
	t.Helper()

	cfg, err := NewConfig(entries)
	require.NoError(t, err)

	invoker := NewInvoker(nil)
	invoker.RegisterFunc("deliver", target.fn)

	scheduler := NewScheduler(cfg, invoker, logs.begin)
	t.Cleanup(scheduler.Close)

	return NewDispatcher(cfg, invoker, scheduler)
}

func TestDispatcherFiresOnlyAfterCommit(t *testing.T) {
	entry := Entry{On: EventCheckoutCompleted, Hook: Target{Func: "deliver"}, Retry: false}
	target := &countingFunc{}
	logs := newMemLogs()
	d := newTestDispatcher(t, []Entry{entry}, target, logs)

	tx := &fakeTx{logs: logs}
	err := d.Schedule(context.Background(), tx, EventCheckoutCompleted, map[string]string{"id": "c1"})
	require.NoError(t, err)

	// nothing runs inside the transaction
	assert.Equal(t, 0, target.callCount())

	tx.commit()
	assert.Equal(t, 1, target.callCount())
	assert.JSONEq(t, `{"id":"c1"}`, string(target.body))
}

func TestDispatcherRollbackDiscards(t *testing.T) {
	entry := Entry{On: EventCheckoutCompleted, Hook: Target{Func: "deliver"}, Retry: false}
	target := &countingFunc{}
	logs := newMemLogs()
	d := newTestDispatcher(t, []Entry{entry}, target, logs)

	tx := &fakeTx{logs: logs}
	err := d.Schedule(context.Background(), tx, EventCheckoutCompleted, map[string]string{"id": "c1"})
	require.NoError(t, err)

	tx.rollback()
	assert.Equal(t, 0, target.callCount())
}

func TestDispatcherRetryableRoundTrip(t *testing.T) {
	entry := Entry{On: EventRegistrationCreated, Hook: Target{Func: "deliver"}, Retry: true}
	target := &countingFunc{}
	logs := newMemLogs()
	d := newTestDispatcher(t, []Entry{entry}, target, logs)

	tx := &fakeTx{logs: logs}
	err := d.Schedule(context.Background(), tx, EventRegistrationCreated, map[string]string{"id": "r1"})
	require.NoError(t, err)

	// the work item is written inside the transaction
	assert.Equal(t, 1, logs.count())
	assert.Equal(t, 0, target.callCount())

	// commit triggers the first delivery attempt, which succeeds and
	// removes the work item
	tx.commit()
	assert.Equal(t, 1, target.callCount())
	assert.Equal(t, 0, logs.count())
}

func TestDispatcherNoEntriesForEvent(t *testing.T) {
	entry := Entry{On: EventRegistrationCreated, Hook: Target{Func: "deliver"}, Retry: true}
	target := &countingFunc{}
	logs := newMemLogs()
	d := newTestDispatcher(t, []Entry{entry}, target, logs)

	tx := &fakeTx{logs: logs}
	err := d.Schedule(context.Background(), tx, EventCheckoutCanceled, map[string]string{})
	require.NoError(t, err)

	tx.commit()
	assert.Equal(t, 0, logs.count())
	assert.Equal(t, 0, target.callCount())
}

func TestDispatcherMultipleTargets(t *testing.T) {
	entries := []Entry{
		{On: EventRegistrationCreated, Hook: Target{Func: "deliver"}, Retry: true},
		{On: EventRegistrationCreated, Hook: Target{Func: "deliver"}, Retry: false},
	}
	target := &countingFunc{}
	logs := newMemLogs()
	d := newTestDispatcher(t, entries, target, logs)

	tx := &fakeTx{logs: logs}
	err := d.Schedule(context.Background(), tx, EventRegistrationCreated, map[string]string{})
	require.NoError(t, err)

	tx.commit()
	assert.Equal(t, 2, target.callCount())
}
