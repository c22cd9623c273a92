package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"registration-service/config"
	"registration-service/internal/hook"
	"registration-service/internal/models"
	"registration-service/internal/payment"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// memDB is an in-memory stand-in for the database store. Rows are stored
// and returned as JSON clones, like rows scanned from the database, so no
// in-process state leaks between units of work.
type memDB struct {
	mu        sync.Mutex
	regs      map[uuid.UUID]*models.Registration
	stats     map[string]*models.EventStats
	checkouts map[uuid.UUID]*models.Checkout
	hookLogs  map[uuid.UUID]*models.HookLog

	// when set, checkout updates fail with this error
	checkoutWriteErr error
}

func newMemDB() *memDB {
	return &memDB{
		regs:      make(map[uuid.UUID]*models.Registration),
		stats:     make(map[string]*models.EventStats),
		checkouts: make(map[uuid.UUID]*models.Checkout),
		hookLogs:  make(map[uuid.UUID]*models.HookLog),
	}
}

func (d *memDB) begin(ctx context.Context) (Tx, error) {
	return &memTx{db: d}, nil
}

func (d *memDB) beginLog(ctx context.Context) (hook.LogTx, error) {
	return &memTx{db: d}, nil
}

func (d *memDB) getReg(t *testing.T, id uuid.UUID) *models.Registration {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	reg, ok := d.regs[id]
	require.True(t, ok, "registration %s not stored", id)
	return clone(t, reg)
}

func (d *memDB) getCheckout(t *testing.T, id uuid.UUID) *models.Checkout {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.checkouts[id]
	require.True(t, ok, "checkout %s not stored", id)
	return clone(t, c)
}

func (d *memDB) putReg(t *testing.T, reg *models.Registration) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.regs[reg.ID] = clone(t, reg)
}

// clone round-trips a row through JSON, like a database write and re-scan.
func clone[T any](t *testing.T, v *T) *T {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	out := new(T)
	require.NoError(t, json.Unmarshal(data, out))
	return out
}

type memTx struct {
	db  *memDB
	mu  sync.Mutex
	fns []func()
}

func (t *memTx) GetRegistration(ctx context.Context, id uuid.UUID, lock bool) (*models.Registration, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	reg, ok := t.db.regs[id]
	if !ok {
		return nil, nil
	}
	return txClone(reg), nil
}

func (t *memTx) GetRegistrations(ctx context.Context, ids []uuid.UUID, lock bool) ([]*models.Registration, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	var regs []*models.Registration
	for _, id := range ids {
		if reg, ok := t.db.regs[id]; ok {
			regs = append(regs, txClone(reg))
		}
	}
	return regs, nil
}

func (t *memTx) InsertRegistration(ctx context.Context, reg *models.Registration) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.regs[reg.ID] = txClone(reg)
	return nil
}

func (t *memTx) UpdateRegistration(ctx context.Context, reg *models.Registration) error {
	return t.InsertRegistration(ctx, reg)
}

func (t *memTx) GetEventStats(ctx context.Context, eventID string, lock bool) (*models.EventStats, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	stats, ok := t.db.stats[eventID]
	if !ok {
		stats = &models.EventStats{ID: eventID, NextNumber: 1}
		t.db.stats[eventID] = stats
	}
	return txClone(stats), nil
}

func (t *memTx) UpdateEventStats(ctx context.Context, stats *models.EventStats) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.stats[stats.ID] = txClone(stats)
	return nil
}

func (t *memTx) GetCheckout(ctx context.Context, id uuid.UUID, lock bool) (*models.Checkout, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	c, ok := t.db.checkouts[id]
	if !ok {
		return nil, nil
	}
	return txClone(c), nil
}

func (t *memTx) InsertCheckout(ctx context.Context, c *models.Checkout) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.checkouts[c.ID] = txClone(c)
	return nil
}

func (t *memTx) UpdateCheckout(ctx context.Context, c *models.Checkout) error {
	t.db.mu.Lock()
	werr := t.db.checkoutWriteErr
	t.db.mu.Unlock()
	if werr != nil {
		return werr
	}
	return t.InsertCheckout(ctx, c)
}

func (t *memTx) InsertHookLog(ctx context.Context, log *models.HookLog) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	c := *log
	t.db.hookLogs[log.ID] = &c
	return nil
}

func (t *memTx) GetHookLog(ctx context.Context, id uuid.UUID, lock bool) (*models.HookLog, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	log, ok := t.db.hookLogs[id]
	if !ok {
		return nil, nil
	}
	c := *log
	return &c, nil
}

func (t *memTx) UpdateHookLog(ctx context.Context, log *models.HookLog) error {
	return t.InsertHookLog(ctx, log)
}

func (t *memTx) DeleteHookLog(ctx context.Context, id uuid.UUID) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	delete(t.db.hookLogs, id)
	return nil
}

func (t *memTx) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fns = append(t.fns, fn)
}

// Commit runs the registered callbacks synchronously, so tests observe
// post-commit hook deliveries deterministically.
func (t *memTx) Commit() error {
	t.mu.Lock()
	fns := t.fns
	t.fns = nil
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return nil
}

func (t *memTx) Rollback() error {
	t.mu.Lock()
	t.fns = nil
	t.mu.Unlock()
	return nil
}

func txClone[T any](v *T) *T {
	data, _ := json.Marshal(v)
	out := new(T)
	_ = json.Unmarshal(data, out)
	return out
}

// memCartStore is an in-memory CartStore.
type memCartStore struct {
	mu    sync.Mutex
	carts map[string]*models.Cart
}

func newMemCartStore() *memCartStore {
	return &memCartStore{carts: make(map[string]*models.Cart)}
}

func (s *memCartStore) SaveCart(ctx context.Context, cart *models.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.carts[cart.ID]; !ok {
		s.carts[cart.ID] = txClone(cart)
	}
	return nil
}

func (s *memCartStore) GetCart(ctx context.Context, id string) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart, ok := s.carts[id]
	if !ok {
		return nil, nil
	}
	return txClone(cart), nil
}

func (s *memCartStore) SetCartPricingResult(ctx context.Context, id string, result models.JSONMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cart, ok := s.carts[id]; ok {
		cart.PricingResult = result
	}
	return nil
}

// hookRecorder records delivered hook bodies per event.
type hookRecorder struct {
	mu     sync.Mutex
	bodies map[hook.Event][]json.RawMessage
}

func newHookRecorder() *hookRecorder {
	return &hookRecorder{bodies: make(map[hook.Event][]json.RawMessage)}
}

func (r *hookRecorder) fn(event hook.Event) hook.InProcessFunc {
	return func(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.bodies[event] = append(r.bodies[event], body)
		return nil, nil
	}
}

func (r *hookRecorder) count(event hook.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies[event])
}

func (r *hookRecorder) last(t *testing.T, event hook.Event) models.JSONMap {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	bodies := r.bodies[event]
	require.NotEmpty(t, bodies, "no %s hook delivered", event)
	var m models.JSONMap
	require.NoError(t, json.Unmarshal(bodies[len(bodies)-1], &m))
	return m
}

// testEnv wires the services over the in-memory fakes, with every hook
// event bound to a recording in-process target.
type testEnv struct {
	db        *memDB
	rec       *hookRecorder
	carts     *CartService
	regs      *RegistrationService
	checkouts *CheckoutService
	pricer    *Pricer
	providers *payment.Registry
}

var testEvents = &config.EventConfig{
	Events: []config.Event{{
		ID:       "ev1",
		Name:     "Test Event",
		Currency: "USD",
		Options: map[string]config.EventOption{
			"standard": {Name: "Standard", Price: 5000},
			"vip":      {Name: "VIP", Price: 12000},
		},
	}},
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newMemDB()
	rec := newHookRecorder()

	hookEvents := []hook.Event{
		hook.EventRegistrationCreated,
		hook.EventRegistrationUpdated,
		hook.EventRegistrationCanceled,
		hook.EventCheckoutCreated,
		hook.EventCheckoutCompleted,
		hook.EventCheckoutCanceled,
	}
	var entries []hook.Entry
	for _, ev := range hookEvents {
		entries = append(entries, hook.Entry{On: ev, Hook: hook.Target{Func: string(ev)}, Retry: true})
	}
	cfg, err := hook.NewConfig(entries)
	require.NoError(t, err)

	invoker := hook.NewInvoker(nil)
	for _, ev := range hookEvents {
		invoker.RegisterFunc(string(ev), rec.fn(ev))
	}

	scheduler := hook.NewScheduler(cfg, invoker, db.beginLog)
	t.Cleanup(scheduler.Close)
	dispatcher := hook.NewDispatcher(cfg, invoker, scheduler)

	providers := payment.NewRegistry()
	providers.Register(payment.NewMockProvider())

	carts := NewCartService(newMemCartStore(), nil)
	regs := NewRegistrationService(dispatcher)
	pricer := NewPricer(testEvents, cfg, invoker)
	checkouts := NewCheckoutService(db.begin, carts, pricer, regs, providers, dispatcher)

	return &testEnv{
		db:        db,
		rec:       rec,
		carts:     carts,
		regs:      regs,
		checkouts: checkouts,
		pricer:    pricer,
		providers: providers,
	}
}

// newChange builds a cart change creating a fresh registration.
func newChange(id uuid.UUID, state string, options ...string) models.CartRegistration {
	opts := make([]interface{}, len(options))
	for i, o := range options {
		opts[i] = o
	}
	return models.CartRegistration{
		ID:      id,
		OldData: models.JSONMap{},
		NewData: models.JSONMap{
			"state":      state,
			"event_id":   "ev1",
			"email":      "a@example.com",
			"option_ids": opts,
		},
	}
}

// updateChange builds a cart change updating an existing registration.
func updateChange(reg *models.Registration, newData models.JSONMap) models.CartRegistration {
	return models.CartRegistration{
		ID:      reg.ID,
		OldData: reg.Data(),
		NewData: newData,
	}
}

func seedRegistration(t *testing.T, db *memDB, state models.RegistrationState, version int) *models.Registration {
	t.Helper()
	email := "a@example.com"
	reg := &models.Registration{
		ID:          uuid.New(),
		State:       state,
		EventID:     "ev1",
		Version:     version,
		DateCreated: time.Now(),
		Email:       &email,
		OptionIDs:   models.StringList{"standard"},
		ExtraData:   models.JSONMap{},
	}
	db.putReg(t, reg)
	return reg
}
