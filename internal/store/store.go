package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"registration-service/internal/util"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, logger: util.GetLogger()}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Begin starts a transaction wrapped with post-commit callback support.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{Tx: tx, hooks: newCommitHooks(s.logger), logger: s.logger}, nil
}

// Tx is a database transaction. Callbacks registered via OnCommit run only
// after the transaction really commits; they are discarded on rollback.
type Tx struct {
	*sqlx.Tx
	hooks  *commitHooks
	logger *zap.Logger
}

// OnCommit registers a callback to run after a successful commit.
// Callbacks run concurrently with each other and never block the caller.
func (t *Tx) OnCommit(fn func()) {
	t.hooks.add(fn)
}

// Commit commits the transaction and fires the registered callbacks.
func (t *Tx) Commit() error {
	if err := t.Tx.Commit(); err != nil {
		t.hooks.discard()
		return err
	}
	t.hooks.fire()
	return nil
}

// Rollback rolls back the transaction and discards the callbacks.
func (t *Tx) Rollback() error {
	t.hooks.discard()
	return t.Tx.Rollback()
}

// commitHooks accumulates post-commit callbacks for one transaction.
type commitHooks struct {
	mu     sync.Mutex
	fns    []func()
	fired  bool
	wg     sync.WaitGroup
	logger *zap.Logger
}

func newCommitHooks(logger *zap.Logger) *commitHooks {
	return &commitHooks{logger: logger}
}

func (h *commitHooks) add(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = append(h.fns, fn)
}

// fire runs every callback in its own goroutine. Panics are recovered and
// logged; a callback failure never propagates to the committing request.
func (h *commitHooks) fire() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.fired = true
	h.mu.Unlock()

	for _, fn := range fns {
		fn := fn
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					h.logger.Error("Unhandled panic in post-commit callback",
						zap.Any("panic", r))
				}
			}()
			fn()
		}()
	}
}

func (h *commitHooks) discard() {
	h.mu.Lock()
	h.fns = nil
	h.mu.Unlock()
}

// wait blocks until all fired callbacks have returned.
func (h *commitHooks) wait() {
	h.wg.Wait()
}
