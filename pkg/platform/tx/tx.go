package tx

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// DBTX is the subset of *sql.DB and *sql.Tx used by stores.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Executor returns the transaction in ctx, falling back to db.
func Executor(ctx context.Context, db *sql.DB) DBTX {
	if tx, ok := From(ctx); ok {
		return tx
	}
	return db
}

// Runner executes fn inside a transactional boundary. Stores called with the
// context passed to fn participate in the same unit of work.
type Runner interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

// SQLRunner runs units of work in a database/sql transaction.
type SQLRunner struct {
	db        *sql.DB
	isolation sql.IsolationLevel
	timeout   time.Duration
}

// SQLOption configures a SQLRunner.
type SQLOption func(*SQLRunner)

// WithIsolation overrides the default read-committed isolation level.
func WithIsolation(level sql.IsolationLevel) SQLOption {
	return func(r *SQLRunner) {
		r.isolation = level
	}
}

// WithTimeout bounds the whole transaction, including commit.
func WithTimeout(d time.Duration) SQLOption {
	return func(r *SQLRunner) {
		r.timeout = d
	}
}

// NewSQL constructs a runner over db.
func NewSQL(db *sql.DB, opts ...SQLOption) *SQLRunner {
	r := &SQLRunner{db: db, isolation: sql.LevelReadCommitted}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunInTx begins a transaction, runs fn and commits. Any error from fn, or a
// panic, rolls the transaction back. Nested calls reuse the outer transaction.
func (r *SQLRunner) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) (err error) {
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: r.isolation})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// In-memory transactions
// -----------------------------------------------------------------------------

type journalKey struct{}

// Journal records compensating actions for in-memory stores so a failed unit
// of work leaves no partial writes behind.
type Journal struct {
	owner *InMemoryRunner
	undo  []func()
}

// Record registers fn to run if the surrounding unit of work fails.
func (j *Journal) Record(fn func()) {
	j.undo = append(j.undo, fn)
}

func (j *Journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// JournalFrom extracts the in-memory journal from ctx if present.
func JournalFrom(ctx context.Context) (*Journal, bool) {
	j, ok := ctx.Value(journalKey{}).(*Journal)
	return j, ok
}

// Guard orders in-memory store access made outside a unit of work against
// the units in flight. Both methods return the matching release func and are
// no-ops when ctx already belongs to a unit of work.
type Guard interface {
	Read(ctx context.Context) (release func())
	Write(ctx context.Context) (release func())
}

// NoGuard is the Guard of stores that are not shared with a runner.
var NoGuard Guard = noGuard{}

type noGuard struct{}

func (noGuard) Read(context.Context) func()  { return func() {} }
func (noGuard) Write(context.Context) func() { return func() {} }

// InMemoryRunner serializes units of work with a single lock and rolls back
// journaled writes on error. Stores built with the runner as their Guard read
// under the same lock, so writes of a unit are visible to others only once
// it has returned: all of them on success, none after a rollback.
type InMemoryRunner struct {
	mu sync.RWMutex
}

// NewInMemory constructs an in-memory runner.
func NewInMemory() *InMemoryRunner {
	return &InMemoryRunner{}
}

func (r *InMemoryRunner) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) (err error) {
	if r.owns(ctx) {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	j := &Journal{owner: r}
	defer func() {
		if p := recover(); p != nil {
			j.rollback()
			panic(p)
		}
	}()
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		j.rollback()
		return err
	}
	return nil
}

// Read waits for the unit of work in flight, if any, and holds off new ones
// until release is called.
func (r *InMemoryRunner) Read(ctx context.Context) func() {
	if r.owns(ctx) {
		return func() {}
	}
	r.mu.RLock()
	return r.mu.RUnlock
}

// Write excludes units of work and other guarded access until release.
func (r *InMemoryRunner) Write(ctx context.Context) func() {
	if r.owns(ctx) {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *InMemoryRunner) owns(ctx context.Context) bool {
	j, ok := JournalFrom(ctx)
	return ok && j.owner == r
}
