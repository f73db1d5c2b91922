// Package transaction runs unit-of-work callbacks inside database transactions
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrDeadlock is returned when retries are exhausted on deadlocks
	ErrDeadlock = errors.New("deadlock detected")
	// ErrTransactionDone is returned when using a finished transaction
	ErrTransactionDone = errors.New("transaction already finished")
)

var savepointCounter atomic.Uint64

// Transaction wraps a sql.Tx. Nested transactions share the parent's Tx
// and are backed by savepoints.
type Transaction struct {
	tx            *sql.Tx
	ctx           context.Context
	level         int
	savepointName string
	done          atomic.Bool
}

// Manager manages database transactions
type Manager struct {
	db *sql.DB
}

// NewManager creates a new transaction manager
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Begin starts a new transaction at the database's default isolation level
func (m *Manager) Begin(ctx context.Context) (*Transaction, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Transaction{tx: tx, ctx: ctx}, nil
}

// WithTransaction executes fn within a transaction. fn receives a context
// carrying the transaction, see FromContext. It commits when fn returns nil
// and rolls back on error or panic.
func (m *Manager) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx.Context(), tx.tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Context returns a context carrying the transaction
func (t *Transaction) Context() context.Context {
	return WithContext(t.ctx, t)
}

// Tx returns the underlying sql.Tx
func (t *Transaction) Tx() *sql.Tx {
	return t.tx
}

// Commit commits the transaction, or releases its savepoint when nested
func (t *Transaction) Commit() error {
	if !t.done.CompareAndSwap(false, true) {
		return ErrTransactionDone
	}

	if t.level > 0 {
		if _, err := t.tx.ExecContext(t.ctx, "RELEASE SAVEPOINT "+t.savepointName); err != nil {
			return fmt.Errorf("failed to release savepoint: %w", err)
		}
		return nil
	}

	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction, or to its savepoint when nested.
// Rolling back twice is a no-op.
func (t *Transaction) Rollback() error {
	if !t.done.CompareAndSwap(false, true) {
		return nil
	}

	if t.level > 0 {
		if _, err := t.tx.ExecContext(t.ctx, "ROLLBACK TO SAVEPOINT "+t.savepointName); err != nil {
			return fmt.Errorf("failed to rollback to savepoint: %w", err)
		}
		return nil
	}

	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// BeginNested opens a savepoint inside the transaction
func (t *Transaction) BeginNested(ctx context.Context) (*Transaction, error) {
	if t.done.Load() {
		return nil, ErrTransactionDone
	}

	name := fmt.Sprintf("sp_%d_%d", savepointCounter.Add(1), t.level+1)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, fmt.Errorf("failed to create savepoint: %w", err)
	}

	return &Transaction{
		tx:            t.tx,
		ctx:           ctx,
		level:         t.level + 1,
		savepointName: name,
	}, nil
}
