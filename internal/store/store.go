package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/safar/dental-lab-orders/internal/database"
	"github.com/safar/dental-lab-orders/internal/lifecycle"
)

const defaultLockTimeout = 5 * time.Second

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres implementation of lifecycle.Repository plus the
// read-side queries used by the API.
type Store struct {
	db          *sql.DB
	txOpts      database.TxOptions
	lockTimeout time.Duration
}

func New(db *sql.DB) *Store {
	return &Store{
		db:          db,
		txOpts:      database.DefaultTxOptions(),
		lockTimeout: defaultLockTimeout,
	}
}

// InTx runs fn in a read-committed transaction, retrying on serialization
// failures and deadlocks. Row lock waits are bounded by lockTimeout; an
// expired wait fails at once with database.ErrLockTimeout and is not retried.
func (s *Store) InTx(ctx context.Context, fn func(tx lifecycle.Tx) error) error {
	return database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
		err := fn(&pgTx{q: tx})
		if database.ClassifyError(err) == database.ErrorClassTransient {
			return fmt.Errorf("%w: %v", database.ErrLockTimeout, err)
		}
		return err
	})
}

// pgTx implements lifecycle.Tx over one open transaction.
type pgTx struct {
	q querier
}

var (
	_ lifecycle.Repository = (*Store)(nil)
	_ lifecycle.Tx         = (*pgTx)(nil)
)
