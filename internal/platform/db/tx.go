package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
)

type contextKey string

const txKey contextKey = "db_tx"

// Beginner starts a transaction. *pgxpool.Pool satisfies it.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTxContext returns a context carrying tx. Repositories resolve their
// connection through ConnFromContext, so every query issued with this context
// joins the transaction.
func WithTxContext(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// ConnFromContext returns the transaction stored in ctx, or nil.
func ConnFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(txKey).(pgx.Tx)
	return tx
}

// WithTx runs fn inside a transaction. The transaction commits when fn returns
// nil and rolls back otherwise. A context that already carries a transaction
// is reused, so nested calls join the outer unit of work.
func WithTx(ctx context.Context, b Beginner, fn func(ctx context.Context) error) error {
	if ConnFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := b.Begin(ctx)
	if err != nil {
		return apperror.Unavailable("begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(WithTxContext(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperror.Unavailable("commit transaction", err)
	}
	return nil
}

// TxRunner adapts a pool to the InTx interface the domain services depend on.
type TxRunner struct {
	db Beginner
}

func NewTxRunner(b Beginner) *TxRunner { return &TxRunner{db: b} }

func (r *TxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTx(ctx, r.db, fn)
}

// Classify maps a pgx error onto the application error kinds. entity names
// the row being read or written and ends up in the error message.
func Classify(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound(entity)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return apperror.Invalid("%s already exists", entity)
		case "23503":
			return apperror.NotFound(fmt.Sprintf("%s reference", entity))
		case "23514", "22P02":
			return apperror.Invalid("%s violates a constraint", entity)
		}
	}
	return apperror.Unavailable(entity, err)
}
