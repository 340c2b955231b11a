package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txStatusKey = TxContextKey("txStatus")
const txKey = TxContextKey("tx-context-key")

type Tx interface {
	Querier
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction wraps sqlx.Tx and tracks whether it has been closed.
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
	owner    bool
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
		owner:  true,
	}
}

// GetTx joins the transaction already open on ctx or begins a new one.
// Only the caller that began the transaction commits or rolls it back.
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	ctxTx, ok := ctx.Value(txKey).(*Transaction)
	if ok && ctxTx != nil && ctxTx.IsOpen() {
		if status, ok := ctx.Value(txStatusKey).(string); ok && status == "open" {
			return ctx, &Transaction{Tx: ctxTx.Tx, logger: logger}, nil
		}
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction")
	}

	newTx := NewTx(tx, logger)

	ctx = context.WithValue(ctx, txStatusKey, "open")
	ctx = context.WithValue(ctx, txKey, newTx)
	return ctx, newTx, nil
}

func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed || !t.owner {
		return nil
	}

	err := t.Tx.Rollback()
	t.isClosed = true
	if err != nil && err != sql.ErrTxDone {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction")
	}
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed || !t.owner {
		return nil
	}

	err := t.Tx.Commit()
	t.isClosed = true
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction: %w", err)
	}
	return nil
}

// RunInTx runs fn inside a transaction, committing on success and rolling back on error.
func RunInTx(ctx context.Context, db DB, opts *sql.TxOptions, fn func(ctx context.Context, tx Tx) error) error {
	txCtx, tx, err := db.GetTx(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Rollback(txCtx)

	if err := fn(txCtx, tx); err != nil {
		return err
	}
	return tx.Commit(txCtx)
}
