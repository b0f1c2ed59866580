package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// TxRunner runs fn inside a single database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

// SQLTxRunner commits when fn returns nil and rolls back otherwise.
type SQLTxRunner struct {
	db *sqlx.DB
}

func NewTxRunner(db *sqlx.DB) *SQLTxRunner {
	return &SQLTxRunner{db: db}
}

func (r *SQLTxRunner) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return withTx(ctx, r.db, nil, fn)
}

// withTx runs fn in the provided tx, or starts a new transaction when tx is nil.
func withTx(ctx context.Context, db *sqlx.DB, tx *sqlx.Tx, fn func(*sqlx.Tx) error) error {
	if tx != nil {
		return fn(tx)
	}

	t, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}

	return t.Commit()
}
