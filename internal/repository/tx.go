package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// TxManager runs a unit of work inside one local transaction.
type TxManager interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type SQLTxManager struct {
	db *sqlx.DB
}

func NewTxManager(db *sqlx.DB) *SQLTxManager {
	return &SQLTxManager{db: db}
}

// WithTx commits when fn returns nil and rolls back otherwise.
func (m *SQLTxManager) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return withTx(ctx, m.db, nil, fn)
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

// ext returns tx when set, otherwise the pool.
func ext(db *sqlx.DB, tx *sqlx.Tx) sqlx.ExtContext {
	if tx != nil {
		return tx
	}
	return db
}
