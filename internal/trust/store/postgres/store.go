// Package postgres implements the trust ledger store on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-trust/internal/platform/db"
	"github.com/odyssey-erp/odyssey-trust/internal/trust"
)

const (
	sqlStateUniqueViolation    = "23505"
	sqlStateFeatureUnsupported = "0A000"

	constraintLiveAccount = "ux_trust_accounts_live"
	constraintPaymentID   = "ux_trust_transactions_payment"
	constraintSeq         = "uq_trust_transactions_seq"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists trust data. Inside WithinTransaction every call goes through the transaction.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

// New constructs a pool-backed Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, q: pool}
}

// WithinTransaction runs fn in a READ COMMITTED transaction. Row locks taken by LockAccount
// serialize concurrent writers on one account.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, store trust.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	began := false
	err := db.WithTxOptions(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		began = true
		return fn(ctx, &Store{pool: s.pool, q: tx, inTx: true})
	})
	if err != nil && !began && sqlState(err) == sqlStateFeatureUnsupported {
		return fmt.Errorf("%w: %v", trust.ErrTransactionsUnsupported, err)
	}
	return err
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateUniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return trust.ErrNotFound
	}
	return err
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var (
	_ trust.Store      = (*Store)(nil)
	_ trust.Transactor = (*Store)(nil)
)
