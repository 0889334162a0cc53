// Package postgres implements the repository contracts on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

var _ repo.Store = (*Store)(nil)

// NewStore wraps pool. lockTimeout bounds how long a unit waits on row locks;
// zero leaves the server default.
func NewStore(pool *pgxpool.Pool, lockTimeout time.Duration) *Store {
	return &Store{pool: pool, lockTimeout: lockTimeout}
}

func (s *Store) Users() repo.Users                 { return &usersRepo{s.pool} }
func (s *Store) Wallets() repo.Wallets             { return &storeWallets{walletsRepo{q: s.pool}, s} }
func (s *Store) Transactions() repo.TransactionLog { return &transactionsRepo{s.pool} }
func (s *Store) AuditLogs() repo.AuditLogs         { return &auditLogsRepo{s.pool} }
func (s *Store) Close()                            { s.pool.Close() }

func (s *Store) Atomic(ctx context.Context, fn func(repo.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return mapErr(err)
	}
	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return mapErr(err)
		}
	}
	if err := fn(&unit{tx}); err != nil {
		_ = tx.Rollback(ctx)
		return mapErr(err)
	}
	return mapErr(tx.Commit(ctx))
}

// unit binds the repositories to one pgx transaction. Wallet reads through it
// take row locks held until commit.
type unit struct{ tx pgx.Tx }

func (u *unit) Wallets() repo.TxWallets            { return &walletsRepo{q: u.tx, forUpdate: true} }
func (u *unit) Transactions() repo.TransactionLog { return &transactionsRepo{u.tx} }
func (u *unit) AuditLogs() repo.AuditLogs         { return &auditLogsRepo{u.tx} }

func (u *unit) Savepoint(ctx context.Context, fn func(repo.Tx) error) error {
	sp, err := u.tx.Begin(ctx)
	if err != nil {
		return mapErr(err)
	}
	if err := fn(&unit{sp}); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return mapErr(sp.Commit(ctx))
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgLockNotAvailable    = "55P03"
	pgDeadlockDetected    = "40P01"
	pgNumericOverflow     = "22003"
)

// mapErr turns driver errors into the ledger taxonomy. Errors that are already
// classified pass through.
func mapErr(err error) error {
	if err == nil || apperrors.IsKnown(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			switch pgErr.ConstraintName {
			case "transactions_pkey":
				return apperrors.ErrDuplicateReference
			case "transactions_idempotency_key":
				return apperrors.ErrDuplicateIdempotencyKey
			case "users_email_key":
				return apperrors.ErrEmailTaken
			}
		case pgCheckViolation:
			if pgErr.ConstraintName == "wallet_balances_non_negative" {
				return apperrors.ErrInsufficientFunds
			}
		case pgForeignKeyViolation:
			return apperrors.ErrWalletNotFound
		case pgLockNotAvailable, pgDeadlockDetected:
			return apperrors.ErrLockTimeout
		case pgNumericOverflow:
			return apperrors.Validation("amount out of range")
		}
	}
	return apperrors.Storage(err)
}
