package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/baharkarakas/wallet-ledger/internal/apperrors"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
)

type walletsRepo struct {
	q         querier
	forUpdate bool
}

func (r *walletsRepo) Create(ctx context.Context, userID string) (*models.Wallet, error) {
	_, err := r.q.Exec(ctx,
		`INSERT INTO wallets(id, user_id, status)
		 VALUES($1, $2, 'active')
		 ON CONFLICT (user_id) DO NOTHING`,
		uuid.New(), userID,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return r.GetByUserID(ctx, userID)
}

func (r *walletsRepo) GetByUserID(ctx context.Context, userID string) (*models.Wallet, error) {
	var id uuid.UUID
	err := r.q.QueryRow(ctx, `SELECT id FROM wallets WHERE user_id=$1`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrWalletNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return r.GetByWalletID(ctx, id)
}

func (r *walletsRepo) GetByWalletID(ctx context.Context, id uuid.UUID) (*models.Wallet, error) {
	q := `SELECT id, user_id::text, status, COALESCE(pin_hash, ''), created_at, updated_at
	        FROM wallets
	       WHERE id=$1`
	if r.forUpdate {
		q += ` FOR UPDATE`
	}
	w := &models.Wallet{Balances: map[models.Currency]decimal.Decimal{}}
	err := r.q.QueryRow(ctx, q, id).Scan(&w.ID, &w.UserID, &w.Status, &w.PINHash, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrWalletNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}

	rows, err := r.q.Query(ctx, `SELECT currency, amount::text FROM wallet_balances WHERE wallet_id=$1`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var cur, amt string
		if err := rows.Scan(&cur, &amt); err != nil {
			return nil, mapErr(err)
		}
		d, err := decimal.NewFromString(amt)
		if err != nil {
			return nil, apperrors.Storage(err)
		}
		w.Balances[models.Currency(cur)] = d
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}

	if w.Backfill() {
		if err := r.backfill(ctx, id); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// backfill inserts zero rows for currencies added after the wallet was created.
func (r *walletsRepo) backfill(ctx context.Context, id uuid.UUID) error {
	for _, c := range models.SupportedCurrencies() {
		_, err := r.q.Exec(ctx,
			`INSERT INTO wallet_balances(wallet_id, currency, amount)
			 VALUES($1, $2, 0)
			 ON CONFLICT (wallet_id, currency) DO NOTHING`,
			id, string(c),
		)
		if err != nil {
			return mapErr(err)
		}
	}
	return nil
}

// ApplyDelta is a conditional update: the row only changes if the result stays
// non-negative, and the CHECK constraint backs it up.
func (r *walletsRepo) ApplyDelta(ctx context.Context, id uuid.UUID, c models.Currency, delta decimal.Decimal) (decimal.Decimal, error) {
	var amt string
	err := r.q.QueryRow(ctx,
		`UPDATE wallet_balances
		    SET amount = amount + $3::numeric
		  WHERE wallet_id = $1 AND currency = $2
		    AND amount + $3::numeric >= 0
		  RETURNING amount::text`,
		id, string(c), delta.String(),
	).Scan(&amt)
	if errors.Is(err, pgx.ErrNoRows) {
		w, gerr := r.GetByWalletID(ctx, id)
		if gerr != nil {
			return decimal.Zero, gerr
		}
		return w.Balance(c), apperrors.ErrInsufficientFunds
	}
	if err != nil {
		return decimal.Zero, mapErr(err)
	}
	if _, err := r.q.Exec(ctx, `UPDATE wallets SET updated_at=now() WHERE id=$1`, id); err != nil {
		return decimal.Zero, mapErr(err)
	}
	bal, err := decimal.NewFromString(amt)
	if err != nil {
		return decimal.Zero, apperrors.Storage(err)
	}
	return bal, nil
}

func (r *walletsRepo) SetStatus(ctx context.Context, id uuid.UUID, status models.WalletStatus) error {
	return r.exec1(ctx, `UPDATE wallets SET status=$2, updated_at=now() WHERE id=$1`, id, string(status))
}

func (r *walletsRepo) SetPIN(ctx context.Context, id uuid.UUID, pinHash string) error {
	return r.exec1(ctx, `UPDATE wallets SET pin_hash=$2, updated_at=now() WHERE id=$1`, id, pinHash)
}

func (r *walletsRepo) exec1(ctx context.Context, q string, args ...any) error {
	tag, err := r.q.Exec(ctx, q, args...)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrWalletNotFound
	}
	return nil
}

// storeWallets runs ApplyDelta outside a caller's unit in a unit of its own.
type storeWallets struct {
	walletsRepo
	s *Store
}

func (r *storeWallets) ApplyDelta(ctx context.Context, id uuid.UUID, c models.Currency, delta decimal.Decimal) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := r.s.Atomic(ctx, func(tx repo.Tx) error {
		var err error
		bal, err = tx.Wallets().ApplyDelta(ctx, id, c, delta)
		return err
	})
	return bal, err
}
